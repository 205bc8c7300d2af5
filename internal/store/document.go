package store

import (
	"encoding/json"
	"fmt"
)

// Fields are the top-level fields of a document, each kept as raw JSON.
type Fields map[string]json.RawMessage

// FieldsOf encodes v (a struct or map) into top-level fields.
func FieldsOf(v interface{}) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	fields := Fields{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("value is not an object: %w", err)
	}

	return fields, nil
}

// MustFields is FieldsOf for values known to encode.
func MustFields(v interface{}) Fields {
	fields, err := FieldsOf(v)
	if err != nil {
		panic(err)
	}
	return fields
}

// Clone returns a copy that shares no map with f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}

	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// MergeInto overlays f on base and returns the result.
func (f Fields) MergeInto(base Fields) Fields {
	out := base.Clone()
	if out == nil {
		out = Fields{}
	}
	for k, v := range f {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (f Fields) Decode(v interface{}) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

type Document struct {
	Path    Path
	Fields  Fields
	Version int64
}

// ID is the last segment of the document path.
func (d Document) ID() string {
	return d.Path.ID()
}

func (d Document) Decode(v interface{}) error {
	return d.Fields.Decode(v)
}

type Snapshot struct {
	Document
	Exists bool
}

type ChangeType int

const (
	Added ChangeType = iota
	Modified
	Removed
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

type Change struct {
	Type     ChangeType
	Document Document
}
