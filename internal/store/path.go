package store

import (
	"fmt"
	"strings"
)

// Path addresses a document or a collection, e.g. "sessions/s1/peers/a1".
// Collections have an odd number of segments, documents an even one.
type Path string

func NewPath(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

func (p Path) Child(segments ...string) Path {
	if p == "" {
		return NewPath(segments...)
	}
	return Path(string(p) + "/" + strings.Join(segments, "/"))
}

func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

// ID is the last segment.
func (p Path) ID() string {
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Parent drops the last segment: the collection of a document or the document owning a collection.
func (p Path) Parent() Path {
	s := string(p)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return Path(s[:i])
	}
	return ""
}

func (p Path) IsDocument() bool {
	return len(p.Segments())%2 == 0
}

func (p Path) String() string {
	return string(p)
}

// Validate accepts non-empty segments made of letters, digits, '-', '_' and '='.
// The set is the intersection of what every backend can address.
func (p Path) Validate() error {
	segments := p.Segments()
	if len(segments) == 0 {
		return fmt.Errorf("%w: empty", ErrBadPath)
	}
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrBadPath, string(p))
		}
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case r == '-', r == '_', r == '=':
			default:
				return fmt.Errorf("%w: %q contains %q", ErrBadPath, string(p), r)
			}
		}
	}
	return nil
}

func (p Path) ValidateDocument() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !p.IsDocument() {
		return fmt.Errorf("%w: %q is a collection", ErrBadPath, string(p))
	}
	return nil
}

func (p Path) ValidateCollection() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.IsDocument() {
		return fmt.Errorf("%w: %q is a document", ErrBadPath, string(p))
	}
	return nil
}
