package store

type MutationOp int

const (
	OpNone MutationOp = iota
	OpSet
	OpMerge
	OpDelete
)

// Mutation records what a transaction function asked for. Backends hand it
// to fn as the Tx and commit Result afterwards.
type Mutation struct {
	Current Snapshot
	Op      MutationOp
	Fields  Fields
}

func (m *Mutation) Snapshot() Snapshot {
	return m.Current
}

func (m *Mutation) Set(fields Fields) {
	m.Op = OpSet
	m.Fields = fields.Clone()
}

func (m *Mutation) Merge(fields Fields) {
	switch m.Op {
	case OpSet, OpMerge:
		m.Fields = fields.MergeInto(m.Fields)
	default:
		m.Op = OpMerge
		m.Fields = fields.Clone()
	}
}

func (m *Mutation) Delete() {
	m.Op = OpDelete
	m.Fields = nil
}

// Result is the document state to commit. changed is false when fn asked for nothing.
func (m *Mutation) Result() (fields Fields, exists bool, changed bool) {
	switch m.Op {
	case OpSet:
		return m.Fields, true, true
	case OpMerge:
		if m.Current.Exists {
			return m.Fields.MergeInto(m.Current.Fields), true, true
		}
		return m.Fields.Clone(), true, true
	case OpDelete:
		return nil, false, m.Current.Exists
	}
	return nil, m.Current.Exists, false
}
