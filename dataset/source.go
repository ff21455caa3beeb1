package dataset

import (
	"github.com/google/uuid"

	"github.com/flowml/flowml/pkg/errors"
)

// Source resolves a dataset reference into a Table. A reference is either a
// sample dataset key ("iris", "blobs", ...) or the UUID of a user-uploaded
// dataset owned by the ingestion collaborator.
type Source interface {
	Resolve(ref string, targetColumn string) (*Table, error)
}

// MemorySource serves tables registered in memory, keyed by sample name or
// UUID. It backs tests and the built-in sample datasets; the production
// ingestion layer provides its own Source.
type MemorySource struct {
	tables map[string]*Table
}

// NewMemorySource creates a MemorySource preloaded with the built-in
// sample datasets.
func NewMemorySource() *MemorySource {
	s := &MemorySource{tables: make(map[string]*Table)}
	s.tables["iris"] = SampleIris()
	s.tables["blobs"] = SampleBlobs()
	s.tables["linear"] = SampleLinear()
	return s
}

// Register adds a table under a fresh UUID and returns the id.
func (s *MemorySource) Register(t *Table) string {
	id := uuid.NewString()
	s.tables[id] = t
	return id
}

// RegisterKey adds a table under an explicit key.
func (s *MemorySource) RegisterKey(key string, t *Table) {
	s.tables[key] = t
}

// Resolve returns the table for ref, retargeted to targetColumn when given.
func (s *MemorySource) Resolve(ref string, targetColumn string) (*Table, error) {
	t, ok := s.tables[ref]
	if !ok {
		return nil, errors.NewNotFoundError("dataset", ref)
	}
	if targetColumn == "" || targetColumn == t.TargetName() {
		return t, nil
	}
	return t.Retarget(targetColumn)
}

// Retarget returns a new Table whose target is the named column, moving the
// previous target (if any) back into the feature set.
func (t *Table) Retarget(name string) (*Table, error) {
	cols := t.Columns()
	var target *Column
	kept := cols[:0]
	for _, c := range cols {
		if c.Name == name {
			cc := c
			target = &cc
			continue
		}
		kept = append(kept, c)
	}
	if target == nil {
		return nil, errors.NewNotFoundError("column", name)
	}
	if prev, ok := t.Target(); ok {
		kept = append(kept, prev)
	}
	next, err := New(kept, target)
	if err != nil {
		return nil, err
	}
	next.meta = t.Metadata()
	return next, nil
}
