package core

import (
	"fmt"
	"math"
	"slices"
)

// FieldMap interns field names into FieldIDs. Ids are assigned in first-seen
// order and never reassigned, so positions written by earlier batches stay
// meaningful.
type FieldMap struct {
	names []string
	ids   map[string]FieldID
}

// NewFieldMap creates a FieldMap from names in id order.
func NewFieldMap(names ...string) *FieldMap {
	fm := &FieldMap{ids: make(map[string]FieldID, len(names))}
	for _, name := range names {
		fm.ids[name] = FieldID(len(fm.names))
		fm.names = append(fm.names, name)
	}
	return fm
}

// ID returns the id of a known field.
func (fm *FieldMap) ID(name string) (FieldID, bool) {
	id, ok := fm.ids[name]
	return id, ok
}

// Name returns the name of a field id.
func (fm *FieldMap) Name(id FieldID) (string, bool) {
	if int(id) >= len(fm.names) {
		return "", false
	}
	return fm.names[id], true
}

// Insert returns the id of name, interning it if needed.
func (fm *FieldMap) Insert(name string) (FieldID, error) {
	if id, ok := fm.ids[name]; ok {
		return id, nil
	}
	if len(fm.names) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %w: field limit reached at %q", ErrValidation, ErrTooManyFields, name)
	}
	id := FieldID(len(fm.names))
	fm.ids[name] = id
	fm.names = append(fm.names, name)
	return id, nil
}

// Names returns all field names in id order.
func (fm *FieldMap) Names() []string {
	return slices.Clone(fm.names)
}

// Len returns the number of interned fields.
func (fm *FieldMap) Len() int {
	return len(fm.names)
}

// Clone returns an independent copy.
func (fm *FieldMap) Clone() *FieldMap {
	return NewFieldMap(fm.names...)
}
