package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// NoneType is the sentinel "from" type for the initial-setup row of the SDST
// matrix, used when a room's sequence is empty.
var NoneType = uuid.Nil

// SDSTEntry is one cell of the sequence-dependent setup time matrix.
type SDSTEntry struct {
	FromTypeID uuid.UUID
	ToTypeID   uuid.UUID
	Minutes    int
}

type typePair struct {
	from uuid.UUID
	to   uuid.UUID
}

// SDSTMatrix resolves setup minutes for a (fromType, toType) transition.
// It is an immutable per-run snapshot and safe for concurrent reads.
type SDSTMatrix struct {
	entries        map[typePair]int
	defaultMinutes int
}

// NewSDSTMatrix builds a matrix from entries. Negative minutes and duplicate
// keys fail construction; missing entries resolve to defaultMinutes.
func NewSDSTMatrix(entries []SDSTEntry, defaultMinutes int) (*SDSTMatrix, error) {
	if defaultMinutes < 0 {
		return nil, fmt.Errorf("%w: negative default setup minutes", ErrInvalidInput)
	}

	m := &SDSTMatrix{
		entries:        make(map[typePair]int, len(entries)),
		defaultMinutes: defaultMinutes,
	}
	for _, e := range entries {
		if e.Minutes < 0 {
			return nil, fmt.Errorf("%w: negative setup minutes for %s->%s", ErrInvalidInput, e.FromTypeID, e.ToTypeID)
		}
		key := typePair{from: e.FromTypeID, to: e.ToTypeID}
		if _, exists := m.entries[key]; exists {
			return nil, fmt.Errorf("%w: duplicate SDST entry for %s->%s", ErrInvalidInput, e.FromTypeID, e.ToTypeID)
		}
		m.entries[key] = e.Minutes
	}
	return m, nil
}

// SetupMinutes returns the setup minutes for the transition fromType ->
// toType. Pass NoneType as fromType for the initial-setup row.
func (m *SDSTMatrix) SetupMinutes(fromType, toType uuid.UUID) int {
	if minutes, ok := m.entries[typePair{from: fromType, to: toType}]; ok {
		return minutes
	}
	return m.defaultMinutes
}

// InitialSetupMinutes returns the setup minutes when toType is the first
// surgery of a room's sequence.
func (m *SDSTMatrix) InitialSetupMinutes(toType uuid.UUID) int {
	return m.SetupMinutes(NoneType, toType)
}

// Len returns the number of explicit matrix entries.
func (m *SDSTMatrix) Len() int { return len(m.entries) }

// DefaultMinutes returns the fallback for missing entries.
func (m *SDSTMatrix) DefaultMinutes() int { return m.defaultMinutes }

// Entries returns the explicit matrix cells, for serialization.
func (m *SDSTMatrix) Entries() []SDSTEntry {
	entries := make([]SDSTEntry, 0, len(m.entries))
	for key, minutes := range m.entries {
		entries = append(entries, SDSTEntry{FromTypeID: key.from, ToTypeID: key.to, Minutes: minutes})
	}
	return entries
}
