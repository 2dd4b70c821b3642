package routing

import (
	"fmt"

	"github.com/ignite/persona-segmentation/internal/domain"
)

// DestinationMap is the static persona -> table binding. It is immutable
// after construction and safe for concurrent use.
type DestinationMap struct {
	ordered   []domain.Destination
	byPersona map[domain.Persona]string
	byTable   map[string]domain.Persona
}

// NewDestinationMap validates that every destination is well formed and
// that personas and tables are in one-to-one correspondence.
func NewDestinationMap(dests []domain.Destination) (*DestinationMap, error) {
	m := &DestinationMap{
		byPersona: make(map[domain.Persona]string, len(dests)),
		byTable:   make(map[string]domain.Persona, len(dests)),
	}
	for _, d := range dests {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, ok := m.byPersona[d.Persona]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePersona, d.Persona)
		}
		if _, ok := m.byTable[d.Table]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTable, d.Table)
		}
		m.byPersona[d.Persona] = d.Table
		m.byTable[d.Table] = d.Persona
		m.ordered = append(m.ordered, d)
	}
	return m, nil
}

// Lookup returns the table for a persona.
func (m *DestinationMap) Lookup(p domain.Persona) (string, bool) {
	t, ok := m.byPersona[p]
	return t, ok
}

// PersonaOf returns the persona stored in a table.
func (m *DestinationMap) PersonaOf(table string) (domain.Persona, bool) {
	p, ok := m.byTable[table]
	return p, ok
}

// Destinations returns the bindings in ladder order.
func (m *DestinationMap) Destinations() []domain.Destination {
	return append([]domain.Destination(nil), m.ordered...)
}

// Personas returns the persona ladder, lowest tier first.
func (m *DestinationMap) Personas() []domain.Persona {
	out := make([]domain.Persona, len(m.ordered))
	for i, d := range m.ordered {
		out[i] = d.Persona
	}
	return out
}

// Tables returns the destination tables in ladder order.
func (m *DestinationMap) Tables() []string {
	out := make([]string, len(m.ordered))
	for i, d := range m.ordered {
		out[i] = d.Table
	}
	return out
}
