package dispatch

import (
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// Table is the read-only zone to device mapping used while dispatching.
// It is never mutated after BuildTable; configuration changes build a new one.
type Table struct {
	devices map[zone.ID][]string
}

// BuildTable derives a dispatch table from a zone assignment. It never fails;
// zones without devices map to an empty list.
func BuildTable(a zone.Assignment) *Table {
	n := a.Normalize()
	t := &Table{devices: make(map[zone.ID][]string, len(zone.All))}
	for _, id := range zone.All {
		t.devices[id] = n[id]
	}
	return t
}

// Devices returns a copy of the device IDs registered under a zone.
func (t *Table) Devices(id zone.ID) []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.devices[id]...)
}

// Len returns the number of (zone, device) pairs in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, d := range t.devices {
		n += len(d)
	}
	return n
}
