// Package zone defines the display zones, colours and zone mappings shared by
// the setup wizard, the hub client and the dispatcher.
package zone

import (
	"errors"
	"fmt"
	"sort"
)

// ID identifies one edge of the captured display.
type ID string

const (
	Left   ID = "left"
	Top    ID = "top"
	Right  ID = "right"
	Bottom ID = "bottom"
)

// All lists every zone in LED stream order.
var All = []ID{Left, Top, Right, Bottom}

// Valid reports whether id is one of the four known zones.
func (id ID) Valid() bool {
	switch id {
	case Left, Top, Right, Bottom:
		return true
	}
	return false
}

// Parse converts a string into a zone ID.
func Parse(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("unknown zone %q", s)
	}
	return id, nil
}

// RGB is an 8-bit per channel colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Array returns the colour as [r, g, b], the shape Home Assistant expects for rgb_color.
func (c RGB) Array() [3]uint8 {
	return [3]uint8{c.R, c.G, c.B}
}

func (c RGB) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.R, c.G, c.B)
}

// ColorFrame is one snapshot of zone colours received from the hub.
type ColorFrame map[ID]RGB

// Assignment maps each zone to the set of device IDs it drives.
type Assignment map[ID][]string

// Normalize returns a copy with duplicates removed, device lists sorted and
// unknown zones dropped.
func (a Assignment) Normalize() Assignment {
	out := make(Assignment, len(All))
	for _, id := range All {
		seen := make(map[string]bool)
		devices := []string{}
		for _, d := range a[id] {
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			devices = append(devices, d)
		}
		sort.Strings(devices)
		out[id] = devices
	}
	return out
}

// Devices returns the sorted union of all assigned device IDs.
func (a Assignment) Devices() []string {
	seen := make(map[string]bool)
	var devices []string
	for _, list := range a {
		for _, d := range list {
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			devices = append(devices, d)
		}
	}
	sort.Strings(devices)
	return devices
}

// MaxWeight is the largest LED count accepted for one zone.
const MaxWeight = 65535

// ErrWeightOutOfRange is returned for a zone weight below 0 or above MaxWeight.
var ErrWeightOutOfRange = errors.New("zone weight out of range")

// Weights holds the relative LED count of each zone.
type Weights map[ID]int

// DefaultWeights gives every zone a weight of one.
func DefaultWeights() Weights {
	w := make(Weights, len(All))
	for _, id := range All {
		w[id] = 1
	}
	return w
}

// Weight returns the weight of one zone clamped to [0, MaxWeight].
func (w Weights) Weight(id ID) int {
	v := w[id]
	if v < 0 {
		return 0
	}
	if v > MaxWeight {
		return MaxWeight
	}
	return v
}

// Total sums the clamped weights of the known zones. It cannot overflow.
func (w Weights) Total() int {
	total := 0
	for _, id := range All {
		total += w.Weight(id)
	}
	return total
}

// Validate reports the first known zone whose weight is out of range.
func (w Weights) Validate() error {
	for _, id := range All {
		if v := w[id]; v < 0 || v > MaxWeight {
			return fmt.Errorf("%w: %s=%d", ErrWeightOutOfRange, id, v)
		}
	}
	return nil
}

// ConnectionConfig is how to reach a Hyperion server.
type ConnectionConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// AccessKey is captured during setup but not used for authentication yet.
	AccessKey string `json:"access_key,omitempty"`
}

// FinishedConfig is the result of a completed setup.
type FinishedConfig struct {
	Hostname      string           `json:"hostname"`
	Connection    ConnectionConfig `json:"connection"`
	Lights        Assignment       `json:"lights"`
	LEDAssignment Weights          `json:"led_assignment"`
}
