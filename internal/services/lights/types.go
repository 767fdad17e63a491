// Package lights lists and actuates the colour lights the dispatcher drives.
package lights

import (
	"context"
	"errors"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// ErrUnknownDevice is returned when no backend owns a device ID.
var ErrUnknownDevice = errors.New("unknown device")

// Light is one addressable light offered for zone assignment.
type Light struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Backend       string `json:"backend"`
	SupportsColor bool   `json:"supportsColor"`
}

// Backend is a light platform that can list and colour its own lights.
type Backend interface {
	Name() string
	// Owns reports whether deviceID belongs to this backend.
	Owns(deviceID string) bool
	ListLights(ctx context.Context) ([]Light, error)
	SetColor(ctx context.Context, deviceID string, color zone.RGB) error
}

// ColorLights filters a light list down to the ones that accept an RGB colour.
func ColorLights(all []Light) []Light {
	out := make([]Light, 0, len(all))
	for _, l := range all {
		if l.SupportsColor {
			out = append(out, l)
		}
	}
	return out
}
