package lights

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// Router merges several backends into one inventory and sends each SetColor
// to the backend that owns the device.
type Router struct {
	backends []Backend
}

// NewRouter creates a router over the given backends. Nil backends are skipped.
func NewRouter(backends ...Backend) *Router {
	r := &Router{}
	for _, b := range backends {
		if b != nil {
			r.backends = append(r.backends, b)
		}
	}
	return r
}

// Backends returns the names of the configured backends.
func (r *Router) Backends() []string {
	names := make([]string, len(r.backends))
	for i, b := range r.backends {
		names[i] = b.Name()
	}
	return names
}

// ListLights lists the lights of every backend. A failing backend is logged
// and skipped; an error is returned only when every backend fails.
func (r *Router) ListLights(ctx context.Context) ([]Light, error) {
	var (
		all  []Light
		errs []error
	)
	for _, b := range r.backends {
		list, err := b.ListLights(ctx)
		if err != nil {
			log.Printf("[lights] %s: %v", b.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		all = append(all, list...)
	}
	if len(r.backends) > 0 && len(errs) == len(r.backends) {
		return nil, errors.Join(errs...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// SetColor implements dispatch.Actuator.
func (r *Router) SetColor(ctx context.Context, deviceID string, color zone.RGB) error {
	for _, b := range r.backends {
		if b.Owns(deviceID) {
			return b.SetColor(ctx, deviceID, color)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
}
