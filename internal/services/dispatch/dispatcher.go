// Package dispatch fans zone colour frames out to per-device actuation calls.
package dispatch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// DefaultCallTimeout bounds a single SetColor call.
const DefaultCallTimeout = 2 * time.Second

// Actuator sets the colour of one device.
type Actuator interface {
	SetColor(ctx context.Context, deviceID string, color zone.RGB) error
}

// Options configures a Dispatcher.
type Options struct {
	// Name labels log lines, usually the hub hostname.
	Name string
	// CallTimeout bounds each SetColor call. Zero uses DefaultCallTimeout.
	CallTimeout time.Duration
	// OnFrame, when set, is called with every frame that was dispatched.
	OnFrame func(zone.ColorFrame)
}

// Dispatcher drives devices from colour frames using a dispatch table.
type Dispatcher struct {
	actuator    Actuator
	name        string
	callTimeout time.Duration
	onFrame     func(zone.ColorFrame)

	table  atomic.Pointer[Table]
	active atomic.Bool

	// tracks in-flight calls so tests and shutdown can wait for them
	inflight sync.WaitGroup

	frames atomic.Uint64
	calls  atomic.Uint64
	errors atomic.Uint64
}

// New creates a stopped dispatcher.
func New(actuator Actuator, table *Table, opts Options) *Dispatcher {
	if table == nil {
		table = BuildTable(nil)
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	d := &Dispatcher{
		actuator:    actuator,
		name:        opts.Name,
		callTimeout: timeout,
		onFrame:     opts.OnFrame,
	}
	d.table.Store(table)
	return d
}

// Start enables actuation. It is a no-op when already active.
func (d *Dispatcher) Start() {
	if d.active.CompareAndSwap(false, true) {
		log.Printf("[dispatch] %s: started (%d device mappings)", d.name, d.Table().Len())
	}
}

// Stop disables actuation for frames received from now on. Calls already in
// flight are left to finish.
func (d *Dispatcher) Stop() {
	if d.active.CompareAndSwap(true, false) {
		log.Printf("[dispatch] %s: stopped", d.name)
	}
}

// Active reports whether frames are currently dispatched.
func (d *Dispatcher) Active() bool {
	return d.active.Load()
}

// Table returns the current dispatch table.
func (d *Dispatcher) Table() *Table {
	return d.table.Load()
}

// SwapTable atomically replaces the dispatch table.
func (d *Dispatcher) SwapTable(t *Table) {
	if t == nil {
		t = BuildTable(nil)
	}
	d.table.Store(t)
}

// HandleFrame issues one SetColor call per device mapped to each zone in the
// frame. It never blocks on the devices: every call runs on its own goroutine
// and failures are only logged.
func (d *Dispatcher) HandleFrame(frame zone.ColorFrame) {
	if !d.active.Load() {
		return
	}
	d.frames.Add(1)

	table := d.table.Load()
	for id, color := range frame {
		for _, deviceID := range table.devices[id] {
			d.inflight.Add(1)
			d.calls.Add(1)
			go d.setColor(deviceID, color)
		}
	}

	if d.onFrame != nil {
		d.onFrame(frame)
	}
}

func (d *Dispatcher) setColor(deviceID string, color zone.RGB) {
	defer d.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			d.errors.Add(1)
			log.Printf("[dispatch] %s: SetColor %s panicked: %v", d.name, deviceID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer cancel()

	if err := d.actuator.SetColor(ctx, deviceID, color); err != nil {
		d.errors.Add(1)
		log.Printf("[dispatch] %s: SetColor %s %s failed: %v", d.name, deviceID, color, err)
	}
}

// Wait blocks until every call issued so far has returned.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Active bool   `json:"active"`
	Frames uint64 `json:"frames"`
	Calls  uint64 `json:"calls"`
	Errors uint64 `json:"errors"`
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Active: d.active.Load(),
		Frames: d.frames.Load(),
		Calls:  d.calls.Load(),
		Errors: d.errors.Load(),
	}
}
