// Package link runs configured entries: one hub stream and one dispatcher per entry.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/bbernstein/hyperion-link-go/internal/database/models"
	"github.com/bbernstein/hyperion-link-go/internal/database/repositories"
	"github.com/bbernstein/hyperion-link-go/internal/services/dispatch"
	"github.com/bbernstein/hyperion-link-go/internal/services/hub"
	"github.com/bbernstein/hyperion-link-go/internal/services/pubsub"
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// DefaultReconnectDelay is the wait between hub connection attempts.
const DefaultReconnectDelay = 5 * time.Second

var (
	// ErrEntryNotFound is returned when no stored entry has the given ID.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrNotLoaded is returned when an entry has no running runtime.
	ErrNotLoaded = errors.New("entry not loaded")
)

// ActiveKey is the settings key holding an entry's dispatcher state.
func ActiveKey(entryID string) string {
	return fmt.Sprintf("dispatcher.%s.active", entryID)
}

// Options configures a Service.
type Options struct {
	// CallTimeout bounds each SetColor call. Zero uses dispatch.DefaultCallTimeout.
	CallTimeout time.Duration
	// ReconnectDelay is the wait after a failed or dropped hub stream.
	ReconnectDelay time.Duration
	// PubSub receives frame and status events. Optional.
	PubSub *pubsub.PubSub
}

// Status describes a loaded entry.
type Status struct {
	EntryID   string         `json:"entryId"`
	Hostname  string         `json:"hostname"`
	Connected bool           `json:"connected"`
	Active    bool           `json:"active"`
	LastError string         `json:"lastError,omitempty"`
	Stats     dispatch.Stats `json:"stats"`
}

// Runtime is the live state of one entry.
type Runtime struct {
	entryID    string
	hostname   string
	layout     zone.Weights
	client     *hub.Client
	dispatcher *dispatch.Dispatcher

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	connected bool
	lastErr   error
}

func (r *Runtime) setConnected(connected bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
	r.lastErr = err
}

func (r *Runtime) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		EntryID:   r.entryID,
		Hostname:  r.hostname,
		Connected: r.connected,
		Active:    r.dispatcher.Active(),
		Stats:     r.dispatcher.Stats(),
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

// Service owns the runtimes of all loaded entries.
type Service struct {
	entries        *repositories.EntryRepository
	settings       *repositories.SettingRepository
	actuator       dispatch.Actuator
	pubsub         *pubsub.PubSub
	callTimeout    time.Duration
	reconnectDelay time.Duration

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewService creates a Service. Nothing runs until Setup or SetupAll.
func NewService(entries *repositories.EntryRepository, settings *repositories.SettingRepository, actuator dispatch.Actuator, opts Options) *Service {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &Service{
		entries:        entries,
		settings:       settings,
		actuator:       actuator,
		pubsub:         opts.PubSub,
		callTimeout:    opts.CallTimeout,
		reconnectDelay: delay,
		runtimes:       make(map[string]*Runtime),
	}
}

// SetupAll loads every stored entry. Entries that fail are logged and skipped.
func (s *Service) SetupAll(ctx context.Context) (int, error) {
	entries, err := s.entries.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list entries: %w", err)
	}
	loaded := 0
	for i := range entries {
		if err := s.Setup(ctx, &entries[i]); err != nil {
			log.Printf("[link] Failed to set up %s (%s): %v", entries[i].ID, entries[i].Hostname, err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Setup builds the dispatcher for an entry and starts streaming from its hub in
// the background. An entry that is already loaded is replaced.
func (s *Service) Setup(ctx context.Context, entry *models.LinkEntry) error {
	if entry == nil || entry.ID == "" {
		return errors.New("entry with an ID is required")
	}
	if err := entry.LEDAssignment.Validate(); err != nil {
		return fmt.Errorf("entry %s: %w", entry.ID, err)
	}
	if entry.LEDAssignment.Total() < 1 {
		return fmt.Errorf("entry %s has no LEDs assigned", entry.ID)
	}
	s.Unload(entry.ID)

	active := true
	if s.settings != nil {
		v, err := s.settings.GetBool(ctx, ActiveKey(entry.ID), true)
		if err != nil {
			return fmt.Errorf("failed to read dispatcher state: %w", err)
		}
		active = v
	}

	entryID := entry.ID
	d := dispatch.New(s.actuator, dispatch.BuildTable(entry.Lights), dispatch.Options{
		Name:        entry.Hostname,
		CallTimeout: s.callTimeout,
		OnFrame: func(frame zone.ColorFrame) {
			if s.pubsub != nil {
				s.pubsub.PublishFrame(entryID, frame)
			}
		},
	})
	if active {
		d.Start()
	}

	layout := make(zone.Weights, len(entry.LEDAssignment))
	for id, w := range entry.LEDAssignment {
		layout[id] = w
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		entryID:    entry.ID,
		hostname:   entry.Hostname,
		layout:     layout,
		client:     hub.NewClient(entry.IPAddr, entry.Port),
		dispatcher: d,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.runtimes[entry.ID] = r
	s.mu.Unlock()

	go s.run(runCtx, r)
	log.Printf("[link] Set up %s (%s) at %s", entry.ID, entry.Hostname, r.client.URL())
	return nil
}

// run keeps the hub stream open until ctx is cancelled.
func (s *Service) run(ctx context.Context, r *Runtime) {
	defer close(r.done)

	for {
		sub, err := r.client.Subscribe(ctx, r.layout, r.dispatcher.HandleFrame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[link] %s: cannot reach hub, retrying in %v: %v", r.hostname, s.reconnectDelay, err)
			r.setConnected(false, err)
			s.publishStatus(r)
		} else {
			r.setConnected(true, nil)
			s.publishStatus(r)

			select {
			case <-ctx.Done():
				_ = sub.Close()
				r.setConnected(false, nil)
				return
			case <-sub.Done():
				_ = sub.Close()
				r.setConnected(false, sub.Err())
				s.publishStatus(r)
				log.Printf("[link] %s: stream lost, reconnecting in %v", r.hostname, s.reconnectDelay)
			}
		}

		timer := time.NewTimer(s.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Unload disconnects an entry's hub and drops its runtime. Calls already in
// flight finish on their own. It reports whether the entry was loaded.
func (s *Service) Unload(id string) bool {
	s.mu.Lock()
	r, ok := s.runtimes[id]
	delete(s.runtimes, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	r.dispatcher.Stop()
	r.cancel()
	<-r.done
	s.publishStatus(r)
	log.Printf("[link] Unloaded %s (%s)", id, r.hostname)
	return true
}

// Start resumes dispatching for an entry and remembers it across restarts.
// An entry that is not loaded is loaded first.
func (s *Service) Start(ctx context.Context, id string) (Status, error) {
	if s.runtime(id) == nil {
		entry, err := s.entries.FindByID(ctx, id)
		if err != nil {
			return Status{}, err
		}
		if entry == nil {
			return Status{}, ErrEntryNotFound
		}
		if err := s.Setup(ctx, entry); err != nil {
			return Status{}, err
		}
	}
	return s.setActive(ctx, id, true)
}

// Stop pauses dispatching for an entry and remembers it across restarts.
// The hub stream stays open.
func (s *Service) Stop(ctx context.Context, id string) (Status, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (Status, error) {
	r := s.runtime(id)
	if r == nil {
		return Status{}, ErrNotLoaded
	}
	if active {
		r.dispatcher.Start()
	} else {
		r.dispatcher.Stop()
	}
	if s.settings != nil {
		if _, err := s.settings.Upsert(ctx, ActiveKey(id), fmt.Sprintf("%t", active)); err != nil {
			return r.status(), fmt.Errorf("failed to persist dispatcher state: %w", err)
		}
	}
	s.publishStatus(r)
	return r.status(), nil
}

// UpdateLights stores a new zone assignment for an entry and applies it to the
// running dispatcher.
func (s *Service) UpdateLights(ctx context.Context, id string, lights zone.Assignment) (*models.LinkEntry, error) {
	entry, err := s.entries.UpdateLights(ctx, id, lights)
	if err != nil {
		return nil, fmt.Errorf("failed to update lights: %w", err)
	}
	if entry == nil {
		return nil, ErrEntryNotFound
	}
	if r := s.runtime(id); r != nil {
		r.dispatcher.SwapTable(dispatch.BuildTable(entry.Lights))
		log.Printf("[link] %s: lights updated (%d device mappings)", r.hostname, r.dispatcher.Table().Len())
	}
	return entry, nil
}

// ReloadEntry re-reads an entry and swaps its dispatch table. Frames already
// being dispatched finish with the old table.
func (s *Service) ReloadEntry(ctx context.Context, id string) error {
	entry, err := s.entries.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrEntryNotFound
	}
	r := s.runtime(id)
	if r == nil {
		return ErrNotLoaded
	}
	r.dispatcher.SwapTable(dispatch.BuildTable(entry.Lights))
	return nil
}

// Remove unloads an entry and deletes it with its settings.
func (s *Service) Remove(ctx context.Context, id string) error {
	entry, err := s.entries.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrEntryNotFound
	}
	s.Unload(id)
	if err := s.entries.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if s.settings != nil {
		if err := s.settings.Delete(ctx, ActiveKey(id)); err != nil {
			log.Printf("[link] Failed to delete dispatcher state for %s: %v", id, err)
		}
	}
	return nil
}

// Status returns the state of a loaded entry.
func (s *Service) Status(id string) (Status, bool) {
	r := s.runtime(id)
	if r == nil {
		return Status{}, false
	}
	return r.status(), true
}

// Statuses returns the state of every loaded entry, ordered by entry ID.
func (s *Service) Statuses() []Status {
	s.mu.Lock()
	list := make([]*Runtime, 0, len(s.runtimes))
	for _, r := range s.runtimes {
		list = append(list, r)
	}
	s.mu.Unlock()

	out := make([]Status, len(list))
	for i, r := range list {
		out[i] = r.status()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// Shutdown unloads every entry.
func (s *Service) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.runtimes))
	for id := range s.runtimes {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Unload(id)
	}
}

func (s *Service) runtime(id string) *Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimes[id]
}

func (s *Service) publishStatus(r *Runtime) {
	if s.pubsub == nil {
		return
	}
	st := r.status()
	s.pubsub.PublishStatus(pubsub.StatusEvent{
		EntryID:   st.EntryID,
		Connected: st.Connected,
		Active:    st.Active,
		Error:     st.LastError,
	})
}
