// Package wizard implements the multi-step setup flow that produces a link entry.
//
// A flow walks connection -> zones -> weights. Every step either advances,
// shows itself again with an error code, or ends the flow. Sessions live only
// in memory; an abandoned flow never produces an entry.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	"github.com/bbernstein/hyperion-link-go/internal/database/models"
	"github.com/bbernstein/hyperion-link-go/internal/services/lights"
	"github.com/bbernstein/hyperion-link-go/internal/services/validator"
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// StepID names a wizard step.
type StepID string

const (
	StepConnection StepID = "connection"
	StepZones      StepID = "zones"
	StepWeights    StepID = "weights"
)

// ResultType tells the caller what to do with a StepResult.
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultAbort       ResultType = "abort"
	ResultCreateEntry ResultType = "create_entry"
)

// Error codes shown with a re-presented form, and abort reasons.
const (
	ErrorInvalidIP        = "invalid_ip"
	ErrorInvalidPort      = "invalid_port"
	ErrorCannotConnect    = "cannot_connect"
	ErrorUnknown          = "unknown"
	ErrorNoLightsEntered  = "no_lights_entered"
	ErrorInvalidLight     = "invalid_light"
	ErrorNoLightsAssigned = "no_lights_assigned"
	ErrorInvalidWeight    = "invalid_weight"

	AbortNoLightsFound = "no_lights_found"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 15 * time.Minute

// ErrSessionNotFound is returned for unknown, finished or expired flow IDs.
var ErrSessionNotFound = errors.New("setup session not found")

// Validator checks connection settings and returns the server hostname.
type Validator interface {
	Validate(ctx context.Context, host string, port int) (string, error)
}

// Inventory lists the lights that can be assigned to zones.
type Inventory interface {
	ListLights(ctx context.Context) ([]lights.Light, error)
}

// Persister stores a finished setup.
type Persister interface {
	SaveEntry(ctx context.Context, cfg zone.FinishedConfig) (*models.LinkEntry, error)
}

// StepResult is what the caller renders after a step.
type StepResult struct {
	FlowID string            `json:"flow_id"`
	Type   ResultType        `json:"type"`
	StepID StepID            `json:"step_id,omitempty"`
	Schema []Field           `json:"schema,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Title  string            `json:"title,omitempty"`
	Entry  *models.LinkEntry `json:"entry,omitempty"`
}

// Session accumulates the answers of one setup attempt.
type Session struct {
	mu sync.Mutex

	id      string
	step    StepID
	touched time.Time

	hostname   string
	connection zone.ConnectionConfig
	available  []lights.Light
	lights     zone.Assignment
	weights    zone.Weights

	// last connection answers, kept as form defaults
	connectionInput Input
}

// Options configures a Manager.
type Options struct {
	// SessionTTL drops sessions idle for longer. Zero uses DefaultSessionTTL.
	SessionTTL time.Duration
	// OnCreate runs after an entry has been persisted.
	OnCreate func(entry *models.LinkEntry)
}

// Manager owns the live setup sessions.
type Manager struct {
	validator Validator
	inventory Inventory
	persister Persister
	onCreate  func(*models.LinkEntry)
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(v Validator, inv Inventory, p Persister, opts Options) *Manager {
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		validator: v,
		inventory: inv,
		persister: p,
		onCreate:  opts.OnCreate,
		ttl:       ttl,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// Begin starts a new session and returns the connection form.
func (m *Manager) Begin() StepResult {
	s := &Session{
		id:      cuid.New(),
		step:    StepConnection,
		touched: m.now(),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	return s.form(nil)
}

// Step shows the current step when input is nil, otherwise submits input to it.
func (m *Manager) Step(ctx context.Context, flowID string, input Input) (StepResult, error) {
	s := m.session(flowID)
	if s == nil {
		return StepResult{}, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have finished while we waited for its lock.
	if m.session(flowID) == nil {
		return StepResult{}, ErrSessionNotFound
	}
	s.touched = m.now()

	if input == nil {
		return s.form(nil), nil
	}

	switch s.step {
	case StepConnection:
		return m.stepConnection(ctx, s, input), nil
	case StepZones:
		return m.stepZones(s, input), nil
	case StepWeights:
		return m.stepWeights(ctx, s, input), nil
	}
	return StepResult{}, fmt.Errorf("session %s is in unknown step %q", flowID, s.step)
}

// Abandon drops a session. It reports whether the session existed.
func (m *Manager) Abandon(flowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[flowID]; !ok {
		return false
	}
	delete(m.sessions, flowID)
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many were dropped.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			continue // busy, so not idle
		}
		idle := s.touched.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps expired sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Printf("[wizard] Dropped %d expired setup session(s)", n)
			}
		}
	}
}

func (m *Manager) session(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) finish(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}

func (s *Session) form(errs map[string]string) StepResult {
	res := StepResult{FlowID: s.id, Type: ResultForm, StepID: s.step, Errors: errs}
	switch s.step {
	case StepConnection:
		res.Schema = connectionSchema(s.connectionInput)
	case StepZones:
		res.Schema = zonesSchema(s.available, s.lights)
	case StepWeights:
		res.Schema = weightsSchema(s.weights)
	}
	return res
}

func baseError(code string) map[string]string {
	return map[string]string{"base": code}
}

func (m *Manager) stepConnection(ctx context.Context, s *Session, input Input) StepResult {
	s.connectionInput = Input{}
	for _, k := range []string{"host", "port", "access_key"} {
		if v, ok := input[k]; ok {
			s.connectionInput[k] = v
		}
	}

	// Malformed values fall through as out-of-range ones so the validator
	// decides which error wins.
	host, _ := asString(input["host"])
	port, ok := asInt(input["port"])
	if !ok {
		port = 0
	}
	accessKey, _ := asString(input["access_key"])

	hostname, err := m.validator.Validate(ctx, host, port)
	if err != nil {
		code := ErrorUnknown
		switch {
		case errors.Is(err, validator.ErrInvalidIP):
			code = ErrorInvalidIP
		case errors.Is(err, validator.ErrInvalidPort):
			code = ErrorInvalidPort
		case errors.Is(err, validator.ErrCannotConnect):
			code = ErrorCannotConnect
		default:
			log.Printf("[wizard] %s: unexpected error validating %s:%d: %v", s.id, host, port, err)
		}
		return s.form(baseError(code))
	}

	all, err := m.inventory.ListLights(ctx)
	if err != nil {
		log.Printf("[wizard] %s: unexpected error listing lights: %v", s.id, err)
		return s.form(baseError(ErrorUnknown))
	}
	available := lights.ColorLights(all)
	if len(available) == 0 {
		m.finish(s)
		log.Printf("[wizard] %s: aborted, no colour lights found", s.id)
		return StepResult{FlowID: s.id, Type: ResultAbort, Reason: AbortNoLightsFound}
	}

	s.hostname = hostname
	s.connection = zone.ConnectionConfig{Host: host, Port: port, AccessKey: accessKey}
	s.available = available
	s.step = StepZones
	return s.form(nil)
}

func (m *Manager) stepZones(s *Session, input Input) StepResult {
	offered := make(map[string]bool, len(s.available))
	for _, l := range s.available {
		offered[l.ID] = true
	}

	assignment := make(zone.Assignment, len(zone.All))
	for _, id := range zone.All {
		devices, ok := asDevices(input[string(id)])
		if !ok {
			return s.form(map[string]string{string(id): ErrorInvalidLight})
		}
		for _, d := range devices {
			if !offered[d] {
				return s.form(map[string]string{string(id): ErrorInvalidLight})
			}
		}
		assignment[id] = devices
	}
	assignment = assignment.Normalize()
	s.lights = assignment

	if len(assignment.Devices()) == 0 {
		return s.form(baseError(ErrorNoLightsEntered))
	}

	s.step = StepWeights
	return s.form(nil)
}

func (m *Manager) stepWeights(ctx context.Context, s *Session, input Input) StepResult {
	weights := make(zone.Weights, len(zone.All))
	for _, id := range zone.All {
		raw, present := input[string(id)]
		if !present {
			weights[id] = 1
			continue
		}
		w, ok := asInt(raw)
		if !ok || w < 0 || w > zone.MaxWeight {
			return s.form(map[string]string{string(id): ErrorInvalidWeight})
		}
		weights[id] = w
	}
	s.weights = weights

	if weights.Total() < 1 {
		return s.form(baseError(ErrorNoLightsAssigned))
	}

	cfg := zone.FinishedConfig{
		Hostname:      s.hostname,
		Connection:    s.connection,
		Lights:        s.lights,
		LEDAssignment: weights,
	}
	entry, err := m.persister.SaveEntry(ctx, cfg)
	if err != nil {
		log.Printf("[wizard] %s: failed to save entry for %s: %v", s.id, s.hostname, err)
		return s.form(baseError(ErrorUnknown))
	}

	m.finish(s)
	log.Printf("[wizard] %s: created entry %s for %s", s.id, entry.ID, entry.Hostname)
	if m.onCreate != nil {
		m.onCreate(entry)
	}
	return StepResult{FlowID: s.id, Type: ResultCreateEntry, Title: s.hostname, Entry: entry}
}
