// Package testutil provides shared test utilities for integration tests.
package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bbernstein/hyperion-link-go/internal/database/models"
	"github.com/bbernstein/hyperion-link-go/internal/database/repositories"
	"github.com/bbernstein/hyperion-link-go/pkg/hyperion"
)

// TestDB holds the test database and repositories.
type TestDB struct {
	DB          *gorm.DB
	EntryRepo   *repositories.EntryRepository
	SettingRepo *repositories.SettingRepository
}

// SetupTestDB creates an in-memory SQLite database for testing.
// It returns a TestDB with all repositories initialized and a cleanup function.
func SetupTestDB(t *testing.T) (*TestDB, func()) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	// A single connection keeps every query on the same in-memory database.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	testDB := &TestDB{
		DB:          db,
		EntryRepo:   repositories.NewEntryRepository(db),
		SettingRepo: repositories.NewSettingRepository(db),
	}

	cleanup := func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	}

	return testDB, cleanup
}

// FakeHub is an in-process Hyperion server speaking JSON-RPC over websocket.
type FakeHub struct {
	Server *httptest.Server

	// Hostname is reported in serverinfo replies.
	Hostname string
	// FailServerInfo makes serverinfo replies carry success=false.
	FailServerInfo bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	streams  map[*websocket.Conn]bool
	requests []hyperion.Request
	started  chan struct{}
}

// NewFakeHub starts a fake hub. It is closed when the test ends.
func NewFakeHub(t *testing.T) *FakeHub {
	t.Helper()

	h := &FakeHub{
		Hostname: "fake-hyperion",
		streams:  make(map[*websocket.Conn]bool),
		started:  make(chan struct{}, 16),
	}
	h.Server = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.Close)
	return h
}

// Addr returns the host and port the hub listens on.
func (h *FakeHub) Addr() (string, int) {
	u, _ := url.Parse(h.Server.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// StreamStarted is signalled each time a client starts the LED stream.
func (h *FakeHub) StreamStarted() <-chan struct{} {
	return h.started
}

// Requests returns a copy of every request received so far.
func (h *FakeHub) Requests() []hyperion.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hyperion.Request(nil), h.requests...)
}

// StreamingClients returns how many connections currently have the LED stream on.
func (h *FakeHub) StreamingClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, on := range h.streams {
		if on {
			n++
		}
	}
	return n
}

// PushLEDs sends one LED stream update to every streaming client.
func (h *FakeHub) PushLEDs(leds ...[3]uint8) {
	flat := make([]int, 0, len(leds)*3)
	for _, led := range leds {
		flat = append(flat, int(led[0]), int(led[1]), int(led[2]))
	}
	msg := map[string]interface{}{
		"command": hyperion.CommandLEDStreamUpdate,
		"result":  map[string]interface{}{"leds": flat},
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, on := range h.streams {
		if on {
			_ = conn.WriteJSON(msg)
		}
	}
}

// DropConnections closes every client connection from the server side.
func (h *FakeHub) DropConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = nil
	h.streams = make(map[*websocket.Conn]bool)
}

// Close shuts the fake hub down.
func (h *FakeHub) Close() {
	h.DropConnections()
	h.Server.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *FakeHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.mu.Lock()
			delete(h.streams, conn)
			h.mu.Unlock()
			return
		}
		var req hyperion.Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		h.mu.Lock()
		h.requests = append(h.requests, req)
		switch {
		case req.Command == hyperion.CommandServerInfo:
			_ = conn.WriteJSON(map[string]interface{}{
				"command": hyperion.CommandServerInfo,
				"success": !h.FailServerInfo,
				"tan":     req.Tan,
				"info":    map[string]interface{}{"hostname": h.Hostname},
			})
		case req.Command == hyperion.CommandLEDColors && req.Subcommand == hyperion.SubcommandLEDStreamStart:
			h.streams[conn] = true
			_ = conn.WriteJSON(map[string]interface{}{
				"command": hyperion.CommandLEDColors + "-" + req.Subcommand,
				"success": true,
				"tan":     req.Tan,
			})
			select {
			case h.started <- struct{}{}:
			default:
			}
		case req.Command == hyperion.CommandLEDColors && req.Subcommand == hyperion.SubcommandLEDStreamStop:
			h.streams[conn] = false
		}
		h.mu.Unlock()
	}
}
