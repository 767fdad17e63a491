package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/hyperion-link-go/internal/database/models"
	"github.com/bbernstein/hyperion-link-go/internal/services/hub"
	"github.com/bbernstein/hyperion-link-go/internal/services/lights"
	"github.com/bbernstein/hyperion-link-go/internal/services/link"
	"github.com/bbernstein/hyperion-link-go/internal/services/pubsub"
	"github.com/bbernstein/hyperion-link-go/internal/services/testutil"
	"github.com/bbernstein/hyperion-link-go/internal/services/validator"
	"github.com/bbernstein/hyperion-link-go/internal/services/wizard"
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
	"github.com/bbernstein/hyperion-link-go/pkg/hyperion"
)

type staticInventory struct {
	mu     sync.Mutex
	lights []lights.Light
	err    error
}

func (s *staticInventory) ListLights(ctx context.Context) ([]lights.Light, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lights, s.err
}

func (s *staticInventory) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type countingActuator struct {
	mu    sync.Mutex
	calls map[string]zone.RGB
}

func (a *countingActuator) SetColor(ctx context.Context, deviceID string, color zone.RGB) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[deviceID] = color
	return nil
}

func (a *countingActuator) get(deviceID string) (zone.RGB, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.calls[deviceID]
	return c, ok
}

type fixture struct {
	server    *httptest.Server
	hub       *testutil.FakeHub
	db        *testutil.TestDB
	links     *link.Service
	pubsub    *pubsub.PubSub
	inventory *staticInventory
	actuator  *countingActuator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	testDB, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	f := &fixture{
		hub:    testutil.NewFakeHub(t),
		db:     testDB,
		pubsub: pubsub.New(),
		inventory: &staticInventory{lights: []lights.Light{
			{ID: "light.a", Name: "A", Backend: "homeassistant", SupportsColor: true},
			{ID: "light.b", Name: "B", Backend: "homeassistant", SupportsColor: true},
			{ID: "light.dim", Name: "Dimmer", Backend: "homeassistant"},
		}},
		actuator: &countingActuator{calls: make(map[string]zone.RGB)},
	}
	f.links = link.NewService(testDB.EntryRepo, testDB.SettingRepo, f.actuator, link.Options{
		ReconnectDelay: 50 * time.Millisecond,
		PubSub:         f.pubsub,
	})
	t.Cleanup(f.links.Shutdown)

	v := validator.New(func(ctx context.Context, host string, port int) (*hyperion.ServerInfo, error) {
		return hub.NewClient(host, port).GetServerInfo(ctx)
	}, 2*time.Second)
	manager := wizard.NewManager(v, f.inventory, testDB.EntryRepo, wizard.Options{
		OnCreate: func(e *models.LinkEntry) {
			if err := f.links.Setup(context.Background(), e); err != nil {
				t.Errorf("setup after create: %v", err)
			}
		},
	})

	router := NewRouter(Deps{
		Wizard:    manager,
		Links:     f.links,
		Entries:   testDB.EntryRepo,
		Inventory: f.inventory,
		PubSub:    f.pubsub,
	}, Options{})
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (f *fixture) step(t *testing.T, method, path string, body interface{}) (int, wizard.StepResult) {
	t.Helper()
	status, data := f.do(t, method, path, body)
	var res wizard.StepResult
	if status < 300 {
		require.NoError(t, json.Unmarshal(data, &res), string(data))
	}
	return status, res
}

// storeEntry saves an entry for the fake hub without loading it.
func (f *fixture) storeEntry(t *testing.T) *models.LinkEntry {
	t.Helper()
	host, port := f.hub.Addr()
	entry, err := f.db.EntryRepo.SaveEntry(context.Background(), zone.FinishedConfig{
		Hostname:      "fake-hyperion",
		Connection:    zone.ConnectionConfig{Host: host, Port: port},
		Lights:        zone.Assignment{zone.Left: {"light.a"}},
		LEDAssignment: zone.DefaultWeights(),
	})
	require.NoError(t, err)
	return entry
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	return body.Error
}

func TestFlow_CreatesAndLoadsEntry(t *testing.T) {
	f := newFixture(t)
	host, port := f.hub.Addr()

	status, res := f.step(t, http.MethodPost, "/api/flows", nil)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, wizard.StepConnection, res.StepID)
	flow := "/api/flows/" + res.FlowID

	status, res = f.step(t, http.MethodGet, flow, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, wizard.StepConnection, res.StepID)

	status, res = f.step(t, http.MethodPost, flow, map[string]interface{}{"host": host, "port": port})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, wizard.StepZones, res.StepID, "errors: %v", res.Errors)
	require.Len(t, res.Schema, 4)
	assert.Len(t, res.Schema[0].Options, 2, "only colour lights are offered")

	status, res = f.step(t, http.MethodPost, flow, map[string]interface{}{"left": []string{"light.a"}, "right": "light.b"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, wizard.StepWeights, res.StepID)

	status, res = f.step(t, http.MethodPost, flow, map[string]interface{}{"left": 1, "top": 1, "right": 1, "bottom": 1})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, wizard.ResultCreateEntry, res.Type)
	require.NotNil(t, res.Entry)
	assert.Equal(t, "fake-hyperion", res.Title)

	status, data := f.do(t, http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, status)
	var views []EntryView
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, res.Entry.ID, views[0].ID)
	require.NotNil(t, views[0].Status, "created entries are loaded")
	assert.True(t, views[0].Status.Active)
	assert.NotContains(t, string(data), "access_key")

	select {
	case <-f.hub.StreamStarted():
	case <-time.After(2 * time.Second):
		t.Fatal("stream not started for new entry")
	}
	f.hub.PushLEDs([3]uint8{9, 9, 9}, [3]uint8{}, [3]uint8{1, 2, 3}, [3]uint8{})
	require.Eventually(t, func() bool {
		a, okA := f.actuator.get("light.a")
		b, okB := f.actuator.get("light.b")
		return okA && okB && a == zone.RGB{R: 9, G: 9, B: 9} && b == zone.RGB{R: 1, G: 2, B: 3}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFlow_ValidationErrorsAreForms(t *testing.T) {
	f := newFixture(t)

	_, res := f.step(t, http.MethodPost, "/api/flows", nil)
	status, res := f.step(t, http.MethodPost, "/api/flows/"+res.FlowID, map[string]interface{}{"host": "not-an-ip", "port": 8090})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, wizard.ResultForm, res.Type)
	assert.Equal(t, map[string]string{"base": wizard.ErrorInvalidIP}, res.Errors)
}

func TestFlow_NotFoundAndBadBody(t *testing.T) {
	f := newFixture(t)

	status, data := f.do(t, http.MethodGet, "/api/flows/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, codeNotFound, errorCode(t, data))

	status, _ = f.do(t, http.MethodDelete, "/api/flows/nope", nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, res := f.step(t, http.MethodPost, "/api/flows", nil)
	status, data = f.do(t, http.MethodPost, "/api/flows/"+res.FlowID, "not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, codeBadRequest, errorCode(t, data))
}

func TestFlow_Abandon(t *testing.T) {
	f := newFixture(t)

	_, res := f.step(t, http.MethodPost, "/api/flows", nil)
	status, _ := f.do(t, http.MethodDelete, "/api/flows/"+res.FlowID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = f.do(t, http.MethodGet, "/api/flows/"+res.FlowID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestListLights(t *testing.T) {
	f := newFixture(t)

	status, data := f.do(t, http.MethodGet, "/api/lights", nil)
	require.Equal(t, http.StatusOK, status)
	var list []lights.Light
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list, 3)

	f.inventory.fail(assert.AnError)
	status, data = f.do(t, http.MethodGet, "/api/lights", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, codeInventoryFailed, errorCode(t, data))
}

func TestEntries_StartStop(t *testing.T) {
	f := newFixture(t)
	entry := f.storeEntry(t)

	status, data := f.do(t, http.MethodPost, "/api/entries/"+entry.ID+"/stop", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, codeNotLoaded, errorCode(t, data))

	// Starting an entry that is not loaded loads it.
	status, data = f.do(t, http.MethodPost, "/api/entries/"+entry.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var st link.Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.True(t, st.Active)
	assert.Equal(t, entry.ID, st.EntryID)
	_, loaded := f.links.Status(entry.ID)
	assert.True(t, loaded)

	status, data = f.do(t, http.MethodPost, "/api/entries/"+entry.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &st))
	assert.False(t, st.Active)

	status, data = f.do(t, http.MethodPost, "/api/entries/"+entry.ID+"/start", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &st))
	assert.True(t, st.Active)

	status, _ = f.do(t, http.MethodPost, "/api/entries/missing/start", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEntries_GetAndDelete(t *testing.T) {
	f := newFixture(t)
	entry := f.storeEntry(t)

	status, data := f.do(t, http.MethodGet, "/api/entries/"+entry.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var view EntryView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, entry.ID, view.ID)
	assert.Nil(t, view.Status, "entry is not loaded")

	status, _ = f.do(t, http.MethodDelete, "/api/entries/"+entry.ID, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = f.do(t, http.MethodGet, "/api/entries/"+entry.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodDelete, "/api/entries/"+entry.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEntries_FilterByHostname(t *testing.T) {
	f := newFixture(t)
	entry := f.storeEntry(t)

	status, data := f.do(t, http.MethodGet, "/api/entries?hostname=fake-hyperion", nil)
	require.Equal(t, http.StatusOK, status)
	var views []EntryView
	require.NoError(t, json.Unmarshal(data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, entry.ID, views[0].ID)

	status, data = f.do(t, http.MethodGet, "/api/entries?hostname=other", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &views))
	assert.Empty(t, views)
}

func TestEntries_Reload(t *testing.T) {
	f := newFixture(t)
	entry := f.storeEntry(t)
	path := "/api/entries/" + entry.ID + "/reload"

	status, data := f.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, codeNotLoaded, errorCode(t, data))

	status, _ = f.do(t, http.MethodPost, "/api/entries/missing/reload", nil)
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, f.links.Setup(context.Background(), entry))

	// Change the stored lights behind the running dispatcher.
	_, err := f.db.EntryRepo.UpdateLights(context.Background(), entry.ID, zone.Assignment{zone.Left: {"light.b"}})
	require.NoError(t, err)

	status, data = f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var view EntryView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, []string{"light.b"}, view.Lights[zone.Left])
	require.NotNil(t, view.Status)

	require.Eventually(t, func() bool {
		f.hub.PushLEDs([3]uint8{7, 7, 7}, [3]uint8{}, [3]uint8{}, [3]uint8{})
		c, ok := f.actuator.get("light.b")
		return ok && c == zone.RGB{R: 7, G: 7, B: 7}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStatuses(t *testing.T) {
	f := newFixture(t)

	status, data := f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, status)
	var list []link.Status
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Empty(t, list)

	entry := f.storeEntry(t)
	require.NoError(t, f.links.Setup(context.Background(), entry))

	status, data = f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, entry.ID, list[0].EntryID)
	assert.Equal(t, "fake-hyperion", list[0].Hostname)
	assert.True(t, list[0].Active)
}

func TestEntries_UpdateLights(t *testing.T) {
	f := newFixture(t)
	entry := f.storeEntry(t)
	require.NoError(t, f.links.Setup(context.Background(), entry))
	path := "/api/entries/" + entry.ID + "/lights"

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"not json", "[", http.StatusBadRequest, codeBadRequest},
		{"unknown zone", map[string][]string{"middle": {"light.a"}}, http.StatusBadRequest, codeBadRequest},
		{"empty", map[string][]string{"left": {}}, http.StatusUnprocessableEntity, wizard.ErrorNoLightsEntered},
		{"unknown light", map[string][]string{"left": {"light.zzz"}}, http.StatusUnprocessableEntity, wizard.ErrorInvalidLight},
		{"dimmer", map[string][]string{"top": {"light.dim"}}, http.StatusUnprocessableEntity, wizard.ErrorInvalidLight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, data := f.do(t, http.MethodPut, path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, errorCode(t, data))
		})
	}

	status, data := f.do(t, http.MethodPut, path, map[string][]string{"top": {"light.b", "light.a"}})
	require.Equal(t, http.StatusOK, status, string(data))
	var view EntryView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, []string{"light.a", "light.b"}, view.Lights[zone.Top])
	assert.Empty(t, view.Lights[zone.Left])

	status, _ = f.do(t, http.MethodPut, "/api/entries/missing/lights", map[string][]string{"top": {"light.a"}})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFrameFeed(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/frames?entry=entry-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool {
		return f.pubsub.SubscriberCount(pubsub.TopicColorFrame) == 1
	}, time.Second, 10*time.Millisecond)

	f.pubsub.PublishFrame("entry-2", zone.ColorFrame{zone.Top: {G: 1}})
	f.pubsub.PublishFrame("entry-1", zone.ColorFrame{zone.Left: {R: 200}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev pubsub.FrameEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "entry-1", ev.EntryID)
	assert.Equal(t, zone.RGB{R: 200}, ev.Frame[zone.Left])

	_ = conn.Close()
	require.Eventually(t, func() bool {
		return f.pubsub.SubscriberCount(pubsub.TopicColorFrame) == 0
	}, 2*time.Second, 10*time.Millisecond, "subscription is released when the client leaves")
}
