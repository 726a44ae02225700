package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homely-sync/internal/history"
	"github.com/nerrad567/homely-sync/internal/infrastructure/config"
	"github.com/nerrad567/homely-sync/internal/infrastructure/logging"
	"github.com/nerrad567/homely-sync/internal/notify"
	"github.com/nerrad567/homely-sync/internal/poller"
	"github.com/nerrad567/homely-sync/internal/snapshot"
	"github.com/nerrad567/homely-sync/internal/supervisor"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type fakeHistory struct {
	entries []history.Entry
	err     error
	last    history.Query
}

func (f *fakeHistory) Query(_ context.Context, q history.Query) ([]history.Entry, error) {
	f.last = q
	return f.entries, f.err
}

type fakePoller struct{ stats poller.Stats }

func (f fakePoller) Stats() poller.Stats { return f.stats }

type fakePush struct{ status supervisor.Status }

func (f fakePush) Status() supervisor.Status { return f.status }

type fakeNotifier struct{ stats notify.Stats }

func (f fakeNotifier) Stats() notify.Stats { return f.stats }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

// testStore returns a store holding one location with two devices.
func testStore(t *testing.T) *snapshot.Store {
	t.Helper()

	store := snapshot.NewStore(snapshot.Options{})
	t.Cleanup(func() { store.Close(context.Background()) }) //nolint:errcheck // test cleanup

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.ApplyFull(context.Background(), snapshot.DeviceSet{
		LocationID: "loc-1",
		Name:       "Home",
		AlarmState: "DISARMED",
		Devices: []snapshot.DeviceObservation{
			{
				ID:   "dev-b",
				Name: "Hallway motion",
				Capabilities: map[string]snapshot.Reading{
					"temperature": {Value: 21.5, Timestamp: ts},
				},
			},
			{
				ID:   "dev-a",
				Name: "Front door",
				Capabilities: map[string]snapshot.Reading{
					"alarm": {Value: false, Timestamp: ts},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("ApplyFull: %v", err)
	}
	return store
}

// testServer creates a Server over a populated store and the given fakes.
func testServer(t *testing.T, hist HistoryReader) *Server {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:       testWSConfig(),
		Logger:   testLogger(),
		Store:    testStore(t),
		Poller:   fakePoller{stats: poller.Stats{Successes: 3, Failures: 1, Interval: "1m0s"}},
		Push:     fakePush{status: supervisor.Status{State: snapshot.ConnConnected, Enabled: true}},
		Notifier: fakeNotifier{stats: notify.Stats{Published: 7, Subscribers: 2}},
		Version:  "test",
	}
	if hist != nil {
		deps.History = hist
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Store: snapshot.NewStore(snapshot.Options{})}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without store should fail")
	}
}

// ─── Health and Metrics ────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["push"] != string(snapshot.ConnConnected) {
		t.Errorf("push = %v, want %s", resp["push"], snapshot.ConnConnected)
	}
}

func TestMetrics(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}

	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" {
		t.Errorf("Version = %q, want test", m.Version)
	}
	if m.Locations != 1 {
		t.Errorf("Locations = %d, want 1", m.Locations)
	}
	if m.Poll == nil || m.Poll.Successes != 3 || m.Poll.Failures != 1 {
		t.Errorf("Poll = %+v, want 3 successes and 1 failure", m.Poll)
	}
	if m.Push == nil || m.Push.State != snapshot.ConnConnected {
		t.Errorf("Push = %+v, want Connected", m.Push)
	}
	if m.Notify == nil || m.Notify.Published != 7 {
		t.Errorf("Notify = %+v, want 7 published", m.Notify)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("Runtime.Goroutines should be non-zero")
	}
}

func TestMetrics_OptionalSectionsOmitted(t *testing.T) {
	srv, err := New(Deps{Logger: testLogger(), Store: snapshot.NewStore(snapshot.Options{}), WS: testWSConfig()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	w := get(t, srv, "/api/v1/metrics")

	var resp map[string]any
	decode(t, w, &resp)
	for _, key := range []string{"poll", "push", "notify"} {
		if _, ok := resp[key]; ok {
			t.Errorf("metrics should omit %q when the dependency is nil", key)
		}
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/health")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := testServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
		t.Errorf("Allow-Methods = %q, want GET, OPTIONS", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv := testServer(t, nil)
	srv.cfg.CORS.AllowedOrigins = []string{"https://panel.example"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty for disallowed origin", got)
	}
}

func TestRecovery(t *testing.T) {
	srv := testServer(t, nil)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Locations ─────────────────────────────────────────────────────

func TestListLocations(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations")

	var resp struct {
		Locations []string `json:"locations"`
		Count     int      `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || len(resp.Locations) != 1 || resp.Locations[0] != "loc-1" {
		t.Errorf("locations = %+v, want [loc-1]", resp)
	}
}

func TestGetLocation(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations/loc-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		LocationID string `json:"location_id"`
		Name       string `json:"name"`
		Alarm      struct {
			State string `json:"state"`
		} `json:"alarm"`
		Devices  map[string]json.RawMessage `json:"devices"`
		Entities Entities                   `json:"entities"`
	}
	decode(t, w, &resp)

	if resp.LocationID != "loc-1" || resp.Name != "Home" {
		t.Errorf("location = %q/%q, want loc-1/Home", resp.LocationID, resp.Name)
	}
	if resp.Alarm.State != string(snapshot.AlarmDisarmed) {
		t.Errorf("alarm state = %q, want %q", resp.Alarm.State, snapshot.AlarmDisarmed)
	}
	if len(resp.Devices) != 2 {
		t.Errorf("devices = %d, want 2", len(resp.Devices))
	}
	if resp.Entities.AlarmPanel != "location_loc-1_alarm_panel" {
		t.Errorf("alarm panel entity = %q", resp.Entities.AlarmPanel)
	}
}

func TestGetLocation_NotFound(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations/nope")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	var e Error
	decode(t, w, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestListDevices_Sorted(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations/loc-1/devices")

	var resp struct {
		Devices []snapshot.Device `json:"devices"`
		Count   int               `json:"count"`
	}
	decode(t, w, &resp)

	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Devices[0].ID != "dev-a" || resp.Devices[1].ID != "dev-b" {
		t.Errorf("order = %s, %s, want dev-a, dev-b", resp.Devices[0].ID, resp.Devices[1].ID)
	}
}

func TestGetDevice(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations/loc-1/devices/dev-b")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var dev snapshot.Device
	decode(t, w, &dev)
	if dev.Name != "Hallway motion" {
		t.Errorf("Name = %q, want Hallway motion", dev.Name)
	}
	if got := dev.Capabilities["temperature"].Value; got != 21.5 {
		t.Errorf("temperature = %v, want 21.5", got)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations/loc-1/devices/missing")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetConnection(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations/loc-1/connection")

	var resp struct {
		Connection snapshot.Connection `json:"connection"`
		EntityID   string              `json:"entity_id"`
		Supervisor *supervisor.Status  `json:"supervisor"`
	}
	decode(t, w, &resp)

	if resp.Connection.State != snapshot.ConnNotInitialized {
		t.Errorf("cached connection = %q, want %q", resp.Connection.State, snapshot.ConnNotInitialized)
	}
	if resp.EntityID != "location_loc-1_websocket_status" {
		t.Errorf("entity_id = %q", resp.EntityID)
	}
	if resp.Supervisor == nil || !resp.Supervisor.Enabled {
		t.Errorf("supervisor = %+v, want enabled status", resp.Supervisor)
	}
}

func TestEntitiesFor(t *testing.T) {
	e := EntitiesFor("abc")
	want := Entities{
		AlarmPanel:     "location_abc_alarm_panel",
		WebSocket:      "location_abc_websocket_status",
		BatteryProblem: "location_abc_any_battery_problem",
	}
	if e != want {
		t.Errorf("EntitiesFor = %+v, want %+v", e, want)
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestHistory_Disabled(t *testing.T) {
	srv := testServer(t, nil)
	w := get(t, srv, "/api/v1/locations/loc-1/history")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHistory_Query(t *testing.T) {
	hist := &fakeHistory{entries: []history.Entry{
		{ID: 2, LocationID: "loc-1", Seq: 5, DeviceID: "dev-b", Capability: "temperature", New: 22.0},
	}}
	srv := testServer(t, hist)

	w := get(t, srv, "/api/v1/locations/loc-1/history?device=dev-b&capability=temperature&since=2026-03-01T00:00:00Z&limit=10")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	want := history.Query{
		LocationID: "loc-1",
		DeviceID:   "dev-b",
		Capability: "temperature",
		Since:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Limit:      10,
	}
	if !hist.last.Since.Equal(want.Since) {
		t.Errorf("Since = %v, want %v", hist.last.Since, want.Since)
	}
	hist.last.Since = want.Since
	if hist.last != want {
		t.Errorf("query = %+v, want %+v", hist.last, want)
	}

	var resp struct {
		Entries []history.Entry `json:"entries"`
		Count   int             `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Entries[0].Seq != 5 {
		t.Errorf("entries = %+v", resp)
	}
}

func TestHistory_BadParams(t *testing.T) {
	srv := testServer(t, &fakeHistory{})

	for _, q := range []string{"since=yesterday", "limit=0", "limit=abc"} {
		w := get(t, srv, "/api/v1/locations/loc-1/history?"+q)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestHistory_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid query", fmt.Errorf("%w: location required", history.ErrInvalidQuery), http.StatusBadRequest},
		{"storage failure", errors.New("disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, &fakeHistory{err: tt.err})
			w := get(t, srv, "/api/v1/locations/loc-1/history")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestHub_HandleRoutesByKey(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	alarm := newTestClient(hub, snapshot.KeyAlarmState)
	temp := newTestClient(hub, "dev-b/temperature")
	all := newTestClient(hub, ChannelAll)
	for _, c := range []*WSClient{alarm, temp, all} {
		hub.Register(c)
	}

	hub.Handle(snapshot.Change{
		Seq: 4,
		Key: snapshot.Key{LocationID: "loc-1", DeviceID: "dev-b", Capability: "temperature"},
		Old: 21.5,
		New: 22.0,
	})

	select {
	case msg := <-temp.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != "dev-b/temperature" {
			t.Errorf("message = %+v, want event dev-b/temperature", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for device change")
	}

	select {
	case <-all.send:
	case <-time.After(time.Second):
		t.Error("wildcard subscriber should receive every change")
	}

	select {
	case <-alarm.send:
		t.Error("alarm subscriber should not receive a temperature change")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newTestClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelAll: {}}}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast("alarm_state", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full client buffer")
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	client := newTestClient(hub)
	hub.Register(client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after Run returns")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket over a real listener ────────────────────────────────

// connectWebSocket starts the router on an httptest server and dials /ws.
func connectWebSocket(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket connect failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv := testServer(t, nil)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{snapshot.KeyConnectionState}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	resp := readMessage(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("response = %+v, want response sub-1", resp)
	}

	srv.Hub().Handle(snapshot.Change{
		Key:    snapshot.Key{LocationID: "loc-1", Capability: snapshot.KeyConnectionState},
		Old:    string(snapshot.ConnConnecting),
		New:    string(snapshot.ConnConnected),
		Source: snapshot.SourceSupervisor,
	})

	event := readMessage(t, ws)
	if event.Type != WSTypeEvent || event.EventType != snapshot.KeyConnectionState {
		t.Errorf("event = %+v, want connection_state event", event)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok || payload["new"] != string(snapshot.ConnConnected) {
		t.Errorf("payload = %v, want new=Connected", event.Payload)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	srv := testServer(t, nil)
	ws := connectWebSocket(t, srv)

	for _, msg := range []WSMessage{
		{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"a", "b"}}},
		{Type: WSTypeUnsubscribe, ID: "2", Payload: WSSubscribePayload{Channels: []string{"b"}}},
	} {
		if err := ws.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		if resp := readMessage(t, ws); resp.Type != WSTypeResponse || resp.ID != msg.ID {
			t.Errorf("response = %+v, want response %s", resp, msg.ID)
		}
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv := testServer(t, nil)
	ws := connectWebSocket(t, srv)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	resp := readMessage(t, ws)
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
}

func TestWebSocket_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", "not json"},
		{"unknown type", `{"type":"unknown_type","id":"x"}`},
		{"empty channels", `{"type":"subscribe","id":"x","payload":{"channels":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, nil)
			ws := connectWebSocket(t, srv)

			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatalf("write: %v", err)
			}
			if resp := readMessage(t, ws); resp.Type != WSTypeError {
				t.Errorf("response type = %s, want error", resp.Type)
			}
		})
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_HealthCheck(t *testing.T) {
	srv := testServer(t, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should fail with a cancelled context")
	}
}

func TestServer_StartAndClose(t *testing.T) {
	srv := testServer(t, nil)
	srv.cfg.Port = 19180

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	addr := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", srv.cfg.Port)
	resp, err := http.Get(addr) //nolint:noctx // test request
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := http.Get(addr); err == nil { //nolint:noctx // test request
		t.Error("server still responding after Close()")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv := testServer(t, nil)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start = %v", err)
	}
}
