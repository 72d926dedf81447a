package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/aviary/pkg/activity"
	"github.com/odvcencio/aviary/pkg/dashboard"
	"github.com/odvcencio/aviary/pkg/dispatch"
	"github.com/odvcencio/aviary/pkg/gate"
	"github.com/odvcencio/aviary/pkg/profile"
	"github.com/odvcencio/aviary/pkg/session"
	"github.com/odvcencio/aviary/pkg/telemetry"
)

type fixture struct {
	server   *httptest.Server
	registry *session.Registry
	gate     *gate.Gate
	hub      *telemetry.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDefaults(t, ProfileDefaults{})
}

func newFixtureWithDefaults(t *testing.T, defaults ProfileDefaults) *fixture {
	t.Helper()

	hub := telemetry.NewHub()
	t.Cleanup(hub.Close)

	profiles := profile.NewManager(profile.Config{
		PersistentDir: t.TempDir(),
		TempDir:       t.TempDir(),
	}, hub, nil)

	meta, err := session.NewMetadataStore(t.TempDir())
	require.NoError(t, err)
	registry := session.NewRegistry(meta, profiles, 0, hub, nil)

	g := gate.New(hub)
	ledger := activity.NewLedger(100, hub)

	handlers := dispatch.NewHandlerRegistry()
	require.NoError(t, dispatch.RegisterBuiltins(handlers, registry))
	dispatcher := dispatch.NewDispatcher(handlers, registry, g, ledger, nil)

	s := NewServer(Config{
		Registry:   registry,
		Profiles:   profiles,
		Gate:       g,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Collector:       dashboard.NewCollector(registry, g, ledger),
		Hub:             hub,
		ProfileDefaults: defaults,
	})

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, registry: registry, gate: g, hub: hub}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) createSession(t *testing.T, name string) session.Info {
	t.Helper()
	resp := f.postJSON(t, "/api/v1/sessions", map[string]any{"name": name, "identity": "tester"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[session.Info](t, resp)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	info := f.createSession(t, "api-test")
	assert.Contains(t, info.ID, "api-test-")
	assert.Equal(t, profile.TypeTemp, info.ProfileType)

	listResp := f.get(t, "/api/v1/sessions")
	sessions := decode[[]session.Info](t, listResp)
	require.Len(t, sessions, 1)

	getResp := f.get(t, "/api/v1/sessions/"+info.ID)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	getResp.Body.Close()

	profileResp := f.get(t, "/api/v1/sessions/"+info.ID+"/profile")
	status := decode[profile.Status](t, profileResp)
	assert.Equal(t, profile.TypeTemp, status.ProfileType)

	req, err := http.NewRequest(http.MethodDelete, f.server.URL+"/api/v1/sessions/"+info.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
	delResp.Body.Close()

	missing := f.get(t, "/api/v1/sessions/"+info.ID)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	missing.Body.Close()
}

func TestDispatchOverHTTP(t *testing.T) {
	f := newFixture(t)
	info := f.createSession(t, "dispatch-test")

	resp := f.postJSON(t, "/api/v1/dispatch", dispatch.Request{
		ToolName:  "open_tab",
		SessionID: info.ID,
		Args:      map[string]any{"url": "https://example.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	dispatched := decode[dispatch.Response](t, resp)
	assert.NotEmpty(t, dispatched.CallID)
	assert.False(t, dispatched.Result.IsError)

	tabsResp := f.get(t, "/api/v1/tabs?sessionId="+info.ID)
	tabs := decode[[]session.Tab](t, tabsResp)
	require.Len(t, tabs, 1)
	assert.Equal(t, "https://example.com", tabs[0].URL)

	recentResp := f.get(t, "/api/v1/calls/recent?limit=5")
	recent := decode[[]activity.ToolCallEvent](t, recentResp)
	require.Len(t, recent, 1)
	assert.Equal(t, "open_tab", recent[0].ToolName)
}

func TestDispatchUnknownSessionReturns404(t *testing.T) {
	f := newFixture(t)
	resp := f.postJSON(t, "/api/v1/dispatch", dispatch.Request{
		ToolName:  "open_tab",
		SessionID: "ghost",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateControlOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/v1/gate/pause", nil)
	status := decode[gate.Status](t, resp)
	assert.True(t, status.Paused)
	assert.True(t, f.gate.IsPaused())

	statsResp := f.get(t, "/api/v1/stats")
	stats := decode[dashboard.Stats](t, statsResp)
	assert.Equal(t, "paused", stats.Status)

	resp = f.postJSON(t, "/api/v1/gate/resume", nil)
	status = decode[gate.Status](t, resp)
	assert.False(t, status.Paused)

	cancelResp := f.postJSON(t, "/api/v1/calls/some-call/cancel", nil)
	body := decode[map[string]any](t, cancelResp)
	assert.Equal(t, "some-call", body["cancelled"])
	assert.Equal(t, false, body["wasBlocked"])
	assert.True(t, f.gate.IsCancelled("some-call"))
}

func TestCancelAllOverHTTP(t *testing.T) {
	f := newFixture(t)
	resp := f.postJSON(t, "/api/v1/gate/cancel-all", nil)
	body := decode[map[string]int](t, resp)
	assert.Equal(t, 0, body["cancelled"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.get(t, "/metrics")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "go_goroutines")
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	info := f.createSession(t, "ws-test")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var event telemetry.Event
		require.NoError(t, conn.ReadJSON(&event), "expected session events on the stream")
		if event.Type == telemetry.EventSessionCreated {
			assert.Equal(t, info.ID, event.SessionID)
			return
		}
	}
}

func TestInvalidJSONReturns400(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.server.URL+"/api/v1/sessions", "application/json",
		strings.NewReader("{broken"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "INVALID_INPUT", body["code"])
}

func TestServerProfileDefaultsApplied(t *testing.T) {
	realDir := t.TempDir()
	f := newFixtureWithDefaults(t, ProfileDefaults{
		RealProfileDir:    realDir,
		AllowTempFallback: true,
	})

	// No profile in the request: the configured real profile is used.
	first := f.postJSON(t, "/api/v1/sessions", map[string]any{"name": "one"})
	require.Equal(t, http.StatusCreated, first.StatusCode)
	info := decode[session.Info](t, first)
	assert.Equal(t, profile.TypeReal, info.ProfileType)

	// The real profile is now locked; default temp fallback applies.
	second := f.postJSON(t, "/api/v1/sessions", map[string]any{"name": "two"})
	require.Equal(t, http.StatusCreated, second.StatusCode)
	info = decode[session.Info](t, second)
	assert.Equal(t, profile.TypeTemp, info.ProfileType)

	// A request override beats the server default.
	third := f.postJSON(t, "/api/v1/sessions", map[string]any{
		"name": "three",
		"profile": map[string]any{
			"allowTempFallback": false,
		},
	})
	defer third.Body.Close()
	assert.Equal(t, http.StatusConflict, third.StatusCode)
}

func TestProfileConflictSurfacesAs409(t *testing.T) {
	f := newFixture(t)
	realDir := t.TempDir()

	create := func(name string) *http.Response {
		return f.postJSON(t, "/api/v1/sessions", map[string]any{
			"name": name,
			"profile": map[string]any{
				"realProfileDir": realDir,
			},
		})
	}

	first := create("holder")
	assert.Equal(t, http.StatusCreated, first.StatusCode)
	first.Body.Close()

	second := create("contender")
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "PROFILE_UNAVAILABLE", body["code"])
}
