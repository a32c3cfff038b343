// ABOUTME: HTTP-level tests for ingestion, agent state, and HITL responses
// ABOUTME: Runs the full wired server against an in-memory database

package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = ":memory:"

	s, err := New(cfg, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(func() {
		ts.Close()
		s.hub.Close()
		s.store.Close()
	})
	return s, ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func ingest(t *testing.T, ts *httptest.Server, body string) *store.HookEvent {
	t.Helper()
	resp := postJSON(t, ts.URL+"/events", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	event := decodeJSON[*store.HookEvent](t, resp)
	require.NotZero(t, event.ID)
	return event
}

func TestIngestEventUpdatesAgentState(t *testing.T) {
	_, ts := newTestServer(t)

	ingest(t, ts, `{
		"source_app": "demo",
		"session_id": "abcdef1234567890",
		"hook_event_type": "UserPromptSubmit",
		"payload": {"prompt": "fix the tests"}
	}`)

	resp, err := http.Get(ts.URL + "/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	states := decodeJSON[map[string]struct {
		Status      string `json:"status"`
		CharacterID string `json:"characterId"`
	}](t, resp)
	require.Contains(t, states, "demo:abcdef12")
	assert.Equal(t, "THINKING", states["demo:abcdef12"].Status)
	assert.NotEmpty(t, states["demo:abcdef12"].CharacterID)
}

func TestIngestEventValidation(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing source_app", `{"session_id":"s","hook_event_type":"Stop","payload":{}}`},
		{"missing session_id", `{"source_app":"a","hook_event_type":"Stop","payload":{}}`},
		{"missing event type", `{"source_app":"a","session_id":"s","payload":{}}`},
		{"missing payload", `{"source_app":"a","session_id":"s","hook_event_type":"Stop"}`},
		{"malformed json", `{"source_app":`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/events", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestRecentEventsAndLookup(t *testing.T) {
	_, ts := newTestServer(t)

	first := ingest(t, ts, `{"source_app":"demo","session_id":"s1","hook_event_type":"SessionStart","payload":{}}`)
	ingest(t, ts, `{"source_app":"demo","session_id":"s1","hook_event_type":"Stop","payload":{}}`)

	resp, err := http.Get(ts.URL + "/events/recent?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	events := decodeJSON[[]*store.HookEvent](t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, "SessionStart", events[0].HookEventType)

	resp, err = http.Get(fmt.Sprintf("%s/events/%d", ts.URL, first.ID))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/events/99999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/events/recent?limit=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFilterOptions(t *testing.T) {
	_, ts := newTestServer(t)

	ingest(t, ts, `{"source_app":"alpha","session_id":"s1","hook_event_type":"SessionStart","payload":{}}`)
	ingest(t, ts, `{"source_app":"beta","session_id":"s2","hook_event_type":"Stop","payload":{}}`)

	resp, err := http.Get(ts.URL + "/events/filter-options")
	require.NoError(t, err)
	defer resp.Body.Close()

	options := decodeJSON[*store.FilterOptions](t, resp)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, options.SourceApps)
	assert.ElementsMatch(t, []string{"SessionStart", "Stop"}, options.HookEventTypes)
}

func TestRespondToPendingRequest(t *testing.T) {
	_, ts := newTestServer(t)

	event := ingest(t, ts, `{
		"source_app": "demo",
		"session_id": "abcdef1234567890",
		"hook_event_type": "PermissionRequest",
		"payload": {},
		"humanInTheLoop": {"type": "permission", "question": "Deploy to prod?"}
	}`)
	require.NotNil(t, event.HITLStatus)
	assert.Equal(t, store.HITLStatusPending, event.HITLStatus.Status)

	respondURL := fmt.Sprintf("%s/events/%d/respond", ts.URL, event.ID)

	resp := postJSON(t, respondURL, `{"permission": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeJSON[*store.HookEvent](t, resp)
	assert.Equal(t, store.HITLStatusResponded, updated.HITLStatus.Status)
	assert.NotZero(t, updated.HITLStatus.RespondedAt)

	// The transition is terminal: a second answer conflicts.
	resp = postJSON(t, respondURL, `{"permission": false}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRespondErrorCases(t *testing.T) {
	_, ts := newTestServer(t)

	plain := ingest(t, ts, `{"source_app":"demo","session_id":"s1","hook_event_type":"Stop","payload":{}}`)

	resp := postJSON(t, fmt.Sprintf("%s/events/%d/respond", ts.URL, plain.ID), `{"ok":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/events/99999/respond", `{"ok":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, fmt.Sprintf("%s/events/%d/respond", ts.URL, plain.ID), `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCycleCharacter(t *testing.T) {
	_, ts := newTestServer(t)

	ingest(t, ts, `{"source_app":"demo","session_id":"abcdef1234567890","hook_event_type":"UserPromptSubmit","payload":{}}`)

	resp := postJSON(t, ts.URL+"/agents/cycle-character", `{"agentKey":"demo:abcdef12"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeJSON[map[string]string](t, resp)
	assert.NotEmpty(t, result["characterId"])

	resp = postJSON(t, ts.URL+"/agents/cycle-character", `{"agentKey":"demo:missing0"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/agents/cycle-character", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStreamSnapshotThenLive(t *testing.T) {
	_, ts := newTestServer(t)

	ingest(t, ts, `{"source_app":"demo","session_id":"abcdef1234567890","hook_event_type":"UserPromptSubmit","payload":{}}`)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame := func() map[string]json.RawMessage {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(message, &frame))
		return frame
	}
	frameType := func(frame map[string]json.RawMessage) string {
		var ft string
		require.NoError(t, json.Unmarshal(frame["type"], &ft))
		return ft
	}

	initial := readFrame()
	require.Equal(t, "initial", frameType(initial))
	var events []*store.HookEvent
	require.NoError(t, json.Unmarshal(initial["data"], &events))
	assert.Len(t, events, 1)

	states := readFrame()
	require.Equal(t, "agent_states", frameType(states))

	// Live ingestion reaches the already-connected observer.
	go func() {
		time.Sleep(50 * time.Millisecond)
		http.Post(ts.URL+"/events", "application/json",
			bytes.NewReader([]byte(`{"source_app":"demo","session_id":"abcdef1234567890","hook_event_type":"Stop","payload":{}}`)))
	}()

	live := readFrame()
	assert.Equal(t, "event", frameType(live))
}
