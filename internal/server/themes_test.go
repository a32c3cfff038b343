// ABOUTME: HTTP-level tests for theme management and activation
// ABOUTME: Activation must re-dress agents from the new roster

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/store"
)

func jsonBody(s string) *strings.Reader { return strings.NewReader(s) }

func createForestTheme(t *testing.T, ts string) themeResponse {
	t.Helper()
	resp := postJSON(t, ts+"/api/themes", `{
		"id": "forest",
		"name": "forest",
		"displayName": "Forest",
		"lightColors": {"bg": "#e8f5e9"},
		"characters": [
			{"characterId": "ranger", "displayName": "Ranger"},
			{"characterId": "druid", "displayName": "Druid"}
		]
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[themeResponse](t, resp)
}

func TestThemeCRUD(t *testing.T) {
	_, ts := newTestServer(t)

	created := createForestTheme(t, ts.URL)
	require.Len(t, created.Characters, 2)
	assert.Equal(t, "ranger", created.Characters[0].CharacterID)

	// Duplicate create conflicts.
	resp := postJSON(t, ts.URL+"/api/themes", `{"id":"forest","name":"forest","displayName":"Forest"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/api/themes/forest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fetched := decodeJSON[themeResponse](t, resp)
	assert.Equal(t, "Forest", fetched.DisplayName)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/themes/forest",
		jsonBody(`{"displayName":"Deep Forest"}`))
	require.NoError(t, err)
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer putResp.Body.Close()
	require.Equal(t, http.StatusOK, putResp.StatusCode)
	updated := decodeJSON[themeResponse](t, putResp)
	assert.Equal(t, "Deep Forest", updated.DisplayName)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/themes/forest", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/themes/forest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivateThemeReassignsAgents(t *testing.T) {
	_, ts := newTestServer(t)

	ingest(t, ts, `{"source_app":"demo","session_id":"aaaa000000","hook_event_type":"UserPromptSubmit","payload":{}}`)
	ingest(t, ts, `{"source_app":"demo","session_id":"bbbb000000","hook_event_type":"UserPromptSubmit","payload":{}}`)

	createForestTheme(t, ts.URL)
	resp := postJSON(t, ts.URL+"/api/themes/forest/activate", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	agentsResp, err := http.Get(ts.URL + "/agents")
	require.NoError(t, err)
	defer agentsResp.Body.Close()
	states := decodeJSON[map[string]struct {
		CharacterID string `json:"characterId"`
	}](t, agentsResp)
	for key, state := range states {
		assert.Contains(t, []string{"ranger", "druid"}, state.CharacterID, "agent %s", key)
	}

	// Activation persists across the active-theme endpoint.
	activeResp, err := http.Get(ts.URL + "/api/active-theme")
	require.NoError(t, err)
	defer activeResp.Body.Close()
	active := decodeJSON[themeResponse](t, activeResp)
	require.NotNil(t, active.Theme)
	assert.Equal(t, "forest", active.ID)

	resp = postJSON(t, ts.URL+"/api/themes/missing/activate", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActiveThemeNullWhenUnset(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/active-theme")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.JSONEq(t, "null", string(body))
}

func TestCharactersEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	// Without an active theme the builtin defaults apply.
	resp, err := http.Get(ts.URL + "/api/characters")
	require.NoError(t, err)
	defer resp.Body.Close()
	defaults := decodeJSON[[]*store.ThemeCharacter](t, resp)
	require.NotEmpty(t, defaults)
	assert.Equal(t, "frieren", defaults[0].CharacterID)

	createForestTheme(t, ts.URL)
	postJSON(t, ts.URL+"/api/themes/forest/activate", `{}`)

	resp, err = http.Get(ts.URL + "/api/characters")
	require.NoError(t, err)
	defer resp.Body.Close()
	roster := decodeJSON[[]*store.ThemeCharacter](t, resp)
	require.Len(t, roster, 2)
	assert.Equal(t, "ranger", roster[0].CharacterID)
}
