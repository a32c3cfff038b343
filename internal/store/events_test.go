// ABOUTME: Tests for hook event log operations
// ABOUTME: Covers inserts, recency queries, filters, and the HITL status transition

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertEvent_AssignsIDAndTimestamp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	before := time.Now().UnixMilli()
	stored, err := s.InsertEvent(ctx, &HookEvent{
		SourceApp:     "demo",
		SessionID:     "abcdef1234567890",
		HookEventType: "UserPromptSubmit",
		Payload:       json.RawMessage(`{"prompt":"hi"}`),
	})
	require.NoError(t, err)

	assert.Positive(t, stored.ID)
	assert.GreaterOrEqual(t, stored.Timestamp, before)
	assert.Equal(t, "demo", stored.SourceApp)
}

func TestInsertEvent_PreservesExplicitTimestamp(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stored, err := s.InsertEvent(ctx, &HookEvent{
		SourceApp:     "demo",
		SessionID:     "session-1",
		HookEventType: "Stop",
		Payload:       json.RawMessage(`{}`),
		Timestamp:     1234567890,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890), stored.Timestamp)
}

func TestInsertEvent_InitializesHITLStatusPending(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stored, err := s.InsertEvent(ctx, &HookEvent{
		SourceApp:     "demo",
		SessionID:     "session-1",
		HookEventType: "PermissionRequest",
		Payload:       json.RawMessage(`{"tool_name":"Bash"}`),
		HITL: &HITLRequest{
			Type:     HITLTypePermission,
			Question: "Tool: Bash",
			Timeout:  110,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, stored.HITLStatus)
	assert.Equal(t, HITLStatusPending, stored.HITLStatus.Status)

	// Round-trips through the database
	retrieved, err := s.EventByID(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.HITL)
	assert.Equal(t, HITLTypePermission, retrieved.HITL.Type)
	assert.Equal(t, "Tool: Bash", retrieved.HITL.Question)
	require.NotNil(t, retrieved.HITLStatus)
	assert.Equal(t, HITLStatusPending, retrieved.HITLStatus.Status)
}

func TestEventByID_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.EventByID(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRecentEvents_ChronologicalOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.InsertEvent(ctx, &HookEvent{
			SourceApp:     "demo",
			SessionID:     "session-1",
			HookEventType: "PreToolUse",
			Payload:       json.RawMessage(`{}`),
			Timestamp:     int64(1000 + i),
		})
		require.NoError(t, err)
	}

	events, err := s.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Most recent 3, oldest first
	assert.Equal(t, int64(1002), events[0].Timestamp)
	assert.Equal(t, int64(1003), events[1].Timestamp)
	assert.Equal(t, int64(1004), events[2].Timestamp)
}

func TestRespondToEvent_TransitionsOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stored, err := s.InsertEvent(ctx, &HookEvent{
		SourceApp:     "demo",
		SessionID:     "session-1",
		HookEventType: "PermissionRequest",
		Payload:       json.RawMessage(`{}`),
		HITL:          &HITLRequest{Type: HITLTypePermission, Question: "ok?"},
	})
	require.NoError(t, err)

	updated, err := s.RespondToEvent(ctx, stored.ID, json.RawMessage(`{"permission":true}`), 5000)
	require.NoError(t, err)
	require.NotNil(t, updated.HITLStatus)
	assert.Equal(t, HITLStatusResponded, updated.HITLStatus.Status)
	assert.Equal(t, int64(5000), updated.HITLStatus.RespondedAt)
	assert.JSONEq(t, `{"permission":true}`, string(updated.HITLStatus.Response))

	// Second response is rejected and the first response survives
	_, err = s.RespondToEvent(ctx, stored.ID, json.RawMessage(`{"permission":false}`), 6000)
	assert.ErrorIs(t, err, ErrAlreadyResponded)

	retrieved, err := s.EventByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, HITLStatusResponded, retrieved.HITLStatus.Status)
	assert.JSONEq(t, `{"permission":true}`, string(retrieved.HITLStatus.Response))
}

func TestRespondToEvent_NoHITLRequest(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stored, err := s.InsertEvent(ctx, &HookEvent{
		SourceApp:     "demo",
		SessionID:     "session-1",
		HookEventType: "Stop",
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = s.RespondToEvent(ctx, stored.ID, json.RawMessage(`{}`), 5000)
	assert.ErrorIs(t, err, ErrNoHITLRequest)
}

func TestRespondToEvent_UnknownEvent(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.RespondToEvent(context.Background(), 424242, json.RawMessage(`{}`), 5000)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestFilterOptions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	apps := []string{"alpha", "beta", "alpha"}
	for i, app := range apps {
		_, err := s.InsertEvent(ctx, &HookEvent{
			SourceApp:     app,
			SessionID:     fmt.Sprintf("session-%d", i),
			HookEventType: "SessionStart",
			Payload:       json.RawMessage(`{}`),
		})
		require.NoError(t, err)
	}

	opts, err := s.FilterOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, opts.SourceApps)
	assert.Len(t, opts.SessionIDs, 3)
	assert.Equal(t, []string{"SessionStart"}, opts.HookEventTypes)
}

func TestLifelines_FirstAndLastEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seq := []struct {
		session   string
		eventType string
		ts        int64
	}{
		{"session-a", "SessionStart", 1000},
		{"session-a", "PreToolUse", 2000},
		{"session-a", "Stop", 3000},
		{"session-b", "PreToolUse", 1500}, // never session-initiated => subagent lifeline
		{"session-b", "SubagentStop", 2500},
	}
	for _, e := range seq {
		_, err := s.InsertEvent(ctx, &HookEvent{
			SourceApp:     "demo",
			SessionID:     e.session,
			HookEventType: e.eventType,
			Payload:       json.RawMessage(`{}`),
			Timestamp:     e.ts,
		})
		require.NoError(t, err)
	}

	lifelines, err := s.Lifelines(ctx)
	require.NoError(t, err)
	require.Len(t, lifelines, 2)

	// Ordered by last event time ascending
	assert.Equal(t, "session-b", lifelines[0].SessionID)
	assert.Equal(t, "PreToolUse", lifelines[0].FirstEventType)
	assert.Equal(t, "SubagentStop", lifelines[0].LastEventType)

	assert.Equal(t, "session-a", lifelines[1].SessionID)
	assert.Equal(t, "SessionStart", lifelines[1].FirstEventType)
	assert.Equal(t, "Stop", lifelines[1].LastEventType)
	assert.Equal(t, int64(3000), lifelines[1].LastTimestamp)
}

func TestFirstEventType(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.InsertEvent(ctx, &HookEvent{
		SourceApp:     "demo",
		SessionID:     "session-a",
		HookEventType: "UserPromptSubmit",
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	_, err = s.InsertEvent(ctx, &HookEvent{
		SourceApp:     "demo",
		SessionID:     "session-a",
		HookEventType: "Stop",
		Payload:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	first, err := s.FirstEventType(ctx, "demo", "session-a")
	require.NoError(t, err)
	assert.Equal(t, "UserPromptSubmit", first)

	_, err = s.FirstEventType(ctx, "demo", "unknown-session")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestMigrations_Idempotent(t *testing.T) {
	s := setupTestStore(t)

	// Running migrations again against a fully-migrated schema is a no-op
	require.NoError(t, s.runMigrations())
	require.NoError(t, s.runMigrations())
}
