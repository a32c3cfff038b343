// ABOUTME: Store interface and data types for agentdeck persistence
// ABOUTME: Defines HookEvent, HITL structs and the Store interface for database operations

package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrEventNotFound is returned when a requested event does not exist
var ErrEventNotFound = errors.New("event not found")

// ErrNoHITLRequest is returned when responding to an event that carries no
// human-in-the-loop request
var ErrNoHITLRequest = errors.New("event has no human-in-the-loop request")

// ErrAlreadyResponded is returned when a human-in-the-loop request has
// already left the pending state. The pending -> responded transition is
// terminal and happens at most once.
var ErrAlreadyResponded = errors.New("human-in-the-loop request already responded")

// HITL status values
const (
	HITLStatusPending   = "pending"
	HITLStatusResponded = "responded"
)

// HITL request types
const (
	HITLTypeQuestion   = "question"
	HITLTypePermission = "permission"
	HITLTypeChoice     = "choice"
)

// HITLRequest is an embedded request for human input carried by a hook event.
// Field names follow the wire format the hook scripts emit.
type HITLRequest struct {
	Type             string   `json:"type"`
	Question         string   `json:"question"`
	Choices          []string `json:"choices,omitempty"`
	Timeout          int      `json:"timeout,omitempty"` // seconds
	RequiresResponse bool     `json:"requiresResponse,omitempty"`
	CallbackURL      string   `json:"responseWebSocketUrl,omitempty"`
}

// HITLStatus tracks whether a HITLRequest has been answered.
// Status transitions pending -> responded exactly once, never back.
type HITLStatus struct {
	Status      string          `json:"status"`
	RespondedAt int64           `json:"respondedAt,omitempty"` // ms epoch
	Response    json.RawMessage `json:"response,omitempty"`
}

// HookEvent is one instrumentation event emitted by an agent session.
// Immutable once persisted, except the HITL status field.
type HookEvent struct {
	ID            int64           `json:"id,omitempty"` // assigned at persistence
	SourceApp     string          `json:"source_app"`
	SessionID     string          `json:"session_id"`
	HookEventType string          `json:"hook_event_type"`
	Payload       json.RawMessage `json:"payload"`
	Chat          json.RawMessage `json:"chat,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"` // ms epoch, ingestion time if absent
	ModelName     string          `json:"model_name,omitempty"`
	HITL          *HITLRequest    `json:"humanInTheLoop,omitempty"`
	HITLStatus    *HITLStatus     `json:"humanInTheLoopStatus,omitempty"`
}

// FilterOptions lists the distinct values observers can filter the event
// timeline by.
type FilterOptions struct {
	SourceApps     []string `json:"source_apps"`
	SessionIDs     []string `json:"session_ids"`
	HookEventTypes []string `json:"hook_event_types"`
}

// Lifeline is one distinct (source_app, session_id) pair the event log has
// seen, with its first and most recent event. Used to rebuild agent state
// after a restart.
type Lifeline struct {
	SourceApp      string
	SessionID      string
	FirstEventType string
	LastEventType  string
	LastPayload    json.RawMessage
	LastTimestamp  int64 // ms epoch
}

// Theme is a color theme plus its character roster, owned by the dashboard
// but persisted here because avatar assignment reads from it.
type Theme struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description,omitempty"`
	LightColors json.RawMessage `json:"lightColors,omitempty"`
	DarkColors  json.RawMessage `json:"darkColors,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   int64           `json:"updatedAt"`
}

// ThemeCharacter is one roster entry of a theme.
type ThemeCharacter struct {
	ID          string `json:"id"`
	ThemeID     string `json:"themeId"`
	CharacterID string `json:"characterId"`
	DisplayName string `json:"displayName"`
	SortOrder   int    `json:"sortOrder"`
	CreatedAt   int64  `json:"createdAt"`
}

// EventStore is the persistence contract for the append-only event log and
// the human-in-the-loop response status.
type EventStore interface {
	// InsertEvent assigns an id (and timestamp if absent), initializes the
	// HITL status to pending when a request is present, and returns the
	// stored record.
	InsertEvent(ctx context.Context, event *HookEvent) (*HookEvent, error)

	// RecentEvents returns the most recent limit events in chronological order.
	RecentEvents(ctx context.Context, limit int) ([]*HookEvent, error)

	// EventByID returns a single event, or ErrEventNotFound.
	EventByID(ctx context.Context, id int64) (*HookEvent, error)

	// RespondToEvent atomically moves a pending HITL request to responded.
	// Returns ErrEventNotFound, ErrNoHITLRequest, or ErrAlreadyResponded.
	RespondToEvent(ctx context.Context, id int64, response json.RawMessage, respondedAt int64) (*HookEvent, error)

	// FilterOptions returns the distinct filter values seen so far.
	FilterOptions(ctx context.Context) (*FilterOptions, error)

	// Lifelines returns every distinct (source_app, session_id) pair with its
	// first and most recent event, ordered by last event time ascending.
	Lifelines(ctx context.Context) ([]*Lifeline, error)

	// FirstEventType returns the type of the earliest event for a lifeline,
	// or ErrEventNotFound if the lifeline has never been seen.
	FirstEventType(ctx context.Context, sourceApp, sessionID string) (string, error)
}

// CharacterStore is the persistence contract for sticky avatar assignment
// and the roster that feeds it.
type CharacterStore interface {
	// CharacterFor returns the persisted avatar for an agent key, or
	// ErrNotFound if none has been assigned.
	CharacterFor(ctx context.Context, agentKey string) (string, error)

	// AssignCharacter persists (or replaces) the avatar for an agent key.
	AssignCharacter(ctx context.Context, agentKey, characterID string) error
}

// ThemeStore is the persistence contract for dashboard themes and their
// character rosters.
type ThemeStore interface {
	// CreateTheme inserts a theme; duplicate ids or names fail.
	CreateTheme(ctx context.Context, theme *Theme) error

	// ThemeByID returns one theme, or ErrNotFound.
	ThemeByID(ctx context.Context, id string) (*Theme, error)

	ListThemes(ctx context.Context) ([]*Theme, error)
	UpdateTheme(ctx context.Context, theme *Theme) error

	// DeleteTheme removes a theme and its roster.
	DeleteTheme(ctx context.Context, id string) error

	AddThemeCharacter(ctx context.Context, char *ThemeCharacter) error

	// ThemeCharacters returns a theme's roster in sort order.
	ThemeCharacters(ctx context.Context, themeID string) ([]*ThemeCharacter, error)

	// ActiveThemeID returns the persisted active theme id, or ErrNotFound
	// when no theme has been activated.
	ActiveThemeID(ctx context.Context) (string, error)

	// SetActiveThemeID persists the active theme id; "" clears it.
	SetActiveThemeID(ctx context.Context, id string) error
}

// SettingsStore is a generic key/value table for persistent server state,
// such as the active theme id.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Store is the full persistence surface of the engine.
type Store interface {
	EventStore
	CharacterStore
	ThemeStore
	SettingsStore

	Close() error
}
