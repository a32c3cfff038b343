// ABOUTME: In-memory agent state machine derived from the hook event stream
// ABOUTME: Owns states, subagent FIFO queues, and sticky avatar assignment under one lock

package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/store"
)

// ErrUnknownAgent is returned when an operation references an agent key the
// tracker has never seen.
var ErrUnknownAgent = errors.New("unknown agent key")

// builtinCharacterIDs seed avatar assignment when no theme roster exists.
var builtinCharacterIDs = []string{"frieren", "fern", "stark", "himmel"}

// canvasFallbackIDs extend the cycle order with canvas-rendered avatars that
// need no sprite assets.
var canvasFallbackIDs = []string{"char_a", "char_b", "char_c", "char_d", "char_e"}

// DefaultRoster returns the builtin character ids used when no theme is
// active.
func DefaultRoster() []string {
	roster := make([]string, len(builtinCharacterIDs))
	copy(roster, builtinCharacterIDs)
	return roster
}

// AgentState is the derived view of one agent lifeline (or one ephemeral
// subagent task). Field names match the wire format observers consume.
type AgentState struct {
	Status        Status `json:"status"`
	LastEvent     string `json:"lastEvent"`
	LastUpdated   int64  `json:"lastUpdated"` // ms epoch
	CharacterID   string `json:"characterId"`
	SubagentCount int    `json:"subagentCount"`
	IsSubagent    bool   `json:"isSubagent"`
	Description   string `json:"description,omitempty"`
}

// Store is the persistence surface the tracker needs: lifeline lookups for
// subagent classification and restart recovery, plus sticky avatars.
type Store interface {
	FirstEventType(ctx context.Context, sourceApp, sessionID string) (string, error)
	Lifelines(ctx context.Context) ([]*store.Lifeline, error)
	CharacterFor(ctx context.Context, agentKey string) (string, error)
	AssignCharacter(ctx context.Context, agentKey, characterID string) error
}

// Tracker owns the agent state map. All mutation — ingestion-driven Apply,
// timer-driven Sweep, and roster operations — runs under one mutex so the
// two producers can never race a transition.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*AgentState

	// taskQueues maps a parent agent key to its in-flight synthetic task
	// keys, oldest first. Invariant: len(queue) == parent.SubagentCount.
	taskQueues map[string][]string

	roster           []string
	characterCounter int
	taskCounter      int

	store  Store
	logger *slog.Logger
}

// New creates a tracker backed by the given store. The roster starts with
// the builtin character set; SetRoster replaces it once theme data is known.
func New(s Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		states:     make(map[string]*AgentState),
		taskQueues: make(map[string][]string),
		roster:     builtinCharacterIDs,
		store:      s,
		logger:     logger.With("component", "tracker"),
	}
}

// Key derives the agent identity from an event's source app and session id.
// Two events with the same key belong to the same logical agent lifeline.
func Key(sourceApp, sessionID string) string {
	prefix := sessionID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return sourceApp + ":" + prefix
}

// SetRoster replaces the avatar roster used for round-robin assignment.
// An empty roster falls back to the builtin character set.
func (t *Tracker) SetRoster(characterIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(characterIDs) == 0 {
		characterIDs = builtinCharacterIDs
	}
	t.roster = characterIDs
}

// States returns a copy of the current agent state map.
func (t *Tracker) States() map[string]AgentState {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]AgentState, len(t.states))
	for key, state := range t.states {
		snapshot[key] = *state
	}
	return snapshot
}

// Apply folds one ingested event into the state map. Events for the same
// key are processed in arrival order; the caller broadcasts the state map
// afterwards.
func (t *Tracker) Apply(ctx context.Context, sourceApp, sessionID, eventType string, payload json.RawMessage) {
	agentKey := Key(sourceApp, sessionID)
	now := time.Now().UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch eventType {
	case EventSubagentStart:
		t.applySubagentStart(agentKey, payload, now)
	case EventSubagentStop:
		t.applySubagentStop(agentKey, now)
	default:
		t.applyEvent(ctx, agentKey, sourceApp, sessionID, eventType, payload, now)
	}
}

// applySubagentStart increments the parent's subagent count and creates an
// ephemeral task entry queued on the parent's FIFO. A start event for an
// unknown parent is dropped (the parent lifeline has never emitted anything).
func (t *Tracker) applySubagentStart(agentKey string, payload json.RawMessage, now int64) {
	parent, ok := t.states[agentKey]
	if !ok {
		return
	}

	parent.Status = StatusOrchestrating
	parent.LastEvent = EventSubagentStart
	parent.LastUpdated = now
	parent.SubagentCount++

	t.taskCounter++
	taskKey := fmt.Sprintf("%s~task%d", agentKey, t.taskCounter)
	t.states[taskKey] = &AgentState{
		Status:      StatusWorking,
		LastEvent:   EventSubagentStart,
		LastUpdated: now,
		IsSubagent:  true,
		Description: parsePayload(payload).Description,
	}
	t.taskQueues[agentKey] = append(t.taskQueues[agentKey], taskKey)
}

// applySubagentStop decrements the parent's count (floor 0) and resolves the
// oldest queued task. Completion events carry no correlation id, so
// oldest-started-finishes-first is a deliberate approximation. Popping an
// empty queue is a no-op, defending against out-of-order delivery.
func (t *Tracker) applySubagentStop(agentKey string, now int64) {
	parent, ok := t.states[agentKey]
	if !ok {
		return
	}

	if parent.SubagentCount > 0 {
		parent.SubagentCount--
	}
	if parent.SubagentCount > 0 {
		parent.Status = StatusOrchestrating
	} else {
		parent.Status = StatusDone
	}
	parent.LastEvent = EventSubagentStop
	parent.LastUpdated = now

	queue := t.taskQueues[agentKey]
	if len(queue) > 0 {
		taskKey := queue[0]
		t.taskQueues[agentKey] = queue[1:]
		if len(t.taskQueues[agentKey]) == 0 {
			delete(t.taskQueues, agentKey)
		}
		if task, ok := t.states[taskKey]; ok {
			task.Status = StatusDone
			task.LastEvent = EventSubagentStop
			task.LastUpdated = now
		}
	}
}

// applyEvent handles every non-subagent event type: classify the status,
// determine subagent-ness for brand-new keys, and keep the avatar sticky.
func (t *Tracker) applyEvent(ctx context.Context, agentKey, sourceApp, sessionID, eventType string, payload json.RawMessage, now int64) {
	existing, ok := t.states[agentKey]

	var isSubagent bool
	var subagentCount int
	if ok {
		isSubagent = existing.IsSubagent
		subagentCount = existing.SubagentCount
	} else {
		// A lifeline whose first-ever event was not session-initiating is a
		// subagent. The event log is the authority here: after a restart the
		// memory map is empty but the log still knows how the lifeline began.
		first, err := t.store.FirstEventType(ctx, sourceApp, sessionID)
		if err != nil {
			first = eventType
		}
		isSubagent = !sessionInitiating[first]
	}

	characterID := t.lockedCharacterFor(ctx, agentKey)

	t.states[agentKey] = &AgentState{
		Status:        Classify(eventType, payload),
		LastEvent:     eventType,
		LastUpdated:   now,
		CharacterID:   characterID,
		SubagentCount: subagentCount,
		IsSubagent:    isSubagent,
	}
}

// lockedCharacterFor returns the sticky avatar for a key: memory first, then
// the persisted assignment table, then round-robin over the roster with the
// pick persisted. Must be called with t.mu held.
func (t *Tracker) lockedCharacterFor(ctx context.Context, agentKey string) string {
	if existing, ok := t.states[agentKey]; ok && existing.CharacterID != "" {
		return existing.CharacterID
	}

	if persisted, err := t.store.CharacterFor(ctx, agentKey); err == nil {
		return persisted
	}

	characterID := t.roster[t.characterCounter%len(t.roster)]
	t.characterCounter++
	if err := t.store.AssignCharacter(ctx, agentKey, characterID); err != nil {
		// Assignment survives in memory for this process; only restart
		// stickiness is at risk
		t.logger.Warn("failed to persist character assignment",
			"agent_key", agentKey, "error", err)
	}
	return characterID
}

// cycleOrder is the roster extended with canvas fallback ids not already in it.
func (t *Tracker) cycleOrder() []string {
	order := make([]string, 0, len(t.roster)+len(canvasFallbackIDs))
	seen := make(map[string]bool, len(t.roster))
	for _, id := range t.roster {
		order = append(order, id)
		seen[id] = true
	}
	for _, id := range canvasFallbackIDs {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return order
}

// CycleCharacter advances an agent's avatar to the next in the cycle order
// and persists the pick immediately. Returns ErrUnknownAgent for keys not in
// the state map.
func (t *Tracker) CycleCharacter(ctx context.Context, agentKey string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[agentKey]
	if !ok {
		return "", ErrUnknownAgent
	}

	order := t.cycleOrder()
	next := order[0]
	for i, id := range order {
		if id == state.CharacterID {
			next = order[(i+1)%len(order)]
			break
		}
	}

	state.CharacterID = next
	if err := t.store.AssignCharacter(ctx, agentKey, next); err != nil {
		return "", fmt.Errorf("persisting cycled character: %w", err)
	}
	return next, nil
}

// ReassignRoster swaps the roster and re-assigns every non-subagent agent an
// avatar from it, round-robin, persisting each pick. Used on theme
// activation so all agents move to the new cast at once.
func (t *Tracker) ReassignRoster(ctx context.Context, characterIDs []string) error {
	if len(characterIDs) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.roster = characterIDs
	t.characterCounter = 0

	for key, state := range t.states {
		if state.IsSubagent {
			continue
		}
		characterID := characterIDs[t.characterCounter%len(characterIDs)]
		t.characterCounter++
		state.CharacterID = characterID
		if err := t.store.AssignCharacter(ctx, key, characterID); err != nil {
			return fmt.Errorf("persisting reassigned character for %s: %w", key, err)
		}
	}
	return nil
}

// Restore rebuilds the state map from the event log after a restart. Each
// lifeline's most recent event reconstructs its status, with the timeout
// thresholds applied immediately so a long-dead session restores straight
// into OFFLINE rather than its stale last-known status. Subagent task
// entries are ephemeral and never restored. Lifelines already past the
// OFFLINE deletion grace period are skipped entirely.
func (t *Tracker) Restore(ctx context.Context) error {
	lifelines, err := t.store.Lifelines(ctx)
	if err != nil {
		return fmt.Errorf("loading lifelines: %w", err)
	}

	now := time.Now().UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	restored := 0
	for _, lf := range lifelines {
		if !sessionInitiating[lf.FirstEventType] {
			continue
		}

		agentKey := Key(lf.SourceApp, lf.SessionID)
		status := Classify(lf.LastEventType, lf.LastPayload)
		elapsed := time.Duration(now-lf.LastTimestamp) * time.Millisecond

		switch {
		case elapsed > offlineAfter:
			status = StatusOffline
		case status == StatusDone && elapsed > doneToWaiting:
			status = StatusWaiting
		case elapsed > idleAfter && !idleExempt[status]:
			status = StatusWaiting
		}

		// Would already have been swept away
		if status == StatusOffline && elapsed > offlineDeleteAfter {
			continue
		}

		t.states[agentKey] = &AgentState{
			Status:      status,
			LastEvent:   lf.LastEventType,
			LastUpdated: lf.LastTimestamp,
			CharacterID: t.lockedCharacterFor(ctx, agentKey),
		}
		restored++
	}

	t.logger.Info("restored agent states", "count", restored)
	return nil
}
