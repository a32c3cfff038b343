// ABOUTME: Hook event log operations for the SQLite store
// ABOUTME: Append-only inserts, recency queries, and the HITL status transition

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertEvent appends a hook event to the log. The id is assigned by the
// database; the timestamp defaults to ingestion time when absent. If the
// event carries a HITL request and no status, the status is initialized to
// pending. Returns the stored record.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event *HookEvent) (*HookEvent, error) {
	timestamp := event.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	hitlStatus := event.HITLStatus
	if event.HITL != nil && hitlStatus == nil {
		hitlStatus = &HITLStatus{Status: HITLStatusPending}
	}

	hitlJSON, err := marshalNullable(event.HITL)
	if err != nil {
		return nil, fmt.Errorf("encoding HITL request: %w", err)
	}
	statusJSON, err := marshalNullable(hitlStatus)
	if err != nil {
		return nil, fmt.Errorf("encoding HITL status: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (source_app, session_id, hook_event_type, payload, chat, summary, timestamp, human_in_the_loop, human_in_the_loop_status, model_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.SourceApp,
		event.SessionID,
		event.HookEventType,
		string(event.Payload),
		rawNullable(event.Chat),
		nullString(event.Summary),
		timestamp,
		hitlJSON,
		statusJSON,
		nullString(event.ModelName),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting inserted event id: %w", err)
	}

	stored := *event
	stored.ID = id
	stored.Timestamp = timestamp
	stored.HITLStatus = hitlStatus

	s.logger.Debug("inserted event",
		"id", id,
		"source_app", event.SourceApp,
		"type", event.HookEventType)
	return &stored, nil
}

const eventColumns = `id, source_app, session_id, hook_event_type, payload, chat, summary, timestamp, human_in_the_loop, human_in_the_loop_status, model_name`

// RecentEvents returns the most recent limit events in chronological order
// (oldest first). If limit is 0 or negative, a default of 300 is used.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]*HookEvent, error) {
	if limit <= 0 {
		limit = 300
	}
	if limit > 1000 {
		limit = 1000
	}

	// Most recent N, returned ascending so clients can append in order
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM (
			SELECT `+eventColumns+`
			FROM events
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	var events []*HookEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// EventByID retrieves a single event.
// Returns ErrEventNotFound if the event doesn't exist.
func (s *SQLiteStore) EventByID(ctx context.Context, id int64) (*HookEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE id = ?
	`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// RespondToEvent marks a pending HITL request as responded with the given
// payload and timestamp. The transition is guarded in SQL so it happens at
// most once: a second call returns ErrAlreadyResponded and leaves the first
// response intact.
func (s *SQLiteStore) RespondToEvent(ctx context.Context, id int64, response json.RawMessage, respondedAt int64) (*HookEvent, error) {
	status := &HITLStatus{
		Status:      HITLStatusResponded,
		RespondedAt: respondedAt,
		Response:    response,
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("encoding HITL status: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET human_in_the_loop_status = ?
		WHERE id = ?
		  AND human_in_the_loop IS NOT NULL
		  AND json_extract(human_in_the_loop_status, '$.status') = ?
	`, string(statusJSON), id, HITLStatusPending)
	if err != nil {
		return nil, fmt.Errorf("updating HITL status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Distinguish why the guarded update matched nothing
		event, err := s.EventByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if event.HITL == nil {
			return nil, ErrNoHITLRequest
		}
		return nil, ErrAlreadyResponded
	}

	s.logger.Info("HITL request responded", "event_id", id)
	return s.EventByID(ctx, id)
}

// FilterOptions returns the distinct source apps, recent session ids, and
// event types seen so far, for populating dashboard filters.
func (s *SQLiteStore) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	sourceApps, err := s.distinctStrings(ctx,
		`SELECT DISTINCT source_app FROM events ORDER BY source_app`)
	if err != nil {
		return nil, fmt.Errorf("querying source apps: %w", err)
	}

	sessionIDs, err := s.distinctStrings(ctx,
		`SELECT DISTINCT session_id FROM events ORDER BY session_id DESC LIMIT 300`)
	if err != nil {
		return nil, fmt.Errorf("querying session ids: %w", err)
	}

	eventTypes, err := s.distinctStrings(ctx,
		`SELECT DISTINCT hook_event_type FROM events ORDER BY hook_event_type`)
	if err != nil {
		return nil, fmt.Errorf("querying event types: %w", err)
	}

	return &FilterOptions{
		SourceApps:     sourceApps,
		SessionIDs:     sessionIDs,
		HookEventTypes: eventTypes,
	}, nil
}

func (s *SQLiteStore) distinctStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Lifelines returns every distinct (source_app, session_id) pair with its
// first event type and most recent event, ordered by last event time
// ascending. Restart recovery walks this to rebuild agent state in the same
// order the round-robin avatar counter originally advanced.
func (s *SQLiteStore) Lifelines(ctx context.Context) ([]*Lifeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.source_app, f.session_id, f.first_type, l.hook_event_type, l.payload, l.timestamp
		FROM (
			SELECT e.source_app, e.session_id, e.hook_event_type AS first_type
			FROM events e
			JOIN (
				SELECT source_app, session_id, MIN(id) AS min_id
				FROM events GROUP BY source_app, session_id
			) fm ON e.id = fm.min_id
		) f
		JOIN (
			SELECT e.source_app, e.session_id, e.hook_event_type, e.payload, e.timestamp
			FROM events e
			JOIN (
				SELECT source_app, session_id, MAX(id) AS max_id
				FROM events GROUP BY source_app, session_id
			) lm ON e.id = lm.max_id
		) l ON f.source_app = l.source_app AND f.session_id = l.session_id
		ORDER BY l.timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying lifelines: %w", err)
	}
	defer rows.Close()

	var lifelines []*Lifeline
	for rows.Next() {
		var lf Lifeline
		var payload string
		if err := rows.Scan(&lf.SourceApp, &lf.SessionID, &lf.FirstEventType, &lf.LastEventType, &payload, &lf.LastTimestamp); err != nil {
			return nil, fmt.Errorf("scanning lifeline row: %w", err)
		}
		lf.LastPayload = json.RawMessage(payload)
		lifelines = append(lifelines, &lf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifeline rows: %w", err)
	}
	return lifelines, nil
}

// FirstEventType returns the type of the earliest event ever seen for a
// lifeline. Returns ErrEventNotFound if the lifeline has no events.
func (s *SQLiteStore) FirstEventType(ctx context.Context, sourceApp, sessionID string) (string, error) {
	var eventType string
	err := s.db.QueryRowContext(ctx, `
		SELECT hook_event_type FROM events
		WHERE source_app = ? AND session_id = ?
		ORDER BY id ASC LIMIT 1
	`, sourceApp, sessionID).Scan(&eventType)
	if err == sql.ErrNoRows {
		return "", ErrEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying first event: %w", err)
	}
	return eventType, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*HookEvent, error) {
	var event HookEvent
	var payload string
	var chat, summary, hitl, hitlStatus, modelName sql.NullString

	err := row.Scan(
		&event.ID,
		&event.SourceApp,
		&event.SessionID,
		&event.HookEventType,
		&payload,
		&chat,
		&summary,
		&event.Timestamp,
		&hitl,
		&hitlStatus,
		&modelName,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	event.Payload = json.RawMessage(payload)
	if chat.Valid {
		event.Chat = json.RawMessage(chat.String)
	}
	if summary.Valid {
		event.Summary = summary.String
	}
	if modelName.Valid {
		event.ModelName = modelName.String
	}
	if hitl.Valid {
		var req HITLRequest
		if err := json.Unmarshal([]byte(hitl.String), &req); err != nil {
			return nil, fmt.Errorf("decoding HITL request: %w", err)
		}
		event.HITL = &req
	}
	if hitlStatus.Valid {
		var status HITLStatus
		if err := json.Unmarshal([]byte(hitlStatus.String), &status); err != nil {
			return nil, fmt.Errorf("decoding HITL status: %w", err)
		}
		event.HITLStatus = &status
	}

	return &event, nil
}

// marshalNullable returns nil for nil pointers, otherwise the JSON encoding
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *HITLRequest:
		if val == nil {
			return nil, nil
		}
	case *HITLStatus:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// rawNullable returns nil for empty raw JSON, otherwise the string form
func rawNullable(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
