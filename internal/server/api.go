// ABOUTME: HTTP handlers for event ingestion, agent state, and HITL responses
// ABOUTME: JSON in, JSON out; store sentinels map onto HTTP status codes

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/tracker"
)

const (
	defaultRecentLimit = 300
	maxRecentLimit     = 1000
)

var eventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentdeck",
	Subsystem: "server",
	Name:      "events_ingested_total",
	Help:      "Hook events accepted, by event type.",
}, []string{"hook_event_type"})

// handleIngestEvent accepts one hook event, persists it, folds it into the
// agent state map, and fans both the event and the refreshed state map out
// to observers.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var event store.HookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateEvent(&event); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.store.InsertEvent(r.Context(), &event)
	if err != nil {
		s.logger.Error("failed to insert event", "error", err,
			"source_app", event.SourceApp, "hook_event_type", event.HookEventType)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	eventsIngested.WithLabelValues(stored.HookEventType).Inc()

	s.tracker.Apply(r.Context(), stored.SourceApp, stored.SessionID, stored.HookEventType, stored.Payload)
	s.hub.BroadcastEvent(stored)
	s.hub.BroadcastAgentStates(s.tracker.States())

	s.sendJSON(w, http.StatusOK, stored)
}

// validateEvent checks the fields ingestion cannot default.
func validateEvent(event *store.HookEvent) error {
	switch {
	case event.SourceApp == "":
		return errors.New("source_app is required")
	case event.SessionID == "":
		return errors.New("session_id is required")
	case event.HookEventType == "":
		return errors.New("hook_event_type is required")
	case len(event.Payload) == 0:
		return errors.New("payload is required")
	}
	return nil
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.tracker.States())
}

// handleCycleCharacter advances one agent's avatar and announces the
// refreshed state map.
func (s *Server) handleCycleCharacter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentKey string `json:"agentKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentKey == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agentKey is required")
		return
	}

	characterID, err := s.tracker.CycleCharacter(r.Context(), req.AgentKey)
	if err != nil {
		if errors.Is(err, tracker.ErrUnknownAgent) {
			s.sendJSONError(w, http.StatusNotFound, "unknown agent key")
			return
		}
		s.logger.Error("failed to cycle character", "error", err, "agent_key", req.AgentKey)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.hub.BroadcastAgentStates(s.tracker.States())
	s.sendJSON(w, http.StatusOK, map[string]string{
		"agentKey":    req.AgentKey,
		"characterId": characterID,
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxRecentLimit)
	}

	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load recent events", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*store.HookEvent{}
	}
	s.sendJSON(w, http.StatusOK, events)
}

func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	options, err := s.store.FilterOptions(r.Context())
	if err != nil {
		s.logger.Error("failed to load filter options", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, options)
}

func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := s.store.EventByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "event not found")
			return
		}
		s.logger.Error("failed to load event", "error", err, "event_id", id)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, event)
}

// handleRespond records a human answer to a pending in-event request. The
// answered event is re-broadcast so every observer sees the request close.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 || !json.Valid(body) {
		s.sendJSONError(w, http.StatusBadRequest, "response body must be valid JSON")
		return
	}

	updated, err := s.correlator.Respond(r.Context(), id, body)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrEventNotFound), errors.Is(err, store.ErrNoHITLRequest):
		s.sendJSONError(w, http.StatusNotFound, "no pending request for event")
		return
	case errors.Is(err, store.ErrAlreadyResponded):
		s.sendJSONError(w, http.StatusConflict, "request already responded")
		return
	default:
		s.logger.Error("failed to record response", "error", err, "event_id", id)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.hub.BroadcastEvent(updated)
	s.sendJSON(w, http.StatusOK, updated)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
