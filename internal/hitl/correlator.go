// ABOUTME: Correlates human responses with pending in-event HITL requests
// ABOUTME: Persists the answer exactly once and delivers optional agent callbacks

package hitl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentdeck/agentdeck/internal/store"
)

// DefaultCallbackTimeout bounds the fire-and-forget delivery of a response
// back to the agent that asked for it.
const DefaultCallbackTimeout = 5 * time.Second

var (
	callbackDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Subsystem: "hitl",
		Name:      "callback_deliveries_total",
		Help:      "Successful response callback deliveries to agents.",
	})
	callbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Subsystem: "hitl",
		Name:      "callback_failures_total",
		Help:      "Response callback deliveries that failed or returned non-2xx.",
	})
)

// EventStore is the slice of the store the correlator needs.
type EventStore interface {
	RespondToEvent(ctx context.Context, id int64, response json.RawMessage, respondedAt int64) (*store.HookEvent, error)
}

// Correlator answers pending human-in-the-loop requests. The persisted
// transition is the source of truth; callback delivery to the agent is
// best-effort and never affects the outcome.
type Correlator struct {
	store           EventStore
	client          *http.Client
	callbackTimeout time.Duration
	logger          *slog.Logger
}

// New creates a correlator. A zero callbackTimeout falls back to
// DefaultCallbackTimeout.
func New(s EventStore, callbackTimeout time.Duration, logger *slog.Logger) *Correlator {
	if callbackTimeout <= 0 {
		callbackTimeout = DefaultCallbackTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		store:           s,
		client:          &http.Client{Timeout: callbackTimeout},
		callbackTimeout: callbackTimeout,
		logger:          logger.With("component", "hitl"),
	}
}

// Respond records a human response against the event's pending request and
// returns the updated event. Errors pass through the store's sentinels:
// store.ErrEventNotFound, store.ErrNoHITLRequest, store.ErrAlreadyResponded.
//
// When the request carries a callback URL, the raw response JSON is POSTed
// to it on a detached goroutine. Delivery failure is logged and counted but
// never rolls back the recorded response.
func (c *Correlator) Respond(ctx context.Context, eventID int64, response json.RawMessage) (*store.HookEvent, error) {
	updated, err := c.store.RespondToEvent(ctx, eventID, response, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("recording response for event %d: %w", eventID, err)
	}

	if updated.HITL != nil && updated.HITL.CallbackURL != "" {
		go c.deliverCallback(updated.HITL.CallbackURL, eventID, response)
	}
	return updated, nil
}

// deliverCallback POSTs the response to the agent's callback URL. Runs off
// the request path with its own deadline; the waiting agent has its own
// timeout, so there is no retry.
func (c *Correlator) deliverCallback(url string, eventID int64, response json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), c.callbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(response))
	if err != nil {
		callbackFailures.Inc()
		c.logger.Warn("invalid callback url", "event_id", eventID, "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		callbackFailures.Inc()
		c.logger.Warn("callback delivery failed", "event_id", eventID, "url", url, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		callbackFailures.Inc()
		c.logger.Warn("callback rejected", "event_id", eventID, "url", url, "status", resp.StatusCode)
		return
	}

	callbackDeliveries.Inc()
	c.logger.Debug("callback delivered", "event_id", eventID, "url", url)
}
