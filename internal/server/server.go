// ABOUTME: Engine wiring and lifecycle: store, tracker, hub, correlator, HTTP server
// ABOUTME: New builds the graph, Run serves until the context ends, Shutdown drains

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/hitl"
	"github.com/agentdeck/agentdeck/internal/hub"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/tracker"
)

// Server owns every engine component. Components never reach for globals;
// the wiring here is the only place they meet.
type Server struct {
	config     *config.Config
	store      store.Store
	tracker    *tracker.Tracker
	hub        *hub.Hub
	correlator *hitl.Correlator
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a fully wired server: storage open and migrated, agent states
// restored from the event log, avatar roster loaded from the active theme.
// Nothing listens yet; Run does that.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Server{
		config:     cfg,
		store:      st,
		tracker:    tracker.New(st, logger),
		hub:        hub.New(logger),
		correlator: hitl.New(st, cfg.HITL.CallbackTimeout, logger),
		logger:     logger.With("component", "server"),
	}

	ctx := context.Background()
	if roster, err := s.activeRoster(ctx); err != nil {
		logger.Warn("failed to load active theme roster, using defaults", "error", err)
	} else {
		s.tracker.SetRoster(roster)
	}

	if err := s.tracker.Restore(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("restoring agent states: %w", err)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// activeRoster resolves the character roster of the persisted active theme.
// No active theme (or an empty roster) means the builtin defaults.
func (s *Server) activeRoster(ctx context.Context) ([]string, error) {
	themeID, err := s.store.ActiveThemeID(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return tracker.DefaultRoster(), nil
	}
	if err != nil {
		return nil, err
	}

	chars, err := s.store.ThemeCharacters(ctx, themeID)
	if err != nil {
		return nil, err
	}
	if len(chars) == 0 {
		return tracker.DefaultRoster(), nil
	}

	roster := make([]string, 0, len(chars))
	for _, c := range chars {
		roster = append(roster, c.CharacterID)
	}
	return roster, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /events", s.handleIngestEvent)
	mux.HandleFunc("GET /events/recent", s.handleRecentEvents)
	mux.HandleFunc("GET /events/filter-options", s.handleFilterOptions)
	mux.HandleFunc("GET /events/{id}", s.handleEventByID)
	mux.HandleFunc("POST /events/{id}/respond", s.handleRespond)

	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("POST /agents/cycle-character", s.handleCycleCharacter)

	mux.HandleFunc("GET /api/themes", s.handleListThemes)
	mux.HandleFunc("POST /api/themes", s.handleCreateTheme)
	mux.HandleFunc("GET /api/themes/{id}", s.handleGetTheme)
	mux.HandleFunc("PUT /api/themes/{id}", s.handleUpdateTheme)
	mux.HandleFunc("DELETE /api/themes/{id}", s.handleDeleteTheme)
	mux.HandleFunc("POST /api/themes/{id}/activate", s.handleActivateTheme)
	mux.HandleFunc("GET /api/active-theme", s.handleActiveTheme)
	mux.HandleFunc("GET /api/characters", s.handleCharacters)

	mux.HandleFunc("GET /stream", s.handleStream)

	if s.config.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Path, promhttp.Handler())
	}
}

// Run serves HTTP and sweeps agent states until ctx is cancelled, then
// shuts down gracefully. Returns the first fatal server error, if any.
func (s *Server) Run(ctx context.Context) error {
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go s.tracker.Run(sweepCtx, s.config.Sweeper.Interval, func() {
		s.hub.BroadcastAgentStates(s.tracker.States())
	})

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.config.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled; shutdown gets a fresh deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && serverErr == nil {
		serverErr = err
	}
	return serverErr
}

// Shutdown drains the HTTP server, disconnects observers, and closes the
// store. Safe to call once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.hub.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	return errors.Join(errs...)
}

// withCORS allows the dashboard (served from a different origin) to call
// the API and preflights to short-circuit.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStream upgrades observers onto the hub, seeding each with the
// recent-event snapshot and the current agent state map.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.RecentEvents(r.Context(), s.config.Stream.SnapshotLimit)
	if err != nil {
		s.logger.Error("failed to load snapshot events", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	snapshot := []hub.Envelope{
		{Type: hub.TypeInitial, Data: events},
		{Type: hub.TypeAgentStates, Data: s.tracker.States()},
	}
	s.hub.ServeWS(w, r, snapshot)
}
