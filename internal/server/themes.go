// ABOUTME: HTTP handlers for theme CRUD, activation, and the character roster
// ABOUTME: Activation reassigns every agent's avatar and notifies observers

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/tracker"
)

// themeRequest is the mutable surface of a theme plus an optional roster,
// accepted on create and update.
type themeRequest struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	DisplayName string          `json:"displayName"`
	Description string          `json:"description,omitempty"`
	LightColors json.RawMessage `json:"lightColors,omitempty"`
	DarkColors  json.RawMessage `json:"darkColors,omitempty"`
	Characters  []rosterEntry   `json:"characters,omitempty"`
}

type rosterEntry struct {
	CharacterID string `json:"characterId"`
	DisplayName string `json:"displayName,omitempty"`
}

// themeResponse bundles a theme with its roster.
type themeResponse struct {
	*store.Theme
	Characters []*store.ThemeCharacter `json:"characters"`
}

func (s *Server) handleListThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := s.store.ListThemes(r.Context())
	if err != nil {
		s.logger.Error("failed to list themes", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if themes == nil {
		themes = []*store.Theme{}
	}
	s.sendJSON(w, http.StatusOK, themes)
}

func (s *Server) handleCreateTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Name
	}

	theme := &store.Theme{
		ID:          req.ID,
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		LightColors: req.LightColors,
		DarkColors:  req.DarkColors,
	}
	if err := s.store.CreateTheme(r.Context(), theme); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			s.sendJSONError(w, http.StatusConflict, "theme already exists")
			return
		}
		s.logger.Error("failed to create theme", "error", err, "name", req.Name)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	chars, err := s.replaceRoster(r, theme.ID, req.Characters)
	if err != nil {
		s.logger.Error("failed to store theme roster", "error", err, "theme_id", theme.ID)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.hub.BroadcastCharactersUpdated(chars)
	s.sendJSON(w, http.StatusCreated, themeResponse{Theme: theme, Characters: chars})
}

func (s *Server) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := s.store.ThemeByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.themeError(w, err, r.PathValue("id"))
		return
	}
	chars, err := s.store.ThemeCharacters(r.Context(), theme.ID)
	if err != nil {
		s.themeError(w, err, theme.ID)
		return
	}
	s.sendJSON(w, http.StatusOK, themeResponse{Theme: theme, Characters: chars})
}

func (s *Server) handleUpdateTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := r.PathValue("id")
	theme := &store.Theme{
		ID:          id,
		DisplayName: req.DisplayName,
		Description: req.Description,
		LightColors: req.LightColors,
		DarkColors:  req.DarkColors,
	}
	if err := s.store.UpdateTheme(r.Context(), theme); err != nil {
		s.themeError(w, err, id)
		return
	}

	updated, err := s.store.ThemeByID(r.Context(), id)
	if err != nil {
		s.themeError(w, err, id)
		return
	}
	chars, err := s.store.ThemeCharacters(r.Context(), id)
	if err != nil {
		s.themeError(w, err, id)
		return
	}
	s.sendJSON(w, http.StatusOK, themeResponse{Theme: updated, Characters: chars})
}

func (s *Server) handleDeleteTheme(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteTheme(r.Context(), id); err != nil {
		s.themeError(w, err, id)
		return
	}

	// Deleting the active theme deactivates it and the defaults take over.
	if activeID, err := s.store.ActiveThemeID(r.Context()); err == nil && activeID == id {
		if err := s.store.SetActiveThemeID(r.Context(), ""); err != nil {
			s.logger.Warn("failed to clear active theme", "error", err, "theme_id", id)
		}
		s.tracker.SetRoster(nil)
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// handleActivateTheme makes a theme current: its roster becomes the avatar
// pool, every non-subagent agent is re-dressed from it, and observers are
// told about both the theme and the resulting state map.
func (s *Server) handleActivateTheme(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	theme, err := s.store.ThemeByID(r.Context(), id)
	if err != nil {
		s.themeError(w, err, id)
		return
	}

	chars, err := s.store.ThemeCharacters(r.Context(), id)
	if err != nil {
		s.themeError(w, err, id)
		return
	}

	roster := make([]string, 0, len(chars))
	for _, c := range chars {
		roster = append(roster, c.CharacterID)
	}
	if len(roster) == 0 {
		roster = tracker.DefaultRoster()
	}

	if err := s.tracker.ReassignRoster(r.Context(), roster); err != nil {
		s.logger.Error("failed to reassign roster", "error", err, "theme_id", id)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.store.SetActiveThemeID(r.Context(), id); err != nil {
		s.logger.Error("failed to persist active theme", "error", err, "theme_id", id)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.hub.BroadcastThemeActivated(themeResponse{Theme: theme, Characters: chars})
	s.hub.BroadcastAgentStates(s.tracker.States())
	s.sendJSON(w, http.StatusOK, themeResponse{Theme: theme, Characters: chars})
}

// handleActiveTheme returns the active theme with its roster, or null when
// no theme has been activated.
func (s *Server) handleActiveTheme(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.ActiveThemeID(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to read active theme", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	theme, err := s.store.ThemeByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		// Stale pointer to a deleted theme
		s.sendJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		s.themeError(w, err, id)
		return
	}
	chars, err := s.store.ThemeCharacters(r.Context(), id)
	if err != nil {
		s.themeError(w, err, id)
		return
	}
	s.sendJSON(w, http.StatusOK, themeResponse{Theme: theme, Characters: chars})
}

// handleCharacters returns the avatar roster agents draw from: the active
// theme's roster, or the builtin defaults when no theme is active.
func (s *Server) handleCharacters(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.ActiveThemeID(r.Context())
	if err == nil {
		chars, charsErr := s.store.ThemeCharacters(r.Context(), id)
		if charsErr != nil {
			s.logger.Error("failed to load theme roster", "error", charsErr, "theme_id", id)
			s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if len(chars) > 0 {
			s.sendJSON(w, http.StatusOK, chars)
			return
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to read active theme", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	defaults := make([]*store.ThemeCharacter, 0, len(tracker.DefaultRoster()))
	for i, characterID := range tracker.DefaultRoster() {
		defaults = append(defaults, &store.ThemeCharacter{
			ID:          characterID,
			CharacterID: characterID,
			DisplayName: characterID,
			SortOrder:   i,
		})
	}
	s.sendJSON(w, http.StatusOK, defaults)
}

// replaceRoster stores a theme's roster entries in request order.
func (s *Server) replaceRoster(r *http.Request, themeID string, entries []rosterEntry) ([]*store.ThemeCharacter, error) {
	chars := make([]*store.ThemeCharacter, 0, len(entries))
	for i, entry := range entries {
		if entry.CharacterID == "" {
			continue
		}
		char := &store.ThemeCharacter{
			ID:          uuid.NewString(),
			ThemeID:     themeID,
			CharacterID: entry.CharacterID,
			DisplayName: entry.DisplayName,
			SortOrder:   i,
		}
		if err := s.store.AddThemeCharacter(r.Context(), char); err != nil {
			return nil, err
		}
		chars = append(chars, char)
	}
	return chars, nil
}

// themeError maps store errors on theme routes to HTTP statuses.
func (s *Server) themeError(w http.ResponseWriter, err error, themeID string) {
	if errors.Is(err, store.ErrNotFound) {
		s.sendJSONError(w, http.StatusNotFound, "theme not found")
		return
	}
	s.logger.Error("theme operation failed", "error", err, "theme_id", themeID)
	s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}
