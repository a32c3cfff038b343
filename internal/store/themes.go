// ABOUTME: Theme and character roster persistence for avatar assignment
// ABOUTME: Peripheral CRUD; the engine reads the roster, the dashboard owns the rest

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// settingActiveTheme is the app_settings key holding the active theme id
const settingActiveTheme = "activeThemeId"

// CreateTheme inserts a new theme.
func (s *SQLiteStore) CreateTheme(ctx context.Context, theme *Theme) error {
	now := time.Now().UnixMilli()
	if theme.CreatedAt == 0 {
		theme.CreatedAt = now
	}
	theme.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO themes (id, name, display_name, description, light_colors, dark_colors, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		theme.ID,
		theme.Name,
		theme.DisplayName,
		nullString(theme.Description),
		rawNullable(theme.LightColors),
		rawNullable(theme.DarkColors),
		theme.CreatedAt,
		theme.UpdatedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("theme %q already exists: %w", theme.Name, err)
		}
		return fmt.Errorf("inserting theme: %w", err)
	}

	s.logger.Debug("created theme", "id", theme.ID, "name", theme.Name)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// ThemeByID retrieves a theme.
// Returns ErrNotFound if the theme doesn't exist.
func (s *SQLiteStore) ThemeByID(ctx context.Context, id string) (*Theme, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, light_colors, dark_colors, created_at, updated_at
		FROM themes WHERE id = ?
	`, id)
	return scanTheme(row)
}

func scanTheme(row *sql.Row) (*Theme, error) {
	var theme Theme
	var description, lightColors, darkColors sql.NullString

	err := row.Scan(
		&theme.ID,
		&theme.Name,
		&theme.DisplayName,
		&description,
		&lightColors,
		&darkColors,
		&theme.CreatedAt,
		&theme.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning theme: %w", err)
	}

	if description.Valid {
		theme.Description = description.String
	}
	if lightColors.Valid {
		theme.LightColors = []byte(lightColors.String)
	}
	if darkColors.Valid {
		theme.DarkColors = []byte(darkColors.String)
	}
	return &theme, nil
}

// ListThemes returns all themes ordered by creation time descending.
func (s *SQLiteStore) ListThemes(ctx context.Context) ([]*Theme, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, description, light_colors, dark_colors, created_at, updated_at
		FROM themes
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying themes: %w", err)
	}
	defer rows.Close()

	var themes []*Theme
	for rows.Next() {
		var theme Theme
		var description, lightColors, darkColors sql.NullString
		if err := rows.Scan(&theme.ID, &theme.Name, &theme.DisplayName, &description, &lightColors, &darkColors, &theme.CreatedAt, &theme.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning theme row: %w", err)
		}
		if description.Valid {
			theme.Description = description.String
		}
		if lightColors.Valid {
			theme.LightColors = []byte(lightColors.String)
		}
		if darkColors.Valid {
			theme.DarkColors = []byte(darkColors.String)
		}
		themes = append(themes, &theme)
	}
	return themes, rows.Err()
}

// UpdateTheme updates a theme's mutable fields.
// Returns ErrNotFound if the theme doesn't exist.
func (s *SQLiteStore) UpdateTheme(ctx context.Context, theme *Theme) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE themes
		SET display_name = ?, description = ?, light_colors = ?, dark_colors = ?, updated_at = ?
		WHERE id = ?
	`,
		theme.DisplayName,
		nullString(theme.Description),
		rawNullable(theme.LightColors),
		rawNullable(theme.DarkColors),
		time.Now().UnixMilli(),
		theme.ID,
	)
	if err != nil {
		return fmt.Errorf("updating theme: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTheme removes a theme and its roster (cascade).
// Returns ErrNotFound if the theme doesn't exist.
func (s *SQLiteStore) DeleteTheme(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM themes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting theme: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	// Cascade is declared on the FK but foreign_keys defaults to off per
	// connection in SQLite, so delete the roster explicitly.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM theme_characters WHERE theme_id = ?`, id); err != nil {
		return fmt.Errorf("deleting theme roster: %w", err)
	}

	s.logger.Debug("deleted theme", "id", id)
	return nil
}

// AddThemeCharacter adds a character to a theme's roster.
func (s *SQLiteStore) AddThemeCharacter(ctx context.Context, char *ThemeCharacter) error {
	if char.CreatedAt == 0 {
		char.CreatedAt = time.Now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO theme_characters (id, theme_id, character_id, display_name, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, char.ID, char.ThemeID, char.CharacterID, char.DisplayName, char.SortOrder, char.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting theme character: %w", err)
	}
	return nil
}

// ThemeCharacters returns a theme's roster in sort order.
func (s *SQLiteStore) ThemeCharacters(ctx context.Context, themeID string) ([]*ThemeCharacter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, theme_id, character_id, display_name, sort_order, created_at
		FROM theme_characters
		WHERE theme_id = ?
		ORDER BY sort_order ASC, created_at ASC
	`, themeID)
	if err != nil {
		return nil, fmt.Errorf("querying theme characters: %w", err)
	}
	defer rows.Close()

	var chars []*ThemeCharacter
	for rows.Next() {
		var c ThemeCharacter
		if err := rows.Scan(&c.ID, &c.ThemeID, &c.CharacterID, &c.DisplayName, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning theme character row: %w", err)
		}
		chars = append(chars, &c)
	}
	return chars, rows.Err()
}

// ActiveThemeID returns the persisted active theme id, or ErrNotFound when
// no theme has been activated.
func (s *SQLiteStore) ActiveThemeID(ctx context.Context) (string, error) {
	return s.GetSetting(ctx, settingActiveTheme)
}

// SetActiveThemeID persists the active theme id so it survives restarts.
// An empty id clears the setting.
func (s *SQLiteStore) SetActiveThemeID(ctx context.Context, id string) error {
	if id == "" {
		return s.DeleteSetting(ctx, settingActiveTheme)
	}
	return s.SetSetting(ctx, settingActiveTheme, id)
}
