// ABOUTME: Sticky avatar assignment persistence keyed by agent key
// ABOUTME: Guarantees visual identity stability across reconnects and restarts

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CharacterFor retrieves the persisted avatar for an agent key.
// Returns ErrNotFound if the agent has never been assigned one.
func (s *SQLiteStore) CharacterFor(ctx context.Context, agentKey string) (string, error) {
	var characterID string
	err := s.db.QueryRowContext(ctx,
		`SELECT character_id FROM agent_characters WHERE agent_key = ?`, agentKey).Scan(&characterID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying character assignment: %w", err)
	}
	return characterID, nil
}

// AssignCharacter persists the avatar for an agent key, replacing any
// previous assignment.
func (s *SQLiteStore) AssignCharacter(ctx context.Context, agentKey, characterID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agent_characters (agent_key, character_id) VALUES (?, ?)`,
		agentKey, characterID)
	if err != nil {
		return fmt.Errorf("saving character assignment: %w", err)
	}

	s.logger.Debug("assigned character", "agent_key", agentKey, "character_id", characterID)
	return nil
}
