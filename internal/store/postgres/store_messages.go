package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"driftchat-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ListMessages returns all messages of a conversation ordered by update
// timestamp. Ordering by updated_at rather than insertion order is what keeps
// branched/rewritten messages in their logical position.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, status, parts, metadata, created_at, updated_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY updated_at ASC`

	rows, err := s.db.Query(ctx, query, conversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("failed to list messages")
		return nil, fmt.Errorf("database error listing messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var partsJSON []byte
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Content,
			&msg.Status,
			&partsJSON,
			&msg.Metadata,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("database error scanning message: %w", err)
		}
		if len(partsJSON) > 0 {
			if err := json.Unmarshal(partsJSON, &msg.Parts); err != nil {
				return nil, fmt.Errorf("failed to parse message parts: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error iterating messages: %w", err)
	}

	return messages, nil
}

// InsertMessage inserts a single message record.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, role, content, status, parts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	status := msg.Status
	if status == "" {
		status = models.MessageStatusCompleted
	}

	var partsJSON []byte
	if len(msg.Parts) > 0 {
		var err error
		partsJSON, err = json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("failed to marshal message parts: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		status,
		partsJSON,
		msg.Metadata,
	)

	if err != nil {
		log.Error().Err(err).
			Str("message_id", msg.ID.String()).
			Str("conversation_id", msg.ConversationID.String()).
			Msg("failed to insert message")
		return fmt.Errorf("database error inserting message: %w", err)
	}

	return nil
}

// DeleteMessage deletes a message by id. Deleting an already-absent message is
// not an error; reconciliation relies on this being idempotent.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM messages
		WHERE id = $1`

	if _, err := s.db.Exec(ctx, query, id); err != nil {
		log.Error().Err(err).Str("message_id", id.String()).Msg("failed to delete message")
		return fmt.Errorf("database error deleting message: %w", err)
	}
	return nil
}
