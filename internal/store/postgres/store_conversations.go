package postgres

import (
	"context"
	"errors"
	"fmt"

	"driftchat-backend/internal/models"
	"driftchat-backend/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const conversationColumns = `id, user_id, title, model_id, is_pinned, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&conv.Title,
		&conv.ModelID,
		&conv.IsPinned,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by id.
// Returns store.ErrNotFound if it does not exist.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = $1`

	conv, err := scanConversation(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		log.Error().Err(err).Str("conversation_id", id.String()).Msg("failed to fetch conversation")
		return nil, fmt.Errorf("database error fetching conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation inserts a new conversation record.
// Returns store.ErrDuplicateKey when the id already exists, so callers racing
// to create the same conversation can fall back to a re-read.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title, model_id, is_pinned)
		VALUES ($1, $2, $3, $4, $5)`

	title := conv.Title
	if title == "" {
		title = models.DefaultConversationTitle
	}

	_, err := s.db.Exec(ctx, query,
		conv.ID,
		conv.UserID,
		title,
		conv.ModelID,
		conv.IsPinned,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateKey
		}
		log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("failed to insert conversation")
		return fmt.Errorf("database error creating conversation: %w", err)
	}

	return nil
}

// UpdateConversation applies a partial update and returns the updated record.
// Returns store.ErrNotFound when the conversation does not exist.
func (s *PostgresStore) UpdateConversation(ctx context.Context, arg store.UpdateConversationParams) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET title     = COALESCE($2, title),
		    model_id  = COALESCE($3, model_id),
		    is_pinned = COALESCE($4, is_pinned),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + conversationColumns

	conv, err := scanConversation(s.db.QueryRow(ctx, query,
		arg.ID,
		arg.Title,
		arg.ModelID,
		arg.IsPinned,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		log.Error().Err(err).Str("conversation_id", arg.ID.String()).Msg("failed to update conversation")
		return nil, fmt.Errorf("database error updating conversation: %w", err)
	}
	return conv, nil
}

// DeleteConversation deletes a conversation owned by the given user.
// Messages cascade via the foreign key. Returns store.ErrNotFound when no row
// matched (missing or not owned).
func (s *PostgresStore) DeleteConversation(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	query := `
		DELETE FROM conversations
		WHERE id = $1 AND user_id = $2`

	tag, err := s.db.Exec(ctx, query, id, userID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", id.String()).Msg("failed to delete conversation")
		return fmt.Errorf("database error deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListConversations returns the user's conversations, most recently updated
// first. When search is non-empty, results are ranked by full-text relevance
// over conversation titles (weight A) and message contents (weight B).
func (s *PostgresStore) ListConversations(ctx context.Context, userID uuid.UUID, search string) ([]models.Conversation, error) {
	var rows pgx.Rows
	var err error

	if search == "" {
		query := `
			SELECT ` + conversationColumns + `
			FROM conversations
			WHERE user_id = $1
			ORDER BY updated_at DESC`
		rows, err = s.db.Query(ctx, query, userID)
	} else {
		// DISTINCT ON collapses one row per conversation (the best-ranked
		// joined message); the outer query reorders by that rank.
		query := `
			SELECT id, user_id, title, model_id, is_pinned, created_at, updated_at
			FROM (
				SELECT DISTINCT ON (c.id)
					c.id, c.user_id, c.title, c.model_id, c.is_pinned, c.created_at, c.updated_at,
					ts_rank(
						setweight(to_tsvector('simple', c.title), 'A') ||
						setweight(to_tsvector('simple', coalesce(m.content, '')), 'B'),
						websearch_to_tsquery('simple', $2)
					) AS rank
				FROM conversations c
				LEFT JOIN messages m ON m.conversation_id = c.id
				WHERE c.user_id = $1
				  AND (
						setweight(to_tsvector('simple', c.title), 'A') ||
						setweight(to_tsvector('simple', coalesce(m.content, '')), 'B')
				  ) @@ websearch_to_tsquery('simple', $2)
				ORDER BY c.id, rank DESC
			) ranked
			ORDER BY rank DESC`
		rows, err = s.db.Query(ctx, query, userID, search)
	}

	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to list conversations")
		return nil, fmt.Errorf("database error listing conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.Conversation{}
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(
			&conv.ID,
			&conv.UserID,
			&conv.Title,
			&conv.ModelID,
			&conv.IsPinned,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("database error scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error iterating conversations: %w", err)
	}

	return conversations, nil
}
