package services

import (
	"context"
	"errors"
	"fmt"

	"driftchat-backend/internal/models"
	"driftchat-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrMessagePersistFailure is returned when a user-authored message could not
// be inserted. Losing a user's turn silently is not acceptable, so this is the
// one reconciliation failure that escalates.
var ErrMessagePersistFailure = errors.New("failed to save user message")

// Reconciler converges persisted message state to match a client-declared
// message list via minimal insert/delete operations.
//
// Policy: persisted messages absent from the input list are deleted (this is
// how client-side message removal and edit-and-resend work); input messages
// absent from the persisted set are inserted verbatim under the conversation
// id; messages present in both are left untouched. Re-running with identical
// inputs is a no-op.
//
// An empty input list deletes every persisted message of the conversation, so
// callers must never pass an accidentally-empty list.
type Reconciler struct {
	store store.Store
}

// NewReconciler creates a Reconciler over the given store.
func NewReconciler(s store.Store) *Reconciler {
	return &Reconciler{store: s}
}

// Reconcile applies deletions then insertions. Deletion failures and insert
// failures for non-user messages are logged and swallowed; an insert failure
// for a user message returns ErrMessagePersistFailure.
func (r *Reconciler) Reconcile(ctx context.Context, conversationID uuid.UUID, existing []models.Message, input []models.InputMessage) error {
	inputIDs := make(map[uuid.UUID]struct{}, len(input))
	for _, m := range input {
		inputIDs[m.ID] = struct{}{}
	}
	existingIDs := make(map[uuid.UUID]struct{}, len(existing))
	for _, m := range existing {
		existingIDs[m.ID] = struct{}{}
	}

	// Delete persisted messages the client no longer declares.
	for _, msg := range existing {
		if _, keep := inputIDs[msg.ID]; keep {
			continue
		}
		if err := r.store.DeleteMessage(ctx, msg.ID); err != nil {
			log.Warn().Err(err).
				Str("message_id", msg.ID.String()).
				Str("conversation_id", conversationID.String()).
				Msg("failed to delete superseded message")
		}
	}

	// Insert declared messages that are not persisted yet, keeping their
	// client-generated ids.
	for _, msg := range input {
		if _, present := existingIDs[msg.ID]; present {
			continue
		}
		record := &models.Message{
			ID:             msg.ID,
			ConversationID: conversationID,
			Role:           msg.Role,
			Content:        msg.Content,
			Status:         models.MessageStatusCompleted,
		}
		if err := r.store.InsertMessage(ctx, record); err != nil {
			if msg.Role == models.RoleUser {
				return fmt.Errorf("%w: %v", ErrMessagePersistFailure, err)
			}
			log.Warn().Err(err).
				Str("message_id", msg.ID.String()).
				Str("role", string(msg.Role)).
				Msg("failed to insert non-user message")
		}
	}

	return nil
}
