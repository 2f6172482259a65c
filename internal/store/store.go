package store

import (
	"context"
	"errors"

	"driftchat-backend/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateKey is returned when an insert violates a unique constraint.
// Callers racing to create the same conversation use this to fall back to a
// re-read instead of failing.
var ErrDuplicateKey = errors.New("duplicate key")

// UpdateConversationParams contains parameters for a partial conversation
// update. Nil pointers leave the corresponding column untouched.
type UpdateConversationParams struct {
	ID       uuid.UUID
	Title    *string
	ModelID  *string
	IsPinned *bool
}

// Store defines the interface for database operations.
// This allows for mocking in tests and potential DB backend switching.
// All operations are atomic at the single-row level; no cross-table
// transaction guarantee is assumed by callers.
type Store interface {
	// User operations
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	// Conversation operations
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, arg UpdateConversationParams) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	ListConversations(ctx context.Context, userID uuid.UUID, search string) ([]models.Conversation, error)

	// Message operations
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
}
