package models

import (
	"time"

	"github.com/google/uuid"
)

// --- Request Structs ---

// SignupRequest defines the expected body for the signup endpoint.
type SignupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

// LoginRequest defines the expected body for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// InputMessage is one entry of the client-declared message list sent with a
// completion request. The id is client-generated; persisted verbatim on insert.
type InputMessage struct {
	ID      uuid.UUID `json:"id"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
}

// CreateCompletionRequest defines the body for the completion endpoint.
// ID doubles as the conversation id; the conversation is created lazily with
// this id if it does not exist yet.
type CreateCompletionRequest struct {
	ID       uuid.UUID      `json:"id"`
	Messages []InputMessage `json:"messages"`
	ModelID  string         `json:"modelId"`
}

// CreateConversationRequest defines the body for explicit conversation creation.
type CreateConversationRequest struct {
	ID      *uuid.UUID `json:"id,omitempty"`
	Title   *string    `json:"title,omitempty"`
	ModelID string     `json:"modelId"`
}

// UpdateConversationRequest defines the body for a conversation patch.
// Pointers allow partial updates.
type UpdateConversationRequest struct {
	Title    *string `json:"title,omitempty"`
	ModelID  *string `json:"modelId,omitempty"`
	IsPinned *bool   `json:"isPinned,omitempty"`
}

// BranchConversationRequest defines the body for branching a conversation at
// a given message.
type BranchConversationRequest struct {
	MessageID uuid.UUID `json:"messageId"`
}

// --- Response Structs ---

// UserResponse defines the user information returned by the API.
// Avoid returning sensitive info like HashedPassword.
type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name,omitempty"`
}

// AuthResponse defines the response body for successful authentication.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	User        UserResponse `json:"user"`
}

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConversationResponse is the API shape of a conversation record.
type ConversationResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"model_id"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageResponse is the API shape of a message record.
type MessageResponse struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	Parts          []MessagePart `json:"parts,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ConversationWithMessagesResponse bundles a conversation with its messages
// ordered by update timestamp.
type ConversationWithMessagesResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Messages     []MessageResponse    `json:"messages"`
}

// ModelResponse is the API shape of a model descriptor.
type ModelResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPremium bool   `json:"is_premium"`
	Provider  string `json:"provider"`
}
