package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultConversationTitle is the placeholder title a conversation carries
// until the title generator replaces it.
const DefaultConversationTitle = "New Conversation"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageStatus tracks the lifecycle of a message record.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusStreaming MessageStatus = "streaming"
	MessageStatusCompleted MessageStatus = "completed"
	MessageStatusError     MessageStatus = "error"
)

// User represents a user in the database.
type User struct {
	ID             uuid.UUID `db:"id"`
	Email          string    `db:"email"`
	Name           string    `db:"name"`
	HashedPassword string    `db:"hashed_password"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Conversation represents a titled, owned sequence of messages bound to one
// selected model.
type Conversation struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	Title     string    `db:"title"`
	ModelID   string    `db:"model_id"`
	IsPinned  bool      `db:"is_pinned"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Message represents a single persisted message inside a conversation.
// Ordering within a conversation is by UpdatedAt, not insertion order, so that
// branch/rewrite operations keep their position.
type Message struct {
	ID             uuid.UUID       `db:"id"`
	ConversationID uuid.UUID       `db:"conversation_id"`
	Role           Role            `db:"role"`
	Content        string          `db:"content"`
	Status         MessageStatus   `db:"status"`
	Parts          []MessagePart   `db:"parts"`    // Stored as JSONB
	Metadata       json.RawMessage `db:"metadata"` // Stored as JSONB
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// MessagePartType enumerates the structured segments a message can carry.
type MessagePartType string

const (
	PartTypeText       MessagePartType = "text"
	PartTypeReasoning  MessagePartType = "reasoning"
	PartTypeToolCall   MessagePartType = "tool-call"
	PartTypeToolResult MessagePartType = "tool-result"
)

// MessagePart is one structured segment of a message (text, reasoning,
// tool call or tool result).
type MessagePart struct {
	Type       MessagePartType `json:"type"`
	Content    string          `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolArgs   json.RawMessage `json:"tool_args,omitempty"`
	ToolResult json.RawMessage `json:"tool_result,omitempty"`
}

// MessageMetadata holds derived information about how an assistant message
// was produced. Marshaled into the metadata JSONB column.
type MessageMetadata struct {
	DurationMs       int64  `json:"duration_ms,omitempty"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
}
