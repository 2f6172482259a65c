package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"driftchat-backend/internal/models"
	"driftchat-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// titleMaxMessages bounds how much of the conversation is shown to the
	// title model; titleMaxContentLen truncates each message.
	titleMaxMessages   = 6
	titleMaxContentLen = 200
)

var titleSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"}
	},
	"required": ["title"],
	"additionalProperties": false
}`)

const titlePromptTemplate = `Analyze the following conversation and generate a concise, descriptive title that captures the main topic or purpose.

Requirements:
- 3-8 words maximum
- Focus on the core subject matter or primary question being discussed
- Be specific and informative (avoid generic phrases like "Help with..." or "Question about...")
- Use clear, professional language
- Do not include quotation marks or special formatting
- Generate a title in the language of the conversation

Conversation:
%s

Generate a title that clearly identifies what this conversation is about:`

// TitleService produces short descriptive conversation titles using a cheap
// model. Everything here is best-effort: callers fire it in the background and
// only ever log failures.
type TitleService struct {
	store        store.Store
	resolve      ModelResolver
	titleModelID string
}

// NewTitleService creates a TitleService generating titles with the given model.
func NewTitleService(s store.Store, resolve ModelResolver, titleModelID string) *TitleService {
	return &TitleService{
		store:        s,
		resolve:      resolve,
		titleModelID: titleModelID,
	}
}

// GenerateTitle asks the title model for a 3-8 word descriptive title over the
// first messages of the conversation.
func (t *TitleService) GenerateTitle(ctx context.Context, messages []models.InputMessage) (string, error) {
	handle, err := t.resolve(t.titleModelID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve title model: %w", err)
	}

	relevant := messages
	if len(relevant) > titleMaxMessages {
		relevant = relevant[:titleMaxMessages]
	}

	var sb strings.Builder
	for i, msg := range relevant {
		content := msg.Content
		if len(content) > titleMaxContentLen {
			content = content[:titleMaxContentLen] + "..."
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.ToUpper(string(msg.Role)))
		sb.WriteString(": ")
		sb.WriteString(content)
	}

	prompt := fmt.Sprintf(titlePromptTemplate, sb.String())

	raw, err := handle.CompleteJSON(ctx, prompt, "conversation_title", titleSchema)
	if err != nil {
		return "", err
	}

	var result struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", fmt.Errorf("title model returned invalid JSON: %w", err)
	}
	title := strings.TrimSpace(result.Title)
	if title == "" {
		return "", errors.New("title model returned an empty title")
	}
	return title, nil
}

// GenerateAndSave generates a title and writes it to the conversation record.
// Any failure leaves the placeholder title intact.
func (t *TitleService) GenerateAndSave(ctx context.Context, conversationID uuid.UUID, messages []models.InputMessage) {
	title, err := t.GenerateTitle(ctx, messages)
	if err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("title generation failed, keeping placeholder")
		return
	}

	if _, err := t.store.UpdateConversation(ctx, store.UpdateConversationParams{
		ID:    conversationID,
		Title: &title,
	}); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("failed to save generated title")
		return
	}

	log.Debug().
		Str("conversation_id", conversationID.String()).
		Str("title", title).
		Msg("conversation title generated")
}
