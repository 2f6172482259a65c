package services

import (
	"context"
	"errors"
	"fmt"

	"driftchat-backend/internal/llm"
	"driftchat-backend/internal/models"
	"driftchat-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrMessageNotFound is returned when a branch target message does not exist.
var ErrMessageNotFound = errors.New("message not found")

// ConversationService handles conversation-related business logic.
type ConversationService struct {
	store store.Store
}

// NewConversationService creates a new ConversationService.
func NewConversationService(s store.Store) *ConversationService {
	return &ConversationService{store: s}
}

func mapConversationToResponse(conv *models.Conversation) models.ConversationResponse {
	return models.ConversationResponse{
		ID:        conv.ID,
		UserID:    conv.UserID,
		Title:     conv.Title,
		ModelID:   conv.ModelID,
		IsPinned:  conv.IsPinned,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func mapMessageToResponse(msg models.Message) models.MessageResponse {
	return models.MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		Status:         msg.Status,
		Parts:          msg.Parts,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
}

// CreateConversation explicitly creates a conversation for the user.
func (s *ConversationService) CreateConversation(ctx context.Context, userID uuid.UUID, req models.CreateConversationRequest) (*models.ConversationResponse, error) {
	if _, ok := llm.FindModel(req.ModelID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidModel, req.ModelID)
	}

	id := uuid.New()
	if req.ID != nil {
		id = *req.ID
	}
	title := models.DefaultConversationTitle
	if req.Title != nil && *req.Title != "" {
		title = *req.Title
	}

	conv := &models.Conversation{
		ID:      id,
		UserID:  userID,
		Title:   title,
		ModelID: req.ModelID,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	created, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read back created conversation: %w", err)
	}
	resp := mapConversationToResponse(created)
	return &resp, nil
}

// GetConversation returns a conversation with its messages ordered by update
// timestamp. Returns ErrConversationNotFound when missing or owned by someone
// else.
func (s *ConversationService) GetConversation(ctx context.Context, userID, id uuid.UUID) (*models.ConversationWithMessagesResponse, error) {
	conv, err := s.loadOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	resp := &models.ConversationWithMessagesResponse{
		Conversation: mapConversationToResponse(conv),
		Messages:     make([]models.MessageResponse, 0, len(messages)),
	}
	for _, msg := range messages {
		resp.Messages = append(resp.Messages, mapMessageToResponse(msg))
	}
	return resp, nil
}

// GetMessages returns the raw message list of an owned conversation.
func (s *ConversationService) GetMessages(ctx context.Context, userID, conversationID uuid.UUID) ([]models.MessageResponse, error) {
	if _, err := s.loadOwned(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]models.MessageResponse, 0, len(messages))
	for _, msg := range messages {
		out = append(out, mapMessageToResponse(msg))
	}
	return out, nil
}

// ListConversations lists the user's conversations, optionally filtered by a
// full-text search over titles and message contents.
func (s *ConversationService) ListConversations(ctx context.Context, userID uuid.UUID, search string) ([]models.ConversationResponse, error) {
	conversations, err := s.store.ListConversations(ctx, userID, search)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]models.ConversationResponse, 0, len(conversations))
	for i := range conversations {
		out = append(out, mapConversationToResponse(&conversations[i]))
	}
	return out, nil
}

// UpdateConversation applies a partial update (title, model, pinned flag).
func (s *ConversationService) UpdateConversation(ctx context.Context, userID, id uuid.UUID, req models.UpdateConversationRequest) (*models.ConversationResponse, error) {
	if _, err := s.loadOwned(ctx, userID, id); err != nil {
		return nil, err
	}
	if req.ModelID != nil {
		if _, ok := llm.FindModel(*req.ModelID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidModel, *req.ModelID)
		}
	}

	updated, err := s.store.UpdateConversation(ctx, store.UpdateConversationParams{
		ID:       id,
		Title:    req.Title,
		ModelID:  req.ModelID,
		IsPinned: req.IsPinned,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	resp := mapConversationToResponse(updated)
	return &resp, nil
}

// DeleteConversation removes a conversation and (via cascade) its messages.
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, id uuid.UUID) error {
	err := s.store.DeleteConversation(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// BranchConversation creates a copy of the conversation containing every
// message up to and including the target message, under fresh server ids.
func (s *ConversationService) BranchConversation(ctx context.Context, userID, conversationID, messageID uuid.UUID) (*models.ConversationResponse, error) {
	conv, err := s.loadOwned(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var target *models.Message
	for i := range messages {
		if messages[i].ID == messageID {
			target = &messages[i]
			break
		}
	}
	if target == nil {
		return nil, ErrMessageNotFound
	}

	branch := &models.Conversation{
		ID:       uuid.New(),
		UserID:   userID,
		Title:    conv.Title + " (Copy)",
		ModelID:  conv.ModelID,
		IsPinned: conv.IsPinned,
	}
	if err := s.store.CreateConversation(ctx, branch); err != nil {
		return nil, fmt.Errorf("failed to create branch conversation: %w", err)
	}

	// Messages are ordered by updated_at; copy the prefix up to the target.
	for _, msg := range messages {
		if msg.UpdatedAt.After(target.UpdatedAt) && msg.ID != target.ID {
			continue
		}
		copied := msg
		copied.ID = uuid.New()
		copied.ConversationID = branch.ID
		if err := s.store.InsertMessage(ctx, &copied); err != nil {
			// A partially copied branch is still usable; log and continue.
			log.Warn().Err(err).
				Str("branch_id", branch.ID.String()).
				Str("source_message_id", msg.ID.String()).
				Msg("failed to copy message into branch")
		}
	}

	created, err := s.store.GetConversation(ctx, branch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back branch conversation: %w", err)
	}
	resp := mapConversationToResponse(created)
	return &resp, nil
}

// loadOwned fetches a conversation and enforces ownership, mapping both
// absence and foreign ownership to ErrConversationNotFound.
func (s *ConversationService) loadOwned(ctx context.Context, userID, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	if conv.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}
