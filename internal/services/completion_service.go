package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"encoding/json"

	"driftchat-backend/internal/llm"
	"driftchat-backend/internal/models"
	"driftchat-backend/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Errors surfaced by the completion pipeline before streaming starts.
var (
	ErrInvalidModel         = errors.New("invalid model id")
	ErrInvalidProvider      = errors.New("invalid model provider")
	ErrSyncFailure          = errors.New("failed to synchronize messages")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationCreate   = errors.New("failed to create or retrieve conversation")
)

// GenericStreamErrorMessage is the only error text a client ever sees for a
// failure during streaming; the underlying cause stays in the server logs.
const GenericStreamErrorMessage = "Something went wrong while generating the response. Please try again."

// titleGenerationTimeout bounds the detached title-generation task.
const titleGenerationTimeout = 30 * time.Second

// CompletionEvents receives the chunked response as it is produced. Handlers
// translate these callbacks into SSE events. A non-nil error returned from a
// delta callback marks the client as gone; the orchestrator stops forwarding
// but still finalizes persistence.
type CompletionEvents struct {
	OnText      func(delta string) error
	OnReasoning func(delta string) error
	OnUsage     func(usage llm.Usage) error
	OnError     func(message string)
	OnDone      func()
}

// CompletionService orchestrates one completion request: validate the model,
// load or create the conversation, reconcile messages, dispatch title
// generation, stream the response, and guarantee exactly-once persistence of
// the assistant reply.
type CompletionService struct {
	store      store.Store
	resolve    ModelResolver
	reconciler *Reconciler
	titles     *TitleService
}

// NewCompletionService creates a CompletionService.
func NewCompletionService(s store.Store, resolve ModelResolver, reconciler *Reconciler, titles *TitleService) *CompletionService {
	return &CompletionService{
		store:      s,
		resolve:    resolve,
		reconciler: reconciler,
		titles:     titles,
	}
}

// PreparedCompletion is a completion request that has passed the pre-stream
// phases (Validating, Loading, Reconciling) and is ready to stream.
type PreparedCompletion struct {
	svc          *CompletionService
	handle       ModelHandle
	conversation *models.Conversation
	coreMessages []llm.ChatMessage
}

// Conversation returns the loaded (or lazily created) conversation.
func (p *PreparedCompletion) Conversation() *models.Conversation {
	return p.conversation
}

// Prepare runs the pre-stream phases. Errors returned here map onto HTTP
// statuses: ErrInvalidModel/ErrInvalidProvider → 400, ErrConversationNotFound
// → 404, ErrSyncFailure and the rest → 500. No streaming side effects have
// happened when Prepare fails.
func (s *CompletionService) Prepare(ctx context.Context, userID uuid.UUID, req models.CreateCompletionRequest) (*PreparedCompletion, error) {
	// Validating: the model id must be a member of the static registry and
	// its provider must resolve with credentials.
	handle, err := s.resolve(req.ModelID)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrUnknownModel):
			return nil, fmt.Errorf("%w: %s", ErrInvalidModel, req.ModelID)
		case errors.Is(err, llm.ErrUnknownProvider):
			return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, req.ModelID)
		default:
			// Missing credentials is fatal and surfaced as-is; there is no
			// point retrying against an unconfigured provider.
			return nil, err
		}
	}

	// Loading: fetch or lazily create the conversation.
	conversation, err := s.getOrCreateConversation(ctx, req.ID, req.ModelID, userID)
	if err != nil {
		return nil, err
	}
	if conversation.UserID != userID {
		// Do not leak existence of other users' conversations.
		return nil, ErrConversationNotFound
	}

	// Update conversation model if changed. Best-effort: continue with the
	// old stored model rather than failing.
	if conversation.ModelID != req.ModelID {
		if _, err := s.store.UpdateConversation(ctx, store.UpdateConversationParams{
			ID:      conversation.ID,
			ModelID: &req.ModelID,
		}); err != nil {
			log.Warn().Err(err).
				Str("conversation_id", conversation.ID.String()).
				Str("model_id", req.ModelID).
				Msg("failed to update conversation model")
		} else {
			conversation.ModelID = req.ModelID
		}
	}

	// Reconciling: converge persisted messages to the client-declared list
	// before any model call. The system never streams against an
	// inconsistent history.
	existing, err := s.store.ListMessages(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncFailure, err)
	}
	if err := s.reconciler.Reconcile(ctx, conversation.ID, existing, req.Messages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyncFailure, err)
	}

	// Title dispatch: first turn only. Runs detached so it never delays
	// first-byte latency, and survives client disconnects.
	if len(req.Messages) == 1 {
		titleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), titleGenerationTimeout)
		go func() {
			defer cancel()
			s.titles.GenerateAndSave(titleCtx, conversation.ID, req.Messages)
		}()
	}

	// Strip internal ids and metadata; only role+content pairs go upstream.
	coreMessages := make([]llm.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		coreMessages = append(coreMessages, llm.ChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	return &PreparedCompletion{
		svc:          s,
		handle:       handle,
		conversation: conversation,
		coreMessages: coreMessages,
	}, nil
}

// getOrCreateConversation loads the conversation or creates it with the given
// id. A duplicate-key race on concurrent creation falls back to a re-read.
func (s *CompletionService) getOrCreateConversation(ctx context.Context, id uuid.UUID, modelID string, userID uuid.UUID) (*models.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, id)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrConversationCreate, err)
	}

	conversation = &models.Conversation{
		ID:      id,
		UserID:  userID,
		Title:   models.DefaultConversationTitle,
		ModelID: modelID,
	}
	if err := s.store.CreateConversation(ctx, conversation); err != nil {
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %v", ErrConversationCreate, err)
		}
		// Lost the creation race; the other request's insert wins and we
		// read it back.
		conversation, err = s.store.GetConversation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConversationCreate, err)
		}
	}
	return conversation, nil
}

// Stream runs the Streaming and Finalizing phases. The accumulation buffer is
// the single source of truth for persistence, independent of whatever the
// client actually received. Finalization always runs, including on client
// abort; cancellation redirects into the abort path instead of tearing the
// request down.
func (p *PreparedCompletion) Stream(ctx context.Context, events CompletionEvents) {
	start := time.Now()

	stream, err := p.handle.StreamText(ctx, p.coreMessages)
	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", p.conversation.ID.String()).
			Str("model_id", p.handle.ModelID()).
			Msg("failed to open completion stream")
		if events.OnError != nil {
			events.OnError(GenericStreamErrorMessage)
		}
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close completion stream")
		}
	}()

	var (
		text         strings.Builder
		reasoning    strings.Builder
		usage        *llm.Usage
		finishReason string
		clientGone   bool
		aborted      bool
		streamErr    error
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client-initiated abort: keep what we have.
				aborted = true
				break
			}
			streamErr = err
			break
		}

		switch chunk.Type {
		case llm.ChunkTypeText:
			text.WriteString(chunk.Delta)
			if !clientGone && events.OnText != nil {
				if err := events.OnText(chunk.Delta); err != nil {
					clientGone = true
				}
			}
		case llm.ChunkTypeReasoning:
			reasoning.WriteString(chunk.Delta)
			if !clientGone && events.OnReasoning != nil {
				if err := events.OnReasoning(chunk.Delta); err != nil {
					clientGone = true
				}
			}
		case llm.ChunkTypeFinish:
			finishReason = chunk.FinishReason
		case llm.ChunkTypeUsage:
			usage = chunk.Usage
			if !clientGone && events.OnUsage != nil {
				if err := events.OnUsage(*chunk.Usage); err != nil {
					clientGone = true
				}
			}
		}
	}

	if streamErr != nil {
		log.Error().Err(streamErr).
			Str("conversation_id", p.conversation.ID.String()).
			Str("model_id", p.handle.ModelID()).
			Int("accumulated_bytes", text.Len()).
			Msg("upstream stream error")
	}

	// Finalizing. Runs under a detached context so a cancelled request
	// cannot skip persistence.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if text.Len() == 0 && reasoning.Len() == 0 {
		if streamErr != nil || aborted {
			// Nothing was produced; persist no phantom assistant message.
			if streamErr != nil && !clientGone && events.OnError != nil {
				events.OnError(GenericStreamErrorMessage)
			}
			return
		}
		// Stream completed without content. Unusual, but nothing to persist.
		log.Warn().
			Str("conversation_id", p.conversation.ID.String()).
			Msg("completion stream finished without content")
		if !clientGone && events.OnDone != nil {
			events.OnDone()
		}
		return
	}

	p.persistAssistantMessage(finalizeCtx, text.String(), reasoning.String(), usage, finishReason, streamErr != nil, time.Since(start))

	if streamErr != nil {
		if !clientGone && events.OnError != nil {
			events.OnError(GenericStreamErrorMessage)
		}
		return
	}
	if !aborted && !clientGone && events.OnDone != nil {
		events.OnDone()
	}
}

// persistAssistantMessage writes exactly one assistant message with the
// accumulated content under a fresh server-generated id.
func (p *PreparedCompletion) persistAssistantMessage(ctx context.Context, text, reasoning string, usage *llm.Usage, finishReason string, errored bool, duration time.Duration) {
	parts := []models.MessagePart{}
	if reasoning != "" {
		parts = append(parts, models.MessagePart{Type: models.PartTypeReasoning, Content: reasoning})
	}
	if text != "" {
		parts = append(parts, models.MessagePart{Type: models.PartTypeText, Content: text})
	}

	metadata := models.MessageMetadata{
		DurationMs:   duration.Milliseconds(),
		Model:        p.handle.ModelID(),
		FinishReason: finishReason,
	}
	if usage != nil {
		metadata.PromptTokens = usage.PromptTokens
		metadata.CompletionTokens = usage.CompletionTokens
		metadata.TotalTokens = usage.TotalTokens
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal assistant message metadata")
		metadataJSON = nil
	}

	status := models.MessageStatusCompleted
	if errored {
		status = models.MessageStatusError
	}

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: p.conversation.ID,
		Role:           models.RoleAssistant,
		Content:        text,
		Status:         status,
		Parts:          parts,
		Metadata:       metadataJSON,
	}
	if err := p.svc.store.InsertMessage(ctx, msg); err != nil {
		log.Error().Err(err).
			Str("conversation_id", p.conversation.ID.String()).
			Msg("failed to persist assistant message")
	}
}
