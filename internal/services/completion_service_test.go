package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"driftchat-backend/internal/llm"
	"driftchat-backend/internal/models"
	"driftchat-backend/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelID = "meta-llama/llama-4-maverick-17b-128e-instruct"

func newTestCompletionService(s store.Store, resolve ModelResolver) *CompletionService {
	titles := NewTitleService(s, resolve, testModelID)
	return NewCompletionService(s, resolve, NewReconciler(s), titles)
}

func userTurn(content string) []models.InputMessage {
	return []models.InputMessage{
		{ID: uuid.New(), Role: models.RoleUser, Content: content},
	}
}

// eventRecorder collects callbacks for assertions.
type eventRecorder struct {
	mu        sync.Mutex
	text      []string
	reasoning []string
	usage     []llm.Usage
	errors    []string
	done      int

	// textErr is returned from OnText after textErrAfter deliveries.
	textErr      error
	textErrAfter int
}

func (r *eventRecorder) events() CompletionEvents {
	return CompletionEvents{
		OnText: func(delta string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.textErr != nil && len(r.text) >= r.textErrAfter {
				return r.textErr
			}
			r.text = append(r.text, delta)
			return nil
		},
		OnReasoning: func(delta string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reasoning = append(r.reasoning, delta)
			return nil
		},
		OnUsage: func(usage llm.Usage) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.usage = append(r.usage, usage)
			return nil
		},
		OnError: func(message string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, message)
		},
		OnDone: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.done++
		},
	}
}

func TestPrepareInvalidModelHasNoSideEffects(t *testing.T) {
	s := newMemStore()
	resolve := func(modelID string) (ModelHandle, error) {
		return nil, llm.ErrUnknownModel
	}
	svc := newTestCompletionService(s, resolve)

	_, err := svc.Prepare(context.Background(), uuid.New(), models.CreateCompletionRequest{
		ID:       uuid.New(),
		Messages: userTurn("hello"),
		ModelID:  "gpt-999-turbo-max",
	})
	require.ErrorIs(t, err, ErrInvalidModel)
	assert.Empty(t, s.conversations, "validation failure must not create a conversation")
	assert.Empty(t, s.messages, "validation failure must not persist messages")
}

func TestPrepareUnknownProvider(t *testing.T) {
	s := newMemStore()
	resolve := func(modelID string) (ModelHandle, error) {
		return nil, llm.ErrUnknownProvider
	}
	svc := newTestCompletionService(s, resolve)

	_, err := svc.Prepare(context.Background(), uuid.New(), models.CreateCompletionRequest{
		ID:       uuid.New(),
		Messages: userTurn("hello"),
		ModelID:  testModelID,
	})
	require.ErrorIs(t, err, ErrInvalidProvider)
}

func TestPrepareMissingCredentialsSurfacedAsIs(t *testing.T) {
	s := newMemStore()
	resolve := func(modelID string) (ModelHandle, error) {
		return nil, llm.ErrMissingCredentials
	}
	svc := newTestCompletionService(s, resolve)

	_, err := svc.Prepare(context.Background(), uuid.New(), models.CreateCompletionRequest{
		ID:       uuid.New(),
		Messages: userTurn("hello"),
		ModelID:  testModelID,
	})
	require.ErrorIs(t, err, llm.ErrMissingCredentials)
	assert.NotErrorIs(t, err, ErrInvalidModel)
}

func TestPrepareCreatesConversationAndPersistsUserMessage(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{modelID: testModelID, completeErr: errors.New("no title in this test")}
	svc := newTestCompletionService(s, staticResolver(handle))

	userID := uuid.New()
	convID := uuid.New()
	input := userTurn("explain TCP slow start")

	prepared, err := svc.Prepare(context.Background(), userID, models.CreateCompletionRequest{
		ID:       convID,
		Messages: input,
		ModelID:  testModelID,
	})
	require.NoError(t, err)

	conv := prepared.Conversation()
	assert.Equal(t, convID, conv.ID)
	assert.Equal(t, userID, conv.UserID)
	assert.Equal(t, models.DefaultConversationTitle, conv.Title)
	assert.Equal(t, testModelID, conv.ModelID)

	stored, err := s.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, input[0].ID, stored[0].ID)
	assert.Equal(t, models.RoleUser, stored[0].Role)
}

func TestPrepareRejectsForeignConversation(t *testing.T) {
	s := newMemStore()
	owner := uuid.New()
	convID := uuid.New()
	require.NoError(t, s.CreateConversation(context.Background(), &models.Conversation{
		ID: convID, UserID: owner, ModelID: testModelID,
	}))

	handle := &fakeHandle{modelID: testModelID}
	svc := newTestCompletionService(s, staticResolver(handle))

	_, err := svc.Prepare(context.Background(), uuid.New(), models.CreateCompletionRequest{
		ID:       convID,
		Messages: userTurn("mine now"),
		ModelID:  testModelID,
	})
	require.ErrorIs(t, err, ErrConversationNotFound)
	stored, listErr := s.ListMessages(context.Background(), convID)
	require.NoError(t, listErr)
	assert.Empty(t, stored, "ownership failure must not touch the conversation's messages")
}

func TestPrepareUpdatesConversationModel(t *testing.T) {
	s := newMemStore()
	userID := uuid.New()
	convID := uuid.New()
	require.NoError(t, s.CreateConversation(context.Background(), &models.Conversation{
		ID: convID, UserID: userID, ModelID: "gpt-4o-mini",
	}))

	handle := &fakeHandle{modelID: testModelID, completeErr: errors.New("no title")}
	svc := newTestCompletionService(s, staticResolver(handle))

	prepared, err := svc.Prepare(context.Background(), userID, models.CreateCompletionRequest{
		ID:       convID,
		Messages: userTurn("switch models"),
		ModelID:  testModelID,
	})
	require.NoError(t, err)
	assert.Equal(t, testModelID, prepared.Conversation().ModelID)

	conv, err := s.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, testModelID, conv.ModelID)
}

// racingStore reports the conversation as missing on the first read even
// though a concurrent request already inserted it, forcing the duplicate-key
// fallback path.
type racingStore struct {
	*memStore
	missedOnce bool
}

func (s *racingStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if !s.missedOnce {
		s.missedOnce = true
		return nil, store.ErrNotFound
	}
	return s.memStore.GetConversation(ctx, id)
}

func TestPrepareDuplicateCreateRaceFallsBackToReRead(t *testing.T) {
	mem := newMemStore()
	userID := uuid.New()
	convID := uuid.New()
	require.NoError(t, mem.CreateConversation(context.Background(), &models.Conversation{
		ID: convID, UserID: userID, Title: "already created", ModelID: testModelID,
	}))

	s := &racingStore{memStore: mem}
	handle := &fakeHandle{modelID: testModelID, completeErr: errors.New("no title")}
	svc := newTestCompletionService(s, staticResolver(handle))

	prepared, err := svc.Prepare(context.Background(), userID, models.CreateCompletionRequest{
		ID:       convID,
		Messages: userTurn("racy"),
		ModelID:  testModelID,
	})
	require.NoError(t, err)
	assert.Equal(t, "already created", prepared.Conversation().Title, "the winning insert's row must be used")
	assert.Len(t, mem.conversations, 1)
}

func TestPrepareUserInsertFailureReturnsSyncFailure(t *testing.T) {
	s := newMemStore()
	s.insertMessageErr = func(msg *models.Message) error {
		if msg.Role == models.RoleUser {
			return errors.New("constraint violation")
		}
		return nil
	}
	handle := &fakeHandle{modelID: testModelID}
	svc := newTestCompletionService(s, staticResolver(handle))

	_, err := svc.Prepare(context.Background(), uuid.New(), models.CreateCompletionRequest{
		ID:       uuid.New(),
		Messages: userTurn("must not vanish"),
		ModelID:  testModelID,
	})
	require.ErrorIs(t, err, ErrSyncFailure)
}

func TestPrepareResendWithRemovalDeletesSupersededTurns(t *testing.T) {
	s := newMemStore()
	userID := uuid.New()
	convID := uuid.New()
	require.NoError(t, s.CreateConversation(context.Background(), &models.Conversation{
		ID: convID, UserID: userID, ModelID: testModelID,
	}))
	existing := seedMessages(t, s, convID, models.RoleUser, models.RoleAssistant)

	handle := &fakeHandle{modelID: testModelID, completeErr: errors.New("no title")}
	svc := newTestCompletionService(s, staticResolver(handle))

	// Edit-and-resend: the client keeps the first user turn, drops the
	// assistant reply, and sends an edited follow-up.
	edited := models.InputMessage{ID: uuid.New(), Role: models.RoleUser, Content: "edited question"}
	input := append(asInput(existing[0]), edited)

	_, err := svc.Prepare(context.Background(), userID, models.CreateCompletionRequest{
		ID:       convID,
		Messages: input,
		ModelID:  testModelID,
	})
	require.NoError(t, err)

	stored, err := s.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, existing[0].ID, stored[0].ID)
	assert.Equal(t, edited.ID, stored[1].ID)
}

func TestPrepareFiresTitleGenerationOnFirstTurnOnly(t *testing.T) {
	s := newMemStore()
	s.titleUpdated = make(chan string, 1)
	handle := &fakeHandle{
		modelID:      testModelID,
		completeJSON: `{"title":"TCP Slow Start Explained"}`,
	}
	svc := newTestCompletionService(s, staticResolver(handle))

	userID := uuid.New()
	convID := uuid.New()

	_, err := svc.Prepare(context.Background(), userID, models.CreateCompletionRequest{
		ID:       convID,
		Messages: userTurn("explain TCP slow start"),
		ModelID:  testModelID,
	})
	require.NoError(t, err)

	select {
	case title := <-s.titleUpdated:
		assert.Equal(t, "TCP Slow Start Explained", title)
	case <-time.After(2 * time.Second):
		t.Fatal("title generation was not dispatched on the first turn")
	}

	conv, err := s.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, "TCP Slow Start Explained", conv.Title)

	// Subsequent turn: two messages in the list, no title regeneration.
	stored, err := s.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	input := append(asInput(stored...), models.InputMessage{
		ID: uuid.New(), Role: models.RoleUser, Content: "and congestion avoidance?",
	})
	_, err = svc.Prepare(context.Background(), userID, models.CreateCompletionRequest{
		ID:       convID,
		Messages: input,
		ModelID:  testModelID,
	})
	require.NoError(t, err)

	select {
	case title := <-s.titleUpdated:
		t.Fatalf("title regenerated on a follow-up turn: %q", title)
	case <-time.After(100 * time.Millisecond):
	}
}

func prepare(t *testing.T, svc *CompletionService, s store.Store, handle *fakeHandle) (*PreparedCompletion, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	convID := uuid.New()
	prepared, err := svc.Prepare(context.Background(), userID, models.CreateCompletionRequest{
		ID:       convID,
		Messages: userTurn("question"),
		ModelID:  handle.modelID,
	})
	require.NoError(t, err)
	return prepared, convID
}

func TestStreamHappyPathPersistsSingleAssistantMessage(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{
		modelID:     testModelID,
		completeErr: errors.New("no title"),
		chunks: []llm.Chunk{
			{Type: llm.ChunkTypeReasoning, Delta: "thinking about it. "},
			{Type: llm.ChunkTypeText, Delta: "Slow start doubles "},
			{Type: llm.ChunkTypeText, Delta: "the congestion window."},
			{Type: llm.ChunkTypeFinish, FinishReason: "stop"},
			{Type: llm.ChunkTypeUsage, Usage: &llm.Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}},
		},
	}
	svc := newTestCompletionService(s, staticResolver(handle))
	prepared, convID := prepare(t, svc, s, handle)

	rec := &eventRecorder{}
	prepared.Stream(context.Background(), rec.events())

	assert.Equal(t, []string{"Slow start doubles ", "the congestion window."}, rec.text)
	assert.Equal(t, []string{"thinking about it. "}, rec.reasoning)
	require.Len(t, rec.usage, 1)
	assert.Equal(t, 20, rec.usage[0].TotalTokens)
	assert.Equal(t, 1, rec.done)
	assert.Empty(t, rec.errors)

	assistant := s.messagesByRole(convID, models.RoleAssistant)
	require.Len(t, assistant, 1, "exactly one assistant message must be persisted")
	msg := assistant[0]
	assert.Equal(t, "Slow start doubles the congestion window.", msg.Content)
	assert.Equal(t, models.MessageStatusCompleted, msg.Status)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, models.PartTypeReasoning, msg.Parts[0].Type)
	assert.Equal(t, "thinking about it. ", msg.Parts[0].Content)
	assert.Equal(t, models.PartTypeText, msg.Parts[1].Type)
}

func TestStreamClientAbortPersistsPartialContent(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{
		modelID:     testModelID,
		completeErr: errors.New("no title"),
		chunks: []llm.Chunk{
			{Type: llm.ChunkTypeText, Delta: "The answer starts"},
		},
		blockUntilCancel: true,
		chunkDelivered:   make(chan struct{}, 1),
	}
	svc := newTestCompletionService(s, staticResolver(handle))
	prepared, convID := prepare(t, svc, s, handle)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &eventRecorder{}
	done := make(chan struct{})
	go func() {
		prepared.Stream(ctx, rec.events())
		close(done)
	}()

	// Abort after the first delta arrives.
	<-handle.chunkDelivered
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not finalize after client abort")
	}

	assistant := s.messagesByRole(convID, models.RoleAssistant)
	require.Len(t, assistant, 1, "the partial response must be persisted exactly once")
	assert.Equal(t, "The answer starts", assistant[0].Content)
	assert.Equal(t, models.MessageStatusCompleted, assistant[0].Status)
	assert.Equal(t, 0, rec.done, "an aborted stream never reports done")
	assert.Empty(t, rec.errors)
}

func TestStreamErrorBeforeContentPersistsNothing(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{
		modelID:     testModelID,
		completeErr: errors.New("no title"),
		finalErr:    errors.New("upstream 500"),
	}
	svc := newTestCompletionService(s, staticResolver(handle))
	prepared, convID := prepare(t, svc, s, handle)

	rec := &eventRecorder{}
	prepared.Stream(context.Background(), rec.events())

	assert.Empty(t, s.messagesByRole(convID, models.RoleAssistant), "no phantom assistant message")
	require.Len(t, rec.errors, 1)
	assert.Equal(t, GenericStreamErrorMessage, rec.errors[0], "clients only ever see the generic error text")
	assert.Equal(t, 0, rec.done)
}

func TestStreamErrorAfterContentPersistsErrorStatus(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{
		modelID:     testModelID,
		completeErr: errors.New("no title"),
		chunks: []llm.Chunk{
			{Type: llm.ChunkTypeText, Delta: "partial out"},
		},
		finalErr: errors.New("connection reset"),
	}
	svc := newTestCompletionService(s, staticResolver(handle))
	prepared, convID := prepare(t, svc, s, handle)

	rec := &eventRecorder{}
	prepared.Stream(context.Background(), rec.events())

	assistant := s.messagesByRole(convID, models.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "partial out", assistant[0].Content)
	assert.Equal(t, models.MessageStatusError, assistant[0].Status)
	require.Len(t, rec.errors, 1)
	assert.Equal(t, GenericStreamErrorMessage, rec.errors[0])
	assert.Equal(t, 0, rec.done)
}

func TestStreamOpenFailurePersistsNothing(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{
		modelID:     testModelID,
		completeErr: errors.New("no title"),
		openErr:     errors.New("dial tcp: connection refused"),
	}
	svc := newTestCompletionService(s, staticResolver(handle))
	prepared, convID := prepare(t, svc, s, handle)

	rec := &eventRecorder{}
	prepared.Stream(context.Background(), rec.events())

	assert.Empty(t, s.messagesByRole(convID, models.RoleAssistant))
	require.Len(t, rec.errors, 1)
	assert.Equal(t, GenericStreamErrorMessage, rec.errors[0])
}

func TestStreamWriteFailureStopsForwardingButPersistsFullResponse(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{
		modelID:     testModelID,
		completeErr: errors.New("no title"),
		chunks: []llm.Chunk{
			{Type: llm.ChunkTypeText, Delta: "first "},
			{Type: llm.ChunkTypeText, Delta: "second "},
			{Type: llm.ChunkTypeText, Delta: "third"},
			{Type: llm.ChunkTypeFinish, FinishReason: "stop"},
		},
	}
	svc := newTestCompletionService(s, staticResolver(handle))
	prepared, convID := prepare(t, svc, s, handle)

	rec := &eventRecorder{textErr: errors.New("broken pipe"), textErrAfter: 1}
	prepared.Stream(context.Background(), rec.events())

	assert.Equal(t, []string{"first "}, rec.text, "forwarding stops once the client write fails")
	assistant := s.messagesByRole(convID, models.RoleAssistant)
	require.Len(t, assistant, 1)
	assert.Equal(t, "first second third", assistant[0].Content, "accumulation continues past the write failure")
	assert.Equal(t, models.MessageStatusCompleted, assistant[0].Status)
	assert.Equal(t, 0, rec.done)
}

func TestStreamSendsOnlyRoleAndContentUpstream(t *testing.T) {
	s := newMemStore()
	handle := &fakeHandle{
		modelID:     testModelID,
		completeErr: errors.New("no title"),
		chunks: []llm.Chunk{
			{Type: llm.ChunkTypeText, Delta: "ok"},
			{Type: llm.ChunkTypeFinish, FinishReason: "stop"},
		},
	}
	svc := newTestCompletionService(s, staticResolver(handle))

	input := userTurn("only this goes upstream")
	prepared, err := svc.Prepare(context.Background(), uuid.New(), models.CreateCompletionRequest{
		ID:       uuid.New(),
		Messages: input,
		ModelID:  testModelID,
	})
	require.NoError(t, err)

	prepared.Stream(context.Background(), (&eventRecorder{}).events())

	handle.mu.Lock()
	defer handle.mu.Unlock()
	require.Len(t, handle.streamSeen, 1)
	require.Len(t, handle.streamSeen[0], 1)
	assert.Equal(t, llm.ChatMessage{Role: "user", Content: "only this goes upstream"}, handle.streamSeen[0][0])
}
