package services

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"driftchat-backend/internal/llm"
	"driftchat-backend/internal/models"
	"driftchat-backend/internal/store"

	"github.com/google/uuid"
)

// memStore is an in-memory store.Store used by the service tests.
type memStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]*models.User
	conversations map[uuid.UUID]*models.Conversation
	messages      map[uuid.UUID]*models.Message
	seq           int

	// Failure injection: when set, InsertMessage consults it first.
	insertMessageErr func(msg *models.Message) error

	// titleUpdated receives the new title whenever UpdateConversation sets
	// one; lets tests wait for the detached title task.
	titleUpdated chan string
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		users:         map[uuid.UUID]*models.User{},
		conversations: map[uuid.UUID]*models.Conversation{},
		messages:      map[uuid.UUID]*models.Message{},
	}
}

// nextTime produces strictly increasing timestamps so updated_at ordering is
// deterministic.
func (s *memStore) nextTime() time.Time {
	s.seq++
	return time.Unix(0, int64(s.seq)*int64(time.Millisecond))
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *memStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return store.ErrDuplicateKey
		}
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *memStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return store.ErrDuplicateKey
	}
	copied := *conv
	if copied.Title == "" {
		copied.Title = models.DefaultConversationTitle
	}
	copied.CreatedAt = s.nextTime()
	copied.UpdatedAt = copied.CreatedAt
	s.conversations[conv.ID] = &copied
	return nil
}

func (s *memStore) UpdateConversation(ctx context.Context, arg store.UpdateConversationParams) (*models.Conversation, error) {
	s.mu.Lock()
	conv, ok := s.conversations[arg.ID]
	if !ok {
		s.mu.Unlock()
		return nil, store.ErrNotFound
	}
	if arg.Title != nil {
		conv.Title = *arg.Title
	}
	if arg.ModelID != nil {
		conv.ModelID = *arg.ModelID
	}
	if arg.IsPinned != nil {
		conv.IsPinned = *arg.IsPinned
	}
	conv.UpdatedAt = s.nextTime()
	copied := *conv
	titleCh := s.titleUpdated
	s.mu.Unlock()

	if arg.Title != nil && titleCh != nil {
		titleCh <- *arg.Title
	}
	return &copied, nil
}

func (s *memStore) DeleteConversation(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.conversations, id)
	for msgID, msg := range s.messages {
		if msg.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *memStore) ListConversations(ctx context.Context, userID uuid.UUID, search string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Conversation{}
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *memStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertMessageErr != nil {
		if err := s.insertMessageErr(msg); err != nil {
			return err
		}
	}
	copied := *msg
	copied.CreatedAt = s.nextTime()
	copied.UpdatedAt = copied.CreatedAt
	s.messages[msg.ID] = &copied
	return nil
}

func (s *memStore) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

// messagesByRole returns the stored messages of a conversation with the given
// role, ordered by update timestamp.
func (s *memStore) messagesByRole(conversationID uuid.UUID, role models.Role) []models.Message {
	msgs, _ := s.ListMessages(context.Background(), conversationID)
	out := []models.Message{}
	for _, m := range msgs {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// --- fake model handles and streams ---

// fakeStream replays scripted chunks. When blockUntilCancel is set it parks
// after the chunks until the context is cancelled, mimicking an upstream that
// keeps streaming while the client aborts.
type fakeStream struct {
	ctx      context.Context
	chunks   []llm.Chunk
	pos      int
	finalErr error
	closed   bool

	blockUntilCancel bool
	// chunkDelivered is signalled after each chunk is handed out.
	chunkDelivered chan struct{}
}

func (s *fakeStream) Recv() (llm.Chunk, error) {
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		if s.chunkDelivered != nil {
			s.chunkDelivered <- struct{}{}
		}
		return chunk, nil
	}
	if s.blockUntilCancel {
		<-s.ctx.Done()
		return llm.Chunk{}, s.ctx.Err()
	}
	if s.finalErr != nil {
		return llm.Chunk{}, s.finalErr
	}
	return llm.Chunk{}, io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeHandle implements ModelHandle against scripted data.
type fakeHandle struct {
	modelID string

	openErr          error
	chunks           []llm.Chunk
	finalErr         error
	blockUntilCancel bool
	chunkDelivered   chan struct{}

	completeJSON string
	completeErr  error

	mu         sync.Mutex
	gotPrompt  string
	gotSchema  json.RawMessage
	streamSeen [][]llm.ChatMessage
}

var _ ModelHandle = (*fakeHandle)(nil)

func (h *fakeHandle) ModelID() string { return h.modelID }

func (h *fakeHandle) StreamText(ctx context.Context, messages []llm.ChatMessage) (llm.TokenStream, error) {
	h.mu.Lock()
	h.streamSeen = append(h.streamSeen, messages)
	h.mu.Unlock()
	if h.openErr != nil {
		return nil, h.openErr
	}
	return &fakeStream{
		ctx:              ctx,
		chunks:           h.chunks,
		finalErr:         h.finalErr,
		blockUntilCancel: h.blockUntilCancel,
		chunkDelivered:   h.chunkDelivered,
	}, nil
}

func (h *fakeHandle) CompleteJSON(ctx context.Context, prompt string, schemaName string, schema json.RawMessage) (string, error) {
	h.mu.Lock()
	h.gotPrompt = prompt
	h.gotSchema = schema
	h.mu.Unlock()
	if h.completeErr != nil {
		return "", h.completeErr
	}
	return h.completeJSON, nil
}

func (h *fakeHandle) prompt() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gotPrompt
}

// staticResolver resolves every model id to the same handle.
func staticResolver(handle ModelHandle) ModelResolver {
	return func(modelID string) (ModelHandle, error) {
		return handle, nil
	}
}
