package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatMessage is the wire shape sent upstream: role and content only.
// Internal ids and metadata never leave the process.
type ChatMessage struct {
	Role    string
	Content string
}

// ChunkType discriminates the partial-response chunks a token stream yields.
type ChunkType string

const (
	ChunkTypeText      ChunkType = "text"
	ChunkTypeReasoning ChunkType = "reasoning"
	ChunkTypeFinish    ChunkType = "finish"
	ChunkTypeUsage     ChunkType = "usage"
)

// Usage carries token totals reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Chunk is one element of a token stream.
type Chunk struct {
	Type         ChunkType
	Delta        string
	FinishReason string
	Usage        *Usage
}

// TokenStream is an ordered sequence of partial-response chunks.
// Recv returns io.EOF when the stream is exhausted.
type TokenStream interface {
	Recv() (Chunk, error)
	Close() error
}

// Handle is a callable language-model handle bound to one model.
type Handle struct {
	client  *openai.Client
	modelID string
}

// ModelID returns the model this handle is bound to.
func (h *Handle) ModelID() string {
	return h.modelID
}

// StreamText opens a streaming text-generation session over the given messages.
func (h *Handle) StreamText(ctx context.Context, messages []ChatMessage) (TokenStream, error) {
	req := openai.ChatCompletionRequest{
		Model:    h.modelID,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := h.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream for %s: %w", h.modelID, err)
	}
	return &chatCompletionStream{inner: stream}, nil
}

// CompleteJSON runs a non-streaming, schema-constrained completion and returns
// the raw JSON content of the first choice.
func (h *Handle) CompleteJSON(ctx context.Context, prompt string, schemaName string, schema json.RawMessage) (string, error) {
	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: h.modelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("structured completion against %s failed: %w", h.modelID, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("structured completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// chatCompletionStream adapts the upstream SDK stream to the TokenStream
// contract, flattening each SDK chunk into at most one Chunk per Recv call.
type chatCompletionStream struct {
	inner *openai.ChatCompletionStream
}

func (s *chatCompletionStream) Recv() (Chunk, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			// io.EOF passes through untouched; callers test for it.
			return Chunk{}, err
		}

		// The usage-only chunk arrives with an empty choice list when
		// IncludeUsage is set.
		if len(resp.Choices) == 0 {
			if resp.Usage != nil {
				return Chunk{
					Type: ChunkTypeUsage,
					Usage: &Usage{
						PromptTokens:     resp.Usage.PromptTokens,
						CompletionTokens: resp.Usage.CompletionTokens,
						TotalTokens:      resp.Usage.TotalTokens,
					},
				}, nil
			}
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			return Chunk{Type: ChunkTypeText, Delta: choice.Delta.Content}, nil
		}
		if choice.Delta.ReasoningContent != "" {
			return Chunk{Type: ChunkTypeReasoning, Delta: choice.Delta.ReasoningContent}, nil
		}
		if choice.FinishReason != "" {
			return Chunk{Type: ChunkTypeFinish, FinishReason: string(choice.FinishReason)}, nil
		}
		// Empty keep-alive delta; read the next chunk.
	}
}

func (s *chatCompletionStream) Close() error {
	return s.inner.Close()
}
