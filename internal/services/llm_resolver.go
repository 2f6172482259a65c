package services

import (
	"context"
	"encoding/json"

	"driftchat-backend/internal/llm"
)

// ModelHandle is the slice of a language-model handle the services consume.
// Satisfied by *llm.Handle; tests substitute fakes.
type ModelHandle interface {
	ModelID() string
	StreamText(ctx context.Context, messages []llm.ChatMessage) (llm.TokenStream, error)
	CompleteJSON(ctx context.Context, prompt string, schemaName string, schema json.RawMessage) (string, error)
}

// ModelResolver maps a model id to a ready handle, or fails with one of the
// llm resolution errors (llm.ErrUnknownModel, llm.ErrUnknownProvider,
// llm.ErrMissingCredentials).
type ModelResolver func(modelID string) (ModelHandle, error)

// RegistryResolver adapts an *llm.Registry to the ModelResolver shape.
func RegistryResolver(registry *llm.Registry) ModelResolver {
	return func(modelID string) (ModelHandle, error) {
		return registry.HandleForModel(modelID)
	}
}
