package llm

import (
	"errors"
	"fmt"

	"driftchat-backend/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

// Errors returned during provider/model resolution.
var (
	ErrUnknownModel       = errors.New("unknown model id")
	ErrUnknownProvider    = errors.New("unknown provider id")
	ErrMissingCredentials = errors.New("missing provider credentials")
)

// ProviderID identifies an upstream inference vendor. The set of providers is
// closed; resolution is an exhaustive switch, not a dynamic lookup.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGroq      ProviderID = "groq"
	ProviderGoogle    ProviderID = "google"
)

// All providers are reached through their OpenAI-compatible endpoints, so one
// client type serves the whole table.
const (
	openAIBaseURL    = "https://api.openai.com/v1"
	anthropicBaseURL = "https://api.anthropic.com/v1"
	groqBaseURL      = "https://api.groq.com/openai/v1"
	googleBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai"
)

// Registry maps provider ids to the credentials needed to construct a client.
// Built once at startup from process configuration; immutable afterwards.
type Registry struct {
	apiKeys map[ProviderID]string
}

// NewRegistry builds the provider registry from configuration.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		apiKeys: map[ProviderID]string{
			ProviderOpenAI:    cfg.OpenAIAPIKey,
			ProviderAnthropic: cfg.AnthropicAPIKey,
			ProviderGroq:      cfg.GroqAPIKey,
			ProviderGoogle:    cfg.GoogleAPIKey,
		},
	}
}

// Factory yields language-model handles for one resolved provider.
type Factory struct {
	provider ProviderID
	apiKey   string
	baseURL  string
}

// Resolve returns a handle factory for the given provider id.
// Fails with ErrUnknownProvider outside the fixed provider set and with
// ErrMissingCredentials when no API key is configured.
func (r *Registry) Resolve(provider ProviderID) (*Factory, error) {
	var baseURL string
	switch provider {
	case ProviderOpenAI:
		baseURL = openAIBaseURL
	case ProviderAnthropic:
		baseURL = anthropicBaseURL
	case ProviderGroq:
		baseURL = groqBaseURL
	case ProviderGoogle:
		baseURL = googleBaseURL
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	apiKey := r.apiKeys[provider]
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no API key for %s", ErrMissingCredentials, provider)
	}

	return &Factory{provider: provider, apiKey: apiKey, baseURL: baseURL}, nil
}

// HandleForModel resolves a model id through the model table to its provider
// and returns a ready handle. Fails with ErrUnknownModel for ids outside the
// static registry.
func (r *Registry) HandleForModel(modelID string) (*Handle, error) {
	model, ok := FindModel(modelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	factory, err := r.Resolve(model.Provider)
	if err != nil {
		return nil, err
	}
	return factory.Handle(modelID), nil
}

// Handle builds a language-model handle for the given model id. Pure with
// respect to registry state.
func (f *Factory) Handle(modelID string) *Handle {
	clientCfg := openai.DefaultConfig(f.apiKey)
	clientCfg.BaseURL = f.baseURL
	return &Handle{
		client:  openai.NewClientWithConfig(clientCfg),
		modelID: modelID,
	}
}
