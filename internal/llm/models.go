package llm

// ModelDescriptor describes one selectable model. The set of valid model ids
// is exactly the key set of this table; anything else is rejected upfront.
type ModelDescriptor struct {
	ID        string
	Name      string
	IsPremium bool
	Provider  ProviderID
}

// DefaultModelID is used when a conversation is created without an explicit model.
const DefaultModelID = "meta-llama/llama-4-maverick-17b-128e-instruct"

// Models is the static model registry. Loaded once, never mutated at runtime.
var Models = []ModelDescriptor{
	{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", IsPremium: false, Provider: ProviderGoogle},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", IsPremium: false, Provider: ProviderGoogle},
	{ID: "gemini-2.5-flash-preview-05-20", Name: "Gemini 2.5 Flash", IsPremium: true, Provider: ProviderGoogle},
	{ID: "gemini-2.5-pro-preview-06-05", Name: "Gemini 2.5 Pro", IsPremium: true, Provider: ProviderGoogle},
	{ID: "deepseek-r1-distill-llama-70b", Name: "DeepSeek R1 Distill Llama 70B", IsPremium: true, Provider: ProviderGroq},
	{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B", IsPremium: false, Provider: ProviderGroq},
	{ID: "meta-llama/llama-4-scout-17b-16e-instruct", Name: "Llama 4 Scout", IsPremium: false, Provider: ProviderGroq},
	{ID: "meta-llama/llama-4-maverick-17b-128e-instruct", Name: "Llama 4 Maverick", IsPremium: false, Provider: ProviderGroq},
	{ID: "qwen-qwq-32b", Name: "Qwen QWQ 32B", IsPremium: false, Provider: ProviderGroq},
	{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", IsPremium: true, Provider: ProviderAnthropic},
	{ID: "claude-sonnet-4-20250514", Name: "Claude 4 Sonnet", IsPremium: true, Provider: ProviderAnthropic},
	{ID: "claude-opus-4-20250514", Name: "Claude 4 Opus", IsPremium: true, Provider: ProviderAnthropic},
	{ID: "gpt-4o", Name: "GPT-4o", IsPremium: false, Provider: ProviderOpenAI},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", IsPremium: false, Provider: ProviderOpenAI},
	{ID: "gpt-4.1", Name: "GPT-4.1", IsPremium: false, Provider: ProviderOpenAI},
	{ID: "gpt-4.1-mini", Name: "GPT-4.1 Mini", IsPremium: false, Provider: ProviderOpenAI},
	{ID: "gpt-4.1-nano", Name: "GPT-4.1 Nano", IsPremium: false, Provider: ProviderOpenAI},
	{ID: "o3", Name: "o3", IsPremium: false, Provider: ProviderOpenAI},
	{ID: "o4-mini", Name: "o4 Mini", IsPremium: false, Provider: ProviderOpenAI},
}

// FindModel looks up a model descriptor by id.
func FindModel(id string) (ModelDescriptor, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelDescriptor{}, false
}
