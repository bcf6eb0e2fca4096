package agent

import (
	"context"
	"fmt"
)

// LLMProvider is a conversational model backend.
type LLMProvider interface {
	// Converse sends the transcript and tool schemas, returning either final
	// text or requested tool calls. A transport or API failure is returned as
	// an error; a well-formed empty reply is not an error.
	Converse(ctx context.Context, request ConverseRequest) (*ConverseResponse, error)

	// Name returns the provider name.
	Name() string
}

// ConverseRequest contains the parameters for one model call.
type ConverseRequest struct {
	Model        string
	SystemPrompt string
	Messages     []AgentMessage
	Tools        []map[string]interface{}
	Temperature  float64
	MaxTokens    int
}

// ConverseResponse is the model's reply. Tool calls present means the model
// wants another round; otherwise Text is the final reply.
type ConverseResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderCreator creates LLM providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile AuthProfile) (LLMProvider, error)
}

// ProviderFactory creates the built-in providers.
type ProviderFactory struct{}

// NewProvider creates a provider for the profile's backend.
func (f *ProviderFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
