package providers

import (
	"fmt"

	"aiproxy-go/internal/credential"
	"aiproxy-go/internal/models"
)

// Registry resolves the adapter for a (secret type, model format) pair.
type Registry struct {
	openai           map[string]*OpenAIAdapter
	anthropic        *AnthropicAdapter
	vertexAnthropic  *AnthropicAdapter
	google           *GoogleAdapter
	vertexGoogle     *GoogleAdapter
	bedrockAnthropic *BedrockAnthropicAdapter
	converse         *ConverseAdapter
}

// NewRegistry builds every adapter once; adapters are stateless apart
// from the shared token cache.
func NewRegistry(tokens *TokenCache) *Registry {
	r := &Registry{
		openai:           make(map[string]*OpenAIAdapter, len(vendors)),
		anthropic:        NewAnthropicAdapter(),
		vertexAnthropic:  NewVertexAnthropicAdapter(tokens),
		google:           NewGoogleAdapter(),
		vertexGoogle:     NewVertexGoogleAdapter(tokens),
		bedrockAnthropic: NewBedrockAnthropicAdapter(),
		converse:         NewConverseAdapter(),
	}
	for kind := range vendors {
		r.openai[kind] = NewOpenAIAdapter(kind, tokens)
	}
	return r
}

// Resolve returns the adapter that talks to secretType for a model of the
// given format.
func (r *Registry) Resolve(secretType string, format models.Format) (Adapter, error) {
	if a, ok := r.openai[secretType]; ok {
		return a, nil
	}
	switch secretType {
	case credential.TypeAnthropic:
		return r.anthropic, nil
	case credential.TypeGoogle:
		return r.google, nil
	case credential.TypeVertex:
		if format == models.FormatAnthropic {
			return r.vertexAnthropic, nil
		}
		return r.vertexGoogle, nil
	case credential.TypeBedrock:
		if format == models.FormatAnthropic {
			return r.bedrockAnthropic, nil
		}
		return r.converse, nil
	}
	return nil, fmt.Errorf("no adapter for secret type %q", secretType)
}
