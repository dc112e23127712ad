// Package llm wraps the chat-model calls the pipeline stages make. Every
// stage asks for structured output: one prompt in, one JSON document out,
// decoded straight into the stage's result type.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// Client produces structured extractions from a prompt. Implementations must
// be safe for concurrent use; stages fan out per document.
type Client interface {
	Extract(ctx context.Context, prompt string, out any) error
}

// LangChainClient adapts any langchaingo chat model to Client.
type LangChainClient struct {
	model llms.Model
}

// NewOpenAI builds a client backed by the OpenAI chat API. Credentials come
// from the environment (OPENAI_API_KEY), matching the provider SDK defaults.
func NewOpenAI(model string) (*LangChainClient, error) {
	m, err := openai.New(openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("init openai model: %w", err)
	}
	return &LangChainClient{model: m}, nil
}

// NewLangChainClient wraps an already constructed model.
func NewLangChainClient(model llms.Model) *LangChainClient {
	return &LangChainClient{model: model}
}

// Extract implements Client. The model is forced into JSON mode and the
// first choice is decoded into out.
func (c *LangChainClient) Extract(ctx context.Context, prompt string, out any) error {
	resp, err := c.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
		llms.WithJSONMode(),
	)
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("model returned no choices")
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Content), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
