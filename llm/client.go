package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
// Chat returns either a session.ToolCall, when the model asked for a tool, or
// a session.Assistant with the model's text.
type LLMClient interface {
	Chat(ctx context.Context, system string, messages []session.Message, availableTools []tools.Tool) (session.Message, error)
}

// New returns the client for provider. The mock provider needs no
// credentials.
func New(ctx context.Context, provider, model string) (LLMClient, error) {
	var (
		client LLMClient
		err    error
	)
	switch strings.ToLower(provider) {
	case "anthropic":
		client, err = wrap(NewAnthropicLLMClient(ctx, model))
	case "openai":
		client, err = wrap(NewOpenAILLMClient(ctx, model))
	case "gemini":
		client, err = wrap(NewGeminiLLMClient(ctx, model))
	case "bedrock":
		client, err = wrap(NewBedrockLLMClient(ctx, model))
	case "mock":
		client = &MockLLMClient{}
	default:
		err = errors.New("unknown LLM provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// wrap keeps a failed constructor's typed nil out of the interface.
func wrap[C LLMClient](c C, err error) (LLMClient, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MockLLMClient echoes the last human turn. It never calls tools.
type MockLLMClient struct{}

func (m *MockLLMClient) Chat(ctx context.Context, system string, messages []session.Message, availableTools []tools.Tool) (session.Message, error) {
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if h, ok := messages[i].(session.Human); ok {
			last = h.Content
			break
		}
	}
	return session.NewAssistant(fmt.Sprintf("I am a mock LLM. You said: '%s'. I cannot use tools yet.", last)), nil
}

// reply picks what Chat returns: the first requested tool call wins, and
// text accompanying it is dropped.
func reply(text string, calls []session.ToolCall) session.Message {
	if len(calls) > 0 {
		return calls[0]
	}
	return session.NewAssistant(text)
}
