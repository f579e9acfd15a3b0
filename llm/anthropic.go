package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}, nil
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, system string, messages []session.Message, availableTools []tools.Tool) (session.Message, error) {
	anthropicMessages, err := convertMessagesToAnthropicMessages(messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  anthropicMessages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}
	for _, toolParam := range convertToolsToAnthropicTools(availableTools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}
	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts conversation turns to Anthropic's format.
// Tool calls become assistant tool_use blocks and their results user
// tool_result blocks.
func convertMessagesToAnthropicMessages(messages []session.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch m := msg.(type) {
		case session.Human:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case session.Assistant:
			if m.Content == "" {
				continue
			}
			out = append(out, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{{
					OfText: &anthropic.TextBlockParam{Text: m.Content},
				}},
			})
		case session.ToolCall:
			argsBytes, err := json.Marshal(m.Args)
			if err != nil {
				return nil, errors.Wrapf(err, "could not marshal tool call arguments for %s", m.Name)
			}
			out = append(out, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    m.ID,
						Name:  m.Name,
						Input: json.RawMessage(argsBytes),
					},
				}},
			})
		case session.ToolResult:
			out = append(out, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: m.ToolCallID,
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: m.Content},
						}},
					},
				}},
			})
		default:
			return nil, errors.Wrapf(errors.ErrProtocolViolation, "unsupported message %T", msg)
		}
	}
	return out, nil
}

// convertToolsToAnthropicTools converts our Tool interface to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolParam {
	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		schema := tools.Schema(t)
		required, _ := schema["required"].([]string)
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
				Required:   required,
			},
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into a conversation turn.
func processAnthropicResponse(resp *anthropic.Message) (session.Message, error) {
	var text string
	var calls []session.ToolCall
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			text += c.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal(c.Input, &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
			}
			calls = append(calls, session.NewToolCall(c.ID, c.Name, args))
		}
	}
	return reply(text, calls), nil
}
