package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	c := openai.NewClient(options...)
	// The &c is required, do not replace and just use c
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

// Chat sends a chat request to OpenAI and converts the response into a conversation turn.
func (o *OpenAILLMClient) Chat(ctx context.Context, system string, messages []session.Message, availableTools []tools.Tool) (session.Message, error) {
	chatMessages, err := convertMessagesToOpenaiContent(system, messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: chatMessages,
		Tools:    convertToolsToOpenAITools(availableTools),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}
	return processOpenaiResponse(resp)
}

// processOpenaiResponse converts an OpenAI API response into a conversation turn.
func processOpenaiResponse(resp *openai.ChatCompletion) (session.Message, error) {
	if len(resp.Choices) == 0 {
		return session.NewAssistant(""), nil
	}
	choice := resp.Choices[0].Message

	var calls []session.ToolCall
	for _, tc := range choice.ToolCalls {
		var args map[string]interface{}
		// Arguments are a JSON string; we expect it to be a flat map of arguments.
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
			}
		}
		calls = append(calls, session.NewToolCall(tc.ID, tc.Function.Name, args))
	}
	return reply(choice.Content, calls), nil
}

// convertMessagesToOpenaiContent converts conversation turns to OpenAI chat messages.
func convertMessagesToOpenaiContent(system string, messages []session.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch m := msg.(type) {
		case session.Human:
			chatMessages = append(chatMessages, openai.UserMessage(m.Content))
		case session.Assistant:
			chatMessages = append(chatMessages, openai.AssistantMessage(m.Content))
		case session.ToolCall:
			argsBytes, err := json.Marshal(m.Args)
			if err != nil {
				return nil, errors.Wrapf(err, "could not marshal tool call arguments for %s", m.Name)
			}
			assistantMessage := openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ChatCompletionMessageToolCallUnion{{
					ID:   m.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      m.Name,
						Arguments: string(argsBytes),
					},
				}},
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.ToolResult:
			chatMessages = append(chatMessages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, errors.Wrapf(errors.ErrProtocolViolation, "unsupported message %T", msg)
		}
	}
	return chatMessages, nil
}

// convertToolsToOpenAITools converts our Tool interface to the OpenAI Tool format.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(tools.Schema(t)),
		}))
	}
	return openAITools
}
