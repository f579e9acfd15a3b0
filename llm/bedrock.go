package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
)

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg.Region = region

	var opts []func(*bedrockruntime.Options)
	// A custom endpoint is useful for testing against a local stub.
	if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return &BedrockLLMClient{
		client:  bedrockruntime.NewFromConfig(cfg, opts...),
		modelID: modelID,
		region:  region,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, system string, messages []session.Message, availableTools []tools.Tool) (session.Message, error) {
	anthropicMessages, err := convertMessagesToAnthropicFormat(messages)
	if err != nil {
		return nil, err
	}
	requestBody, err := createAnthropicRequest(anthropicMessages, system, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts conversation turns to the
// Anthropic messages body Bedrock expects.
func convertMessagesToAnthropicFormat(messages []session.Message) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for _, msg := range messages {
		switch m := msg.(type) {
		case session.Human:
			out = append(out, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": m.Content},
				},
			})
		case session.Assistant:
			if m.Content == "" {
				continue
			}
			out = append(out, map[string]interface{}{
				"role": "assistant",
				"content": []map[string]interface{}{
					{"type": "text", "text": m.Content},
				},
			})
		case session.ToolCall:
			out = append(out, map[string]interface{}{
				"role": "assistant",
				"content": []map[string]interface{}{
					{"type": "tool_use", "id": m.ID, "name": m.Name, "input": m.Args},
				},
			})
		case session.ToolResult:
			out = append(out, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "tool_result", "tool_use_id": m.ToolCallID, "content": m.Content},
				},
			})
		default:
			return nil, errors.Wrapf(errors.ErrProtocolViolation, "unsupported message %T", msg)
		}
	}
	return out, nil
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, systemPrompt string, availableTools []tools.Tool) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(availableTools) > 0 {
		var toolDefs []map[string]interface{}
		for _, tool := range availableTools {
			toolDefs = append(toolDefs, map[string]interface{}{
				"name":         tool.Name(),
				"description":  tool.Description(),
				"input_schema": tools.Schema(tool),
			})
		}
		request["tools"] = toolDefs
	}
	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into a conversation turn.
func processBedrockResponse(body []byte) (session.Message, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	content, ok := response["content"]
	if !ok {
		return session.NewAssistant(""), nil
	}
	contentArray, ok := content.([]interface{})
	if !ok {
		return nil, errors.New("unexpected content format in Bedrock response")
	}

	var text string
	var calls []session.ToolCall
	for i, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if s, ok := itemMap["text"].(string); ok {
				text += s
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, _ := itemMap["input"].(map[string]interface{})
			id, ok := itemMap["id"].(string)
			if !ok {
				id = fmt.Sprintf("call_%d_%s", i, name)
			}
			calls = append(calls, session.NewToolCall(id, name, input))
		}
	}
	return reply(text, calls), nil
}
