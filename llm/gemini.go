package llm

import (
	"context"
	"os"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	// mu guards the model's per-request Tools and SystemInstruction.
	mu    sync.Mutex
	model *genai.GenerativeModel
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{
		model: client.GenerativeModel(modelName),
	}, nil
}

// Chat sends a chat request to the Gemini API.
func (g *GeminiLLMClient) Chat(ctx context.Context, system string, messages []session.Message, availableTools []tools.Tool) (session.Message, error) {
	history, err := convertMessagesToGeminiContent(messages)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, errors.New("cannot send an empty conversation to Gemini")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.model.Tools = convertToolsToGeminiTools(availableTools)
	g.model.SystemInstruction = nil
	if system != "" {
		g.model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	// The last message is the new prompt.
	last := history[len(history)-1]
	chatSession := g.model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts conversation turns to Gemini
// contents. Tool calls and their results travel as function call and
// function response parts.
func convertMessagesToGeminiContent(messages []session.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range messages {
		switch m := msg.(type) {
		case session.Human:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case session.Assistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		case session.ToolCall:
			contents = append(contents, &genai.Content{Role: "model", Parts: []genai.Part{
				genai.FunctionCall{Name: m.Name, Args: m.Args},
			}})
		case session.ToolResult:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{
				genai.FunctionResponse{Name: m.ToolName, Response: map[string]any{"result": m.Content}},
			}})
		default:
			return nil, errors.Wrapf(errors.ErrProtocolViolation, "unsupported message %T", msg)
		}
	}
	return contents, nil
}

// convertToolsToGeminiTools converts our Tool interface to Gemini's FunctionDeclaration format.
func convertToolsToGeminiTools(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, tool := range ts {
		fd := &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
		}
		// Gemini rejects object schemas without properties.
		if params := tool.Parameters(); len(params) > 0 {
			fd.Parameters = geminiObjectSchema(params)
		}
		funcDecls = append(funcDecls, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

func geminiObjectSchema(params []tools.Parameter) *genai.Schema {
	s := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(params)),
	}
	for _, p := range params {
		prop := &genai.Schema{Type: geminiType(p.Type), Description: p.Description}
		switch {
		case p.Type == "object" && len(p.Properties) > 0:
			nested := geminiObjectSchema(p.Properties)
			prop.Properties = nested.Properties
			prop.Required = nested.Required
		case p.Type == "object":
			prop.Type = genai.TypeString
		case p.Type == "array":
			prop.Items = &genai.Schema{Type: genai.TypeString}
		}
		s.Properties[p.Name] = prop
		if p.Required {
			s.Required = append(s.Required, p.Name)
		}
	}
	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}

// processGeminiResponse converts a Gemini API response into a conversation
// turn. Gemini does not assign call ids, so one is generated.
func processGeminiResponse(resp *genai.GenerateContentResponse) (session.Message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	var text string
	var calls []session.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text += string(v)
		case genai.FunctionCall:
			calls = append(calls, session.NewToolCall("call_"+uuid.NewString(), v.Name, v.Args))
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return reply(text, calls), nil
}
