package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
)

// MockTool is a simple mock tool for testing
type MockTool struct {
	name        string
	description string
}

func (m *MockTool) Name() string        { return m.name }
func (m *MockTool) Description() string { return m.description }
func (m *MockTool) Parameters() []tools.Parameter {
	return []tools.Parameter{{Name: "path", Type: "string", Required: true}}
}
func (m *MockTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "mock result", nil
}

func TestConvertMessagesToAnthropicFormat(t *testing.T) {
	call := session.NewToolCall("call_1", "test_tool", map[string]interface{}{"param1": "value1"})
	tests := []struct {
		name     string
		messages []session.Message
		wantLen  int
		wantRole string
	}{
		{"human", []session.Message{session.NewHuman("Hello, world!")}, 1, "user"},
		{"assistant", []session.Message{session.NewAssistant("How can I help?")}, 1, "assistant"},
		{"empty assistant is dropped", []session.Message{session.NewAssistant("")}, 0, ""},
		{"tool call", []session.Message{call}, 1, "assistant"},
		{"tool result", []session.Message{session.NewToolResult(call, "Tool result")}, 1, "user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := convertMessagesToAnthropicFormat(tt.messages)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result) != tt.wantLen {
				t.Fatalf("expected %d messages, got %d", tt.wantLen, len(result))
			}
			if tt.wantLen > 0 && result[0]["role"] != tt.wantRole {
				t.Errorf("expected role %q, got %v", tt.wantRole, result[0]["role"])
			}
		})
	}
}

func TestToolResultCarriesCallID(t *testing.T) {
	call := session.NewToolCall("toolu_9", "read_file", nil)
	result, err := convertMessagesToAnthropicFormat([]session.Message{session.NewToolResult(call, "body")})
	if err != nil {
		t.Fatal(err)
	}
	block := result[0]["content"].([]map[string]interface{})[0]
	if block["tool_use_id"] != "toolu_9" || block["type"] != "tool_result" {
		t.Errorf("unexpected block %v", block)
	}
}

func TestCreateAnthropicRequest(t *testing.T) {
	messages, _ := convertMessagesToAnthropicFormat([]session.Message{session.NewHuman("Hello!")})

	body, err := createAnthropicRequest(messages, "be brief", []tools.Tool{&MockTool{name: "test_tool", description: "A test tool"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded struct {
		System string `json:"system"`
		Tools  []struct {
			Name        string `json:"name"`
			InputSchema struct {
				Required []string `json:"required"`
			} `json:"input_schema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.System != "be brief" {
		t.Errorf("system = %q", decoded.System)
	}
	if len(decoded.Tools) != 1 || decoded.Tools[0].Name != "test_tool" {
		t.Fatalf("tools = %+v", decoded.Tools)
	}
	if len(decoded.Tools[0].InputSchema.Required) != 1 {
		t.Errorf("required = %v", decoded.Tools[0].InputSchema.Required)
	}

	body, err = createAnthropicRequest(messages, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	json.Unmarshal(body, &raw)
	if _, ok := raw["tools"]; ok {
		t.Error("tools should be omitted when none are available")
	}
	if _, ok := raw["system"]; ok {
		t.Error("system should be omitted when empty")
	}
}

func TestProcessBedrockResponse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind session.Kind
		wantText string
		wantTool string
		wantErr  bool
	}{
		{"text", `{"content":[{"type":"text","text":"Hi"},{"type":"text","text":" there"}]}`, session.KindAssistant, "Hi there", "", false},
		{"tool use wins", `{"content":[{"type":"text","text":"Let me look"},{"type":"tool_use","id":"toolu_1","name":"read_file","input":{"path":"a"}}]}`, session.KindToolCall, "", "read_file", false},
		{"no content", `{}`, session.KindAssistant, "", "", false},
		{"api error", `{"error":"throttled"}`, "", "", "", true},
		{"bad json", `{`, "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := processBedrockResponse([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr {
				return
			}
			if msg.Kind() != tt.wantKind {
				t.Fatalf("kind = %s, want %s", msg.Kind(), tt.wantKind)
			}
			switch m := msg.(type) {
			case session.Assistant:
				if m.Content != tt.wantText {
					t.Errorf("content = %q", m.Content)
				}
			case session.ToolCall:
				if m.Name != tt.wantTool || m.ID != "toolu_1" || m.Args["path"] != "a" {
					t.Errorf("call = %+v", m)
				}
			}
		})
	}
}

func TestMockLLMClientEchoesLastHumanTurn(t *testing.T) {
	msg, err := (&MockLLMClient{}).Chat(context.Background(), "", []session.Message{
		session.NewHuman("first"),
		session.NewAssistant("ok"),
		session.NewHuman("second"),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	a, ok := msg.(session.Assistant)
	if !ok || a.Content != "I am a mock LLM. You said: 'second'. I cannot use tools yet." {
		t.Errorf("unexpected reply %#v", msg)
	}
}
