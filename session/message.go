package session

import (
	"encoding/json"

	"github.com/m4xw311/codoc/errors"
)

// Kind is the wire discriminant of a Message.
type Kind string

const (
	KindHuman      Kind = "human"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool"
)

// Message is one conversation turn. The set of implementations is closed:
// Human, Assistant, ToolCall and ToolResult. Switch on the concrete type and
// treat the default branch as a protocol violation.
type Message interface {
	Kind() Kind
	isMessage()
}

// Human is free text typed by the user, or synthesized on the user's behalf.
type Human struct {
	Content string
}

// Assistant is a free-text answer from the oracle. It ends a planning loop.
type Assistant struct {
	Content string
}

// ToolCall asks for the named tool to run with Args. ID correlates it with
// exactly one later ToolResult.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolResult is the textual outcome of running the tool call ToolCallID.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Content    string
}

func (Human) Kind() Kind      { return KindHuman }
func (Assistant) Kind() Kind  { return KindAssistant }
func (ToolCall) Kind() Kind   { return KindToolCall }
func (ToolResult) Kind() Kind { return KindToolResult }

func (Human) isMessage()      {}
func (Assistant) isMessage()  {}
func (ToolCall) isMessage()   {}
func (ToolResult) isMessage() {}

// NewHuman returns a human turn.
func NewHuman(content string) Human { return Human{Content: content} }

// NewAssistant returns an assistant turn.
func NewAssistant(content string) Assistant { return Assistant{Content: content} }

// NewToolCall returns a tool call turn. A nil args map is replaced by an
// empty one so the call always encodes as an object.
func NewToolCall(id, name string, args map[string]interface{}) ToolCall {
	if args == nil {
		args = map[string]interface{}{}
	}
	return ToolCall{ID: id, Name: name, Args: args}
}

// NewToolResult returns the result turn for call.
func NewToolResult(call ToolCall, content string) ToolResult {
	return ToolResult{ToolCallID: call.ID, ToolName: call.Name, Content: content}
}

type textWire struct {
	Type    Kind   `json:"type"`
	Content string `json:"content"`
}

type toolWire struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
}

type toolCallWire struct {
	Type Kind     `json:"type"`
	Tool toolWire `json:"tool"`
}

type toolResultWire struct {
	Type       Kind   `json:"type"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
}

func (m Human) MarshalJSON() ([]byte, error) {
	return json.Marshal(textWire{Type: KindHuman, Content: m.Content})
}

func (m Assistant) MarshalJSON() ([]byte, error) {
	return json.Marshal(textWire{Type: KindAssistant, Content: m.Content})
}

func (m ToolCall) MarshalJSON() ([]byte, error) {
	args := m.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	return json.Marshal(toolCallWire{
		Type: KindToolCall,
		Tool: toolWire{Name: m.Name, Args: args, ID: m.ID, Type: string(KindToolCall)},
	})
}

func (m ToolResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolResultWire{
		Type:       KindToolResult,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.ToolName,
	})
}

// UnmarshalMessage decodes one message using its "type" discriminant.
func UnmarshalMessage(data []byte) (Message, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrapf(err, "could not decode message")
	}
	switch head.Type {
	case KindHuman, KindAssistant:
		var w textWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, errors.Wrapf(err, "could not decode %s message", head.Type)
		}
		if head.Type == KindHuman {
			return Human{Content: w.Content}, nil
		}
		return Assistant{Content: w.Content}, nil
	case KindToolCall:
		var w toolCallWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, errors.Wrapf(err, "could not decode tool_call message")
		}
		if w.Tool.Name == "" {
			return nil, errors.New("tool_call message has no tool name")
		}
		return NewToolCall(w.Tool.ID, w.Tool.Name, w.Tool.Args), nil
	case KindToolResult:
		var w toolResultWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, errors.Wrapf(err, "could not decode tool message")
		}
		return ToolResult{ToolCallID: w.ToolCallID, ToolName: w.ToolName, Content: w.Content}, nil
	default:
		return nil, errors.New("unknown message type %q", head.Type)
	}
}

// Conversation is an ordered, append-only sequence of messages.
type Conversation []Message

func (c Conversation) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Message(c))
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrapf(err, "could not decode conversation")
	}
	out := make(Conversation, 0, len(raw))
	for i, r := range raw {
		msg, err := UnmarshalMessage(r)
		if err != nil {
			return errors.Wrapf(err, "message %d", i)
		}
		out = append(out, msg)
	}
	*c = out
	return nil
}

// Clone returns a copy of the conversation backed by a new array.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}
