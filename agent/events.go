package agent

import (
	"encoding/json"

	"github.com/m4xw311/codoc/session"
)

// EventType names an outbound notification for the presentation layer.
type EventType string

const (
	EventWorking                    EventType = "working"
	EventMessage                    EventType = "message"
	EventToolCall                   EventType = "tool_call"
	EventError                      EventType = "error"
	EventClearState                 EventType = "clearState"
	EventSpecialInstructionsUpdated EventType = "specialInstructionsUpdated"
	EventInitialize                 EventType = "initialize"
)

type EventData struct {
	Messages                   session.Conversation
	Text                       string
	SpecialInstructions        []session.SpecialInstruction
	ActiveSpecialInstructionID *string
}

type Event struct {
	Type EventType
	Data EventData
}

// MarshalJSON writes {"type":..., "data":{...}}. Instruction events always
// carry the full list and the active id, which may be null.
func (e Event) MarshalJSON() ([]byte, error) {
	data := map[string]interface{}{}
	if e.Data.Messages != nil || e.Type == EventInitialize {
		data["messages"] = e.Data.Messages
	}
	if e.Data.Text != "" || e.Type == EventError || e.Type == EventClearState {
		data["text"] = e.Data.Text
	}
	if e.Type == EventSpecialInstructionsUpdated || e.Type == EventInitialize {
		sis := e.Data.SpecialInstructions
		if sis == nil {
			sis = []session.SpecialInstruction{}
		}
		data["specialInstructions"] = sis
		data["activeSpecialInstructionId"] = e.Data.ActiveSpecialInstructionID
	}
	return json.Marshal(struct {
		Type EventType              `json:"type"`
		Data map[string]interface{} `json:"data"`
	}{e.Type, data})
}
