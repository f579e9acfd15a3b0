// Package oracle defines the contract with the external planning service
// that decides, per turn, whether to plan, call a tool, or answer.
package oracle

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/session"
)

// RequestMode tells the oracle what kind of response is wanted.
type RequestMode string

const (
	ModePlan    RequestMode = "plan"
	ModeExecute RequestMode = "execute"
	ModeAuto    RequestMode = "auto"
)

// ResponseMode is what the oracle reports it did.
type ResponseMode string

const (
	ResponsePlanned  ResponseMode = "planned"
	ResponseExecuted ResponseMode = "executed"
	// ResponseNone is used when the oracle reports no mode.
	ResponseNone ResponseMode = ""
)

// Request is a single oracle invocation.
type Request struct {
	Messages            session.Conversation `json:"messages"`
	Mode                RequestMode          `json:"mode"`
	SpecialInstructions string               `json:"special_instructions,omitempty"`
	ReferenceFiles      []string             `json:"reference_files,omitempty"`
}

// Response carries exactly one new conversation turn.
type Response struct {
	Message session.Message
	Mode    ResponseMode
}

type responseJSON struct {
	Message json.RawMessage `json:"message"`
	Mode    ResponseMode    `json:"mode"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	var msg []byte
	if r.Message != nil {
		var err error
		if msg, err = json.Marshal(r.Message); err != nil {
			return nil, err
		}
	} else {
		msg = []byte("null")
	}
	return json.Marshal(responseJSON{Message: msg, Mode: r.Mode})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Mode = raw.Mode
	r.Message = nil
	if len(raw.Message) == 0 || string(raw.Message) == "null" {
		return nil
	}
	msg, err := session.UnmarshalMessage(raw.Message)
	if err != nil {
		return err
	}
	r.Message = msg
	return nil
}

// Oracle is implemented by every planning backend.
type Oracle interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, req Request) (*Response, error)

func (f Func) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Scripted replays a fixed sequence of responses and records every request.
// Once the script runs out, the last response repeats.
type Scripted struct {
	mu        sync.Mutex
	responses []Response
	errAt     map[int]error
	requests  []Request
}

// NewScripted returns an oracle that answers with responses in order.
func NewScripted(responses ...Response) *Scripted {
	return &Scripted{responses: responses, errAt: map[int]error{}}
}

// FailAt makes the n-th call (0-based) return err.
func (s *Scripted) FailAt(n int, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errAt[n] = err
	return s
}

func (s *Scripted) Invoke(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.requests)
	req.Messages = req.Messages.Clone()
	s.requests = append(s.requests, req)
	if err, ok := s.errAt[n]; ok {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "%v", err)
	}
	if len(s.responses) == 0 {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "script is empty")
	}
	if n >= len(s.responses) {
		n = len(s.responses) - 1
	}
	resp := s.responses[n]
	return &resp, nil
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}
