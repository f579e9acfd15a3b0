package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m4xw311/codoc/agent"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/logging"
	"github.com/m4xw311/codoc/proposal"
	"github.com/m4xw311/codoc/session"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeSessionBusy    = -32000
)

// Factory returns the façade for a session id, loading saved state if any.
type Factory func(ctx context.Context, sessionID string) (*agent.Agent, error)

// ---- Minimal ACP handling types ----

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Server speaks newline-delimited JSON-RPC over a pair of streams. It is also
// the proposal.Surface of the editor: documents are opened, highlighted and
// closed through notifications.
//
// Nothing but JSON-RPC messages is ever written to out.
type Server struct {
	in        *bufio.Reader
	out       *bufio.Writer
	writeLock sync.Mutex

	newAgent  Factory
	proposals *proposal.Store
	logger    *log.Logger

	sessionsLock sync.Mutex
	sessions     map[string]*agent.Agent
	sessionIDSeq int64

	// prompts tracks in-flight session/prompt handlers.
	prompts sync.WaitGroup
}

// NewServer creates a server. Register it with proposals.RegisterSurface to
// let it display proposals.
func NewServer(in io.Reader, out io.Writer, newAgent Factory, proposals *proposal.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		in:        bufio.NewReader(in),
		out:       bufio.NewWriter(out),
		newAgent:  newAgent,
		proposals: proposals,
		logger:    logger,
		sessions:  make(map[string]*agent.Agent),
	}
	if proposals != nil {
		proposals.OnChange(func(c proposal.Change) {
			_ = s.writeNotification("proposal/changed", c)
		})
	}
	return s
}

// Serve reads requests until in is exhausted or ctx is done. Prompts run
// concurrently with other requests so proposals can be resolved while a loop
// is running; Serve waits for them before returning.
func (s *Server) Serve(ctx context.Context) error {
	defer s.prompts.Wait()
	s.logger.Debug("starting ACP server")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := s.in.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			s.dispatch(ctx, line)
		}
		if err != nil {
			if err == io.EOF {
				s.logger.Debug("EOF received, exiting")
				return nil
			}
			return errors.Wrapf(err, "ACP: read error")
		}
	}
}

func (s *Server) dispatch(ctx context.Context, payload []byte) {
	s.logger.Debug("received", "payload", string(payload))
	var req jsonrpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Debug("JSON parse error", "err", err)
		_ = s.writeResponseError(nil, codeParseError, "Parse error", nil)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(&req)
	case "session/new":
		s.handleSessionNew(ctx, &req)
	case "session/load":
		s.handleSessionLoad(ctx, &req)
	case "session/prompt":
		s.prompts.Add(1)
		go func() {
			defer s.prompts.Done()
			s.handleSessionPrompt(ctx, &req)
		}()
	case "session/reset":
		s.handleSessionReset(ctx, &req)
	case "specialInstructions/create":
		s.handleInstructionCreate(ctx, &req)
	case "specialInstructions/update":
		s.handleInstructionUpdate(ctx, &req)
	case "specialInstructions/delete":
		s.handleInstructionDelete(ctx, &req)
	case "specialInstructions/setActive":
		s.handleInstructionSetActive(ctx, &req)
	case "proposal/accept":
		s.handleProposal(ctx, &req, true)
	case "proposal/reject":
		s.handleProposal(ctx, &req, false)
	default:
		_ = s.writeResponseError(req.ID, codeMethodNotFound, "Method not found", nil)
	}
}

// ---- Framing ----

func (s *Server) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	s.logger.Debug("sending", "payload", string(data))

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	if err := s.out.WriteByte('\n'); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) writeResponseOK(id any, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return s.writeResponseError(id, codeInternalError, "Internal error", err.Error())
	}
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *Server) writeResponseError(id any, code int, msg string, data any) error {
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

func (s *Server) writeNotification(method string, params any) error {
	return s.writeFramedJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// decodeParams unmarshals params into v, answering the request with an
// error when they are malformed.
func (s *Server) decodeParams(req *jsonrpcRequest, v any) bool {
	if len(req.Params) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
		return false
	}
	return true
}

// ---- Document surface ----

func (s *Server) Open(ctx context.Context, doc proposal.Document) error {
	return s.writeNotification("document/open", doc)
}

func (s *Server) Highlight(ctx context.Context, handle string, ranges []proposal.LineRange, highlights []proposal.LineHighlight) error {
	return s.writeNotification("document/highlight", map[string]any{
		"handle":     handle,
		"ranges":     ranges,
		"highlights": highlights,
	})
}

func (s *Server) Close(ctx context.Context, handle string) error {
	return s.writeNotification("document/close", map[string]any{"handle": handle})
}

// ---- Sessions ----

func (s *Server) handleInitialize(req *jsonrpcRequest) {
	_ = s.writeResponseOK(req.ID, map[string]any{
		"protocolVersion": 1,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": false,
				"image":           false,
			},
		},
		"authMethods": []any{},
	})
}

func (s *Server) handleSessionNew(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		Cwd string `json:"cwd"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	sid := s.nextSessionID()
	if _, err := s.attach(ctx, sid); err != nil {
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", fmt.Sprintf("failed to create session: %v", err))
		return
	}
	_ = s.writeResponseOK(req.ID, map[string]any{"sessionId": sid})
}

// handleSessionLoad replays the saved conversation as session/update
// notifications, followed by an initialize event carrying the special
// instructions.
func (s *Server) handleSessionLoad(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	if p.SessionID == "" {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "sessionId is required")
		return
	}
	a, err := s.attach(ctx, p.SessionID)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", fmt.Sprintf("session not found: %v", err))
		return
	}

	for _, msg := range a.History() {
		switch m := msg.(type) {
		case session.Human:
			_ = s.sendUpdate(p.SessionID, textUpdate("user_message_chunk", m.Content))
		case session.Assistant:
			if m.Content != "" {
				_ = s.sendUpdate(p.SessionID, textUpdate("agent_message_chunk", m.Content))
			}
		case session.ToolCall:
			_ = s.sendUpdate(p.SessionID, toolCallUpdate(m))
		case session.ToolResult:
			_ = s.sendUpdate(p.SessionID, toolResultUpdate(m.ToolCallID, m.Content))
		}
	}
	a.Initialize(ctx)
	_ = s.writeResponseOK(req.ID, nil)
}

// attach returns the façade for sid, creating and wiring it on first use.
func (s *Server) attach(ctx context.Context, sid string) (*agent.Agent, error) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	if a, ok := s.sessions[sid]; ok {
		return a, nil
	}
	a, err := s.newAgent(ctx, sid)
	if err != nil {
		return nil, err
	}
	a.Subscribe(func(e agent.Event) {
		_ = s.sendUpdate(sid, updateFor(e))
	})
	a.SetToolHooks(agent.ToolHooks{
		// Editors confirm edits through proposals, so tools run unprompted.
		ShouldExecuteTool: func(session.ToolCall) bool { return true },
		OnToolResult: func(call session.ToolCall, result string) {
			_ = s.sendUpdate(sid, toolResultUpdate(call.ID, result))
		},
	})
	s.sessions[sid] = a
	return a, nil
}

func (s *Server) lookup(req *jsonrpcRequest, sid string) (*agent.Agent, bool) {
	s.sessionsLock.Lock()
	a, ok := s.sessions[sid]
	s.sessionsLock.Unlock()
	if !ok {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", "unknown sessionId")
	}
	return a, ok
}

func (s *Server) nextSessionID() string {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessionIDSeq++
	return fmt.Sprintf("sess_%d_%d", time.Now().UnixNano(), s.sessionIDSeq)
}

// contentBlock is an ACP prompt block. Only text and resource_link are used.
type contentBlock struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	URI         string `json:"uri,omitempty"`
	Name        string `json:"name,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleSessionPrompt(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string         `json:"sessionId"`
		Prompt    []contentBlock `json:"prompt"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}

	text, refs := parsePrompt(p.Prompt)
	err := a.SendMessage(ctx, text, refs)
	switch {
	case err == nil:
		_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "end_turn"})
	case errors.Is(err, errors.ErrSessionBusy):
		_ = s.writeResponseError(req.ID, codeSessionBusy, "Session busy", err.Error())
	case errors.Is(err, errors.ErrIterationLimitExceeded):
		_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "max_turn_requests"})
	case errors.Is(err, context.Canceled):
		_ = s.writeResponseOK(req.ID, map[string]any{"stopReason": "cancelled"})
	default:
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
	}
}

func (s *Server) handleSessionReset(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}
	if err := a.Reset(ctx); err != nil {
		_ = s.writeResponseError(req.ID, codeSessionBusy, "Session busy", err.Error())
		return
	}
	_ = s.writeResponseOK(req.ID, nil)
}

// ---- Special instructions ----

func (s *Server) handleInstructionCreate(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
		Title     string `json:"title"`
		Content   string `json:"content"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}
	_ = s.writeResponseOK(req.ID, a.CreateSpecialInstruction(ctx, p.Title, p.Content))
}

func (s *Server) handleInstructionUpdate(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string  `json:"sessionId"`
		ID        string  `json:"id"`
		Title     *string `json:"title"`
		Content   *string `json:"content"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}
	si, err := a.UpdateSpecialInstruction(ctx, p.ID, p.Title, p.Content)
	if err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Instruction not found.", p.ID)
		return
	}
	_ = s.writeResponseOK(req.ID, si)
}

func (s *Server) handleInstructionDelete(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
		ID        string `json:"id"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}
	a.DeleteSpecialInstruction(ctx, p.ID)
	_ = s.writeResponseOK(req.ID, nil)
}

func (s *Server) handleInstructionSetActive(ctx context.Context, req *jsonrpcRequest) {
	var p struct {
		SessionID string  `json:"sessionId"`
		ID        *string `json:"id"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	a, ok := s.lookup(req, p.SessionID)
	if !ok {
		return
	}
	if err := a.SetActiveSpecialInstruction(ctx, p.ID); err != nil {
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Instruction not found.", p.ID)
		return
	}
	_ = s.writeResponseOK(req.ID, nil)
}

// ---- Proposals ----

// handleProposal resolves a proposal addressed by id or by document handle.
// Without a range every change is resolved.
func (s *Server) handleProposal(ctx context.Context, req *jsonrpcRequest, accept bool) {
	var p struct {
		ProposalID string              `json:"proposalId"`
		Handle     string              `json:"handle"`
		Range      *proposal.LineRange `json:"range"`
	}
	if !s.decodeParams(req, &p) {
		return
	}
	if s.proposals == nil {
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", "proposals are not enabled")
		return
	}
	id := p.ProposalID
	if id == "" && p.Handle != "" {
		if prop, ok := s.proposals.ByHandle(p.Handle); ok {
			id = prop.ID
		}
	}

	var (
		msg string
		err error
	)
	if accept {
		msg, err = s.proposals.Accept(ctx, id, p.Range)
	} else {
		msg, err = s.proposals.Reject(ctx, id, p.Range)
	}
	switch {
	case err == nil:
		_ = s.writeResponseOK(req.ID, map[string]any{"success": true, "message": msg})
	case errors.Is(err, errors.ErrProposalNotFound), errors.Is(err, errors.ErrChangeRangeNotFound):
		_ = s.writeResponseError(req.ID, codeInvalidParams, "Invalid params", err.Error())
	default:
		_ = s.writeResponseError(req.ID, codeInternalError, "Internal error", err.Error())
	}
}

// ---- Updates ----

func (s *Server) sendUpdate(sessionID string, update map[string]any) error {
	return s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update":    update,
	})
}

// updateFor maps a façade event onto an ACP session update. Events without
// an ACP counterpart keep their own name and carry the event as is.
func updateFor(e agent.Event) map[string]any {
	switch e.Type {
	case agent.EventMessage:
		if len(e.Data.Messages) == 1 {
			switch m := e.Data.Messages[0].(type) {
			case session.Human:
				return textUpdate("user_message_chunk", m.Content)
			case session.Assistant:
				return textUpdate("agent_message_chunk", m.Content)
			}
		}
	case agent.EventToolCall:
		if len(e.Data.Messages) == 1 {
			if call, ok := e.Data.Messages[0].(session.ToolCall); ok {
				return toolCallUpdate(call)
			}
		}
	}
	return map[string]any{
		"sessionUpdate": string(e.Type),
		"event":         e,
	}
}

func textUpdate(kind, text string) map[string]any {
	return map[string]any{
		"sessionUpdate": kind,
		"content": map[string]any{
			"type": "text",
			"text": text,
		},
	}
}

func toolCallUpdate(call session.ToolCall) map[string]any {
	return map[string]any{
		"sessionUpdate": "tool_call",
		"toolCall": map[string]any{
			"id":   call.ID,
			"name": call.Name,
			"args": call.Args,
		},
	}
}

func toolResultUpdate(toolCallID, result string) map[string]any {
	return map[string]any{
		"sessionUpdate": "tool_result",
		"toolResult": map[string]any{
			"toolCallId": toolCallID,
			"result":     result,
		},
	}
}

// parsePrompt joins the text blocks and collects file resource links as
// reference files. Other links are described inline.
func parsePrompt(blocks []contentBlock) (string, []string) {
	var parts []string
	var refs []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				parts = append(parts, b.Text)
			}
		case "resource_link":
			if path, ok := filePath(b.URI); ok {
				refs = append(refs, path)
				continue
			}
			info := fmt.Sprintf("=== Resource: %s ===\n", b.Name)
			if b.Title != "" {
				info += fmt.Sprintf("Title: %s\n", b.Title)
			}
			if b.Description != "" {
				info += fmt.Sprintf("Description: %s\n", b.Description)
			}
			info += fmt.Sprintf("URI: %s\n", b.URI)
			if b.MimeType != "" {
				info += fmt.Sprintf("Type: %s\n", b.MimeType)
			}
			info += "[External resource - content not available]\n=== End Resource ==="
			parts = append(parts, info)
		}
	}
	return strings.Join(parts, "\n"), refs
}

func filePath(uri string) (string, bool) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, true
}
