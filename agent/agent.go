package agent

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/logging"
	"github.com/m4xw311/codoc/session"
)

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModePrompt:
		return Mode(s), nil
	}
	return "", errors.New("invalid mode '%s'. Must be 'auto' or 'prompt'", s)
}

type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// ParseToolVerbosity validates a verbosity name.
func ParseToolVerbosity(s string) (ToolVerbosity, error) {
	switch ToolVerbosity(s) {
	case ToolVerbosityNone, ToolVerbosityInfo, ToolVerbosityAll:
		return ToolVerbosity(s), nil
	}
	return "", errors.New("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", s)
}

const (
	noResponseText    = "No response from planning service."
	workingText       = "Working..."
	untitled          = "Untitled"
	instructionPrefix = "si_"
)

// ToolHooks are presentation-specific hooks around tool execution.
type ToolHooks struct {
	ShouldExecuteTool func(call session.ToolCall) bool
	OnToolResult      func(call session.ToolCall, result string)
}

type Options struct {
	Planner     *Planner
	Store       session.Store
	SessionName string
	Logger      *log.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Agent is the session façade: it owns the conversation and the special
// instructions of one session, persists them after every change and reports
// progress as events.
type Agent struct {
	planner *Planner
	store   session.Store
	name    string
	logger  *log.Logger
	now     func() time.Time

	// runMu is held for the duration of a planning loop or a reset.
	runMu sync.Mutex

	mu    sync.Mutex
	state *session.State
	hooks ToolHooks

	listenersMu sync.RWMutex
	listeners   []func(Event)
}

// New loads the saved state for opts.SessionName and returns its façade.
func New(ctx context.Context, opts Options) (*Agent, error) {
	if opts.Planner == nil || opts.Store == nil {
		return nil, errors.New("agent needs a planner and a state store")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	state, err := opts.Store.Load(ctx, opts.SessionName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load session '%s'", opts.SessionName)
	}
	return &Agent{
		planner: opts.Planner,
		store:   opts.Store,
		name:    opts.SessionName,
		logger:  opts.Logger,
		now:     opts.Clock,
		state:   state,
	}, nil
}

func (a *Agent) Name() string { return a.name }

// Subscribe registers fn for every event. Events are delivered on the
// goroutine that caused them.
func (a *Agent) Subscribe(fn func(Event)) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *Agent) SetToolHooks(h ToolHooks) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = h
}

func (a *Agent) emit(e Event) {
	a.listenersMu.RLock()
	listeners := slices.Clone(a.listeners)
	a.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(e)
	}
}

func (a *Agent) emitError(text string) {
	a.emit(Event{Type: EventError, Data: EventData{Text: text}})
}

// persistLocked saves the current state. a.mu must be held.
func (a *Agent) persistLocked(ctx context.Context) {
	if err := a.store.Save(ctx, a.name, a.state.Clone()); err != nil {
		a.logger.Warn("failed to save session", "session", a.name, "err", err)
	}
}

// Initialize replays the history and instructions, e.g. after a client
// (re)connects.
func (a *Agent) Initialize(ctx context.Context) {
	a.mu.Lock()
	if !a.state.Initialized {
		a.state.Initialized = true
		a.persistLocked(ctx)
	}
	e := Event{Type: EventInitialize, Data: a.instructionDataLocked()}
	e.Data.Messages = a.state.MessageHistory.Clone()
	a.mu.Unlock()
	a.emit(e)
}

// SendMessage runs one instruction through the planning loop. Only one loop
// runs at a time; a concurrent call fails with ErrSessionBusy.
func (a *Agent) SendMessage(ctx context.Context, text string, referenceFiles []string) error {
	if !a.runMu.TryLock() {
		return errors.Wrapf(errors.ErrSessionBusy, "session '%s'", a.name)
	}
	defer a.runMu.Unlock()

	human := session.NewHuman(text)
	a.mu.Lock()
	a.state.AddMessage(human)
	a.persistLocked(ctx)
	history := a.state.MessageHistory.Clone()
	in := LoopInput{SpecialInstructions: a.activeContentLocked(), ReferenceFiles: referenceFiles}
	hooks := a.hooks
	a.mu.Unlock()

	a.emit(Event{Type: EventMessage, Data: EventData{Messages: session.Conversation{human}}})

	turns, err := a.planner.RunPlanningLoop(ctx, history, in, Callbacks{
		OnWorking: func() {
			a.emit(Event{Type: EventWorking, Data: EventData{Text: workingText}})
		},
		OnToolCall: func(call session.ToolCall) {
			a.emit(Event{Type: EventToolCall, Data: EventData{Messages: session.Conversation{call}}})
		},
		OnToolResult:      hooks.OnToolResult,
		ShouldExecuteTool: hooks.ShouldExecuteTool,
		OnWarning: func(w string) {
			a.logger.Warn(w)
			a.emitError(w)
		},
	})

	a.mu.Lock()
	for _, t := range turns {
		a.state.AddMessage(t)
	}
	if len(turns) > 0 {
		a.persistLocked(ctx)
	}
	a.mu.Unlock()

	for _, t := range turns {
		if _, ok := t.(session.Assistant); ok {
			a.emit(Event{Type: EventMessage, Data: EventData{Messages: session.Conversation{t}}})
		}
	}

	if err != nil {
		a.logger.Error("planning loop failed", "session", a.name, "err", err)
		a.emitError(err.Error())
		return err
	}
	if len(turns) == 0 {
		a.emitError(noResponseText)
	}
	return nil
}

// Reset clears the conversation. Special instructions are kept.
func (a *Agent) Reset(ctx context.Context) error {
	if !a.runMu.TryLock() {
		return errors.Wrapf(errors.ErrSessionBusy, "session '%s'", a.name)
	}
	defer a.runMu.Unlock()

	a.emit(Event{Type: EventClearState})
	a.mu.Lock()
	a.state.MessageHistory = session.Conversation{}
	a.persistLocked(ctx)
	a.mu.Unlock()
	return nil
}

// History returns a copy of the conversation.
func (a *Agent) History() session.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.MessageHistory.Clone()
}

// SpecialInstructions returns the instructions and the active id, if any.
func (a *Agent) SpecialInstructions() ([]session.SpecialInstruction, *string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.instructionDataLocked()
	return d.SpecialInstructions, d.ActiveSpecialInstructionID
}

// CreateSpecialInstruction adds an instruction and makes it active.
func (a *Agent) CreateSpecialInstruction(ctx context.Context, title, content string) session.SpecialInstruction {
	now := a.now().UnixMilli()
	si := session.SpecialInstruction{
		ID:        instructionPrefix + uuid.NewString(),
		Title:     normalizeTitle(title),
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.mu.Lock()
	a.state.SpecialInstructions = append(a.state.SpecialInstructions, si)
	id := si.ID
	a.state.ActiveSpecialInstructionID = &id
	a.commitInstructionsLocked(ctx)
	return si
}

// UpdateSpecialInstruction changes the non-nil fields of instruction id.
func (a *Agent) UpdateSpecialInstruction(ctx context.Context, id string, title, content *string) (session.SpecialInstruction, error) {
	a.mu.Lock()
	i := a.indexLocked(id)
	if i < 0 {
		a.mu.Unlock()
		a.emitError("Instruction not found.")
		return session.SpecialInstruction{}, errors.Wrapf(errors.ErrInstructionNotFound, "id '%s'", id)
	}
	si := &a.state.SpecialInstructions[i]
	if title != nil {
		si.Title = normalizeTitle(*title)
	}
	if content != nil {
		si.Content = *content
	}
	si.UpdatedAt = a.now().UnixMilli()
	out := *si
	a.commitInstructionsLocked(ctx)
	return out, nil
}

// DeleteSpecialInstruction removes id. Deleting the active instruction
// deactivates it. Unknown ids are ignored.
func (a *Agent) DeleteSpecialInstruction(ctx context.Context, id string) {
	a.mu.Lock()
	kept := a.state.SpecialInstructions[:0:0]
	for _, si := range a.state.SpecialInstructions {
		if si.ID != id {
			kept = append(kept, si)
		}
	}
	a.state.SpecialInstructions = kept
	if a.state.ActiveSpecialInstructionID != nil && *a.state.ActiveSpecialInstructionID == id {
		a.state.ActiveSpecialInstructionID = nil
	}
	a.commitInstructionsLocked(ctx)
}

// SetActiveSpecialInstruction activates id, or deactivates when id is nil.
func (a *Agent) SetActiveSpecialInstruction(ctx context.Context, id *string) error {
	a.mu.Lock()
	if id != nil && a.indexLocked(*id) < 0 {
		a.mu.Unlock()
		a.emitError("Instruction not found.")
		return errors.Wrapf(errors.ErrInstructionNotFound, "id '%s'", *id)
	}
	if id != nil {
		v := *id
		id = &v
	}
	a.state.ActiveSpecialInstructionID = id
	a.commitInstructionsLocked(ctx)
	return nil
}

// commitInstructionsLocked persists, releases a.mu and broadcasts the
// instruction list.
func (a *Agent) commitInstructionsLocked(ctx context.Context) {
	a.persistLocked(ctx)
	data := a.instructionDataLocked()
	a.mu.Unlock()
	a.emit(Event{Type: EventSpecialInstructionsUpdated, Data: data})
}

func (a *Agent) instructionDataLocked() EventData {
	d := EventData{
		SpecialInstructions: append([]session.SpecialInstruction{}, a.state.SpecialInstructions...),
	}
	if a.state.ActiveSpecialInstructionID != nil {
		id := *a.state.ActiveSpecialInstructionID
		d.ActiveSpecialInstructionID = &id
	}
	return d
}

func (a *Agent) indexLocked(id string) int {
	for i, si := range a.state.SpecialInstructions {
		if si.ID == id {
			return i
		}
	}
	return -1
}

func (a *Agent) activeContentLocked() string {
	if a.state.ActiveSpecialInstructionID == nil {
		return ""
	}
	if i := a.indexLocked(*a.state.ActiveSpecialInstructionID); i >= 0 {
		return a.state.SpecialInstructions[i].Content
	}
	return ""
}

func normalizeTitle(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return untitled
}
