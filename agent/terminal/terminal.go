package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/m4xw311/codoc/agent"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/proposal"
	"github.com/m4xw311/codoc/session"
)

const helpText = `Commands:
  /accept <id> [start end]   apply a proposal, or only the change at those lines
  /reject <id> [start end]   discard a proposal, or only the change at those lines
  /proposals                 list open proposals
  /si                        list special instructions
  /si create <title> | <text>
  /si use <id>               activate an instruction
  /si off                    deactivate instructions
  /si delete <id>
  /reset                     clear the conversation
  /quit, /exit
Words starting with @ are sent as reference files.`

type Options struct {
	Mode      agent.Mode
	Verbosity agent.ToolVerbosity
	// In and Out default to os.Stdin and os.Stdout.
	In  io.Reader
	Out io.Writer
}

// Terminal handles the terminal/CLI interaction mode for the agent. It also
// shows proposals, so it can be registered as the store's document surface.
type Terminal struct {
	agent     *agent.Agent
	proposals *proposal.Store
	mode      agent.Mode
	verbosity agent.ToolVerbosity
	in        *bufio.Reader

	mu      sync.Mutex
	out     io.Writer
	handles map[string]string
}

// New creates a Terminal and attaches it to the agent's events and tool
// hooks.
func New(a *agent.Agent, proposals *proposal.Store, opts Options) *Terminal {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Mode == "" {
		opts.Mode = agent.ModeAuto
	}
	if opts.Verbosity == "" {
		opts.Verbosity = agent.ToolVerbosityNone
	}
	t := &Terminal{
		agent:     a,
		proposals: proposals,
		mode:      opts.Mode,
		verbosity: opts.Verbosity,
		in:        bufio.NewReader(opts.In),
		out:       opts.Out,
		handles:   make(map[string]string),
	}
	a.Subscribe(t.handleEvent)
	a.SetToolHooks(agent.ToolHooks{
		ShouldExecuteTool: t.confirm,
		OnToolResult:      t.showResult,
	})
	return t
}

func (t *Terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// Run starts the interactive terminal session. It returns nil on EOF or an
// exit command.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.printf("%s ", youStyle.Render("You:"))
		line, readErr := t.in.ReadString('\n')

		if input := strings.TrimSpace(line); input != "" {
			quit, err := t.dispatch(ctx, input)
			if quit {
				return nil
			}
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}

		if readErr == io.EOF {
			t.printf("\n")
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (t *Terminal) dispatch(ctx context.Context, input string) (bool, error) {
	if !strings.HasPrefix(input, "/") {
		return false, t.processTurn(ctx, input)
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		t.printf("%s\n", helpText)
	case "/reset":
		if err := t.agent.Reset(ctx); err != nil {
			t.printError(err)
		}
	case "/proposals":
		t.listProposals()
	case "/accept", "/reject":
		t.resolve(ctx, fields)
	case "/si":
		t.instructions(ctx, strings.TrimSpace(strings.TrimPrefix(input, "/si")))
	default:
		t.printf("Unknown command %s. Type /help for commands.\n", fields[0])
	}
	return false, nil
}

// processTurn handles a single user input turn. Loop failures are reported
// through the agent's error event.
func (t *Terminal) processTurn(ctx context.Context, input string) error {
	text, refs := parseInput(input)
	err := t.agent.SendMessage(ctx, text, refs)
	if errors.Is(err, errors.ErrSessionBusy) {
		t.printf("%s\n", errorStyle.Render("CoDoc is still working on the previous request."))
	}
	return err
}

// parseInput collects @path words as reference files. The text is sent
// unchanged.
func parseInput(input string) (string, []string) {
	var refs []string
	for _, word := range strings.Fields(input) {
		if len(word) > 1 && strings.HasPrefix(word, "@") {
			refs = append(refs, strings.TrimPrefix(word, "@"))
		}
	}
	return input, refs
}

func (t *Terminal) printError(err error) {
	t.printf("%s %v\n", errorStyle.Render("Error:"), err)
}

func (t *Terminal) handleEvent(e agent.Event) {
	switch e.Type {
	case agent.EventMessage:
		for _, m := range e.Data.Messages {
			if a, ok := m.(session.Assistant); ok {
				t.printf("%s %s\n", codocStyle.Render("CoDoc:"), a.Content)
			}
		}
	case agent.EventToolCall:
		for _, m := range e.Data.Messages {
			if call, ok := m.(session.ToolCall); ok {
				t.showCall(call)
			}
		}
	case agent.EventWorking:
		if t.verbosity == agent.ToolVerbosityAll {
			t.printf("%s\n", dimStyle.Render(e.Data.Text))
		}
	case agent.EventError:
		t.printf("%s %s\n", errorStyle.Render("Error:"), e.Data.Text)
	case agent.EventClearState:
		t.printf("%s\n", dimStyle.Render("Conversation cleared."))
	case agent.EventInitialize:
		t.replay(e.Data)
	}
}

func (t *Terminal) replay(data agent.EventData) {
	for _, m := range data.Messages {
		switch m := m.(type) {
		case session.Human:
			t.printf("%s %s\n", youStyle.Render("You:"), m.Content)
		case session.Assistant:
			t.printf("%s %s\n", codocStyle.Render("CoDoc:"), m.Content)
		case session.ToolCall:
			if t.verbosity != agent.ToolVerbosityNone {
				t.printf("%s\n", toolStyle.Render(fmt.Sprintf("Called tool `%s`", m.Name)))
			}
		}
	}
	for _, si := range data.SpecialInstructions {
		if data.ActiveSpecialInstructionID != nil && *data.ActiveSpecialInstructionID == si.ID {
			t.printf("%s\n", dimStyle.Render(fmt.Sprintf("Active instruction: %s (%s)", si.Title, si.ID)))
		}
	}
}

func (t *Terminal) showCall(call session.ToolCall) {
	switch t.verbosity {
	case agent.ToolVerbosityAll:
		t.printf("%s\n", toolStyle.Render(fmt.Sprintf("CoDoc wants to call tool `%s` with args: %v", call.Name, call.Args)))
	case agent.ToolVerbosityInfo:
		t.printf("%s\n", toolStyle.Render(fmt.Sprintf("CoDoc wants to call tool `%s`", call.Name)))
	}
}

func (t *Terminal) showResult(call session.ToolCall, result string) {
	if t.verbosity == agent.ToolVerbosityAll {
		t.printf("%s\n", toolStyle.Render(fmt.Sprintf("Tool `%s` output: %s", call.Name, result)))
	}
}

// confirm asks before every tool call in prompt mode.
func (t *Terminal) confirm(call session.ToolCall) bool {
	if t.mode != agent.ModePrompt {
		return true
	}
	t.printf("Allow tool `%s`? (y/n): ", call.Name)
	answer, _ := t.in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

func (t *Terminal) listProposals() {
	ids := t.proposals.IDs()
	if len(ids) == 0 {
		t.printf("No open proposals.\n")
		return
	}
	for _, id := range ids {
		p, ok := t.proposals.Get(id)
		if !ok {
			continue
		}
		t.printf("%s  %s  lines %s\n", p.ID, p.FilePath, formatRanges(p.ChangedRanges))
	}
}

// resolve handles /accept and /reject. Line numbers are 1-based, as shown.
func (t *Terminal) resolve(ctx context.Context, fields []string) {
	usage := fmt.Sprintf("Usage: %s <proposal-id> [start end]", fields[0])
	if len(fields) != 2 && len(fields) != 4 {
		t.printf("%s\n", usage)
		return
	}
	id := fields[1]

	var r *proposal.LineRange
	if len(fields) == 4 {
		start, err1 := strconv.Atoi(fields[2])
		end, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || start < 1 || end < start {
			t.printf("%s\n", usage)
			return
		}
		r = &proposal.LineRange{Start: start - 1, End: end - 1}
	}

	var msg string
	var err error
	if fields[0] == "/accept" {
		msg, err = t.proposals.Accept(ctx, id, r)
	} else {
		msg, err = t.proposals.Reject(ctx, id, r)
	}
	switch {
	case errors.Is(err, errors.ErrProposalNotFound):
		t.printf("No open proposal %s.\n", id)
	case errors.Is(err, errors.ErrChangeRangeNotFound):
		t.printf("Proposal %s has no change at lines %s.\n", id, formatRanges([]proposal.LineRange{*r}))
	case err != nil:
		t.printError(err)
	default:
		t.printf("%s\n", msg)
	}
}

func (t *Terminal) instructions(ctx context.Context, args string) {
	sub, arg, _ := strings.Cut(args, " ")
	arg = strings.TrimSpace(arg)

	switch sub {
	case "", "list":
		list, active := t.agent.SpecialInstructions()
		if len(list) == 0 {
			t.printf("No special instructions.\n")
			return
		}
		for _, si := range list {
			marker := " "
			if active != nil && *active == si.ID {
				marker = "*"
			}
			t.printf("%s %s  %s\n", marker, si.ID, si.Title)
		}
	case "create":
		title, content, ok := strings.Cut(arg, "|")
		if !ok {
			title, content = "", title
		}
		content = strings.TrimSpace(content)
		if content == "" {
			t.printf("Usage: /si create <title> | <text>\n")
			return
		}
		si := t.agent.CreateSpecialInstruction(ctx, strings.TrimSpace(title), content)
		t.printf("Created instruction %s (%s). It is now active.\n", si.Title, si.ID)
	case "use":
		if err := t.agent.SetActiveSpecialInstruction(ctx, &arg); err == nil {
			t.printf("Active instruction: %s\n", arg)
		}
	case "off":
		if err := t.agent.SetActiveSpecialInstruction(ctx, nil); err == nil {
			t.printf("Special instructions disabled.\n")
		}
	case "delete":
		t.agent.DeleteSpecialInstruction(ctx, arg)
		t.printf("Deleted instruction %s.\n", arg)
	default:
		t.printf("Unknown /si command %q. Type /help for commands.\n", sub)
	}
}

// Open prints the changed lines of a new proposal.
func (t *Terminal) Open(ctx context.Context, doc proposal.Document) error {
	spans := make(map[int][]proposal.Span, len(doc.Highlights))
	for _, h := range doc.Highlights {
		spans[h.Line] = h.Spans
	}
	lines := strings.Split(doc.Content, "\n")

	var b strings.Builder
	b.WriteString(proposalTitleStyle.Render(fmt.Sprintf(" Proposal %s: %s ", doc.ProposalID, doc.FilePath)))
	b.WriteString("\n")
	if doc.Description != "" {
		b.WriteString(dimStyle.Render(doc.Description))
		b.WriteString("\n")
	}
	for _, r := range doc.Ranges {
		for line := r.Start; line <= r.End; line++ {
			var text string
			if line < len(lines) {
				text = lines[line]
			}
			fmt.Fprintf(&b, "%4d %s %s\n", line+1, addedStyle.Render("+"), renderLine(text, spans[line]))
		}
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("Review with /accept %s or /reject %s [start end].", doc.ProposalID, doc.ProposalID)))
	b.WriteString("\n")

	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[doc.Handle] = doc.ProposalID
	_, err := io.WriteString(t.out, b.String())
	return err
}

func (t *Terminal) Highlight(ctx context.Context, handle string, ranges []proposal.LineRange, highlights []proposal.LineHighlight) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.out, "%s\n", dimStyle.Render(fmt.Sprintf("%s: %d change(s) left at lines %s",
		t.handles[handle], len(ranges), formatRanges(ranges))))
	return err
}

func (t *Terminal) Close(ctx context.Context, handle string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.handles[handle]
	delete(t.handles, handle)
	_, err := fmt.Fprintf(t.out, "%s\n", dimStyle.Render(fmt.Sprintf("Proposal %s closed.", id)))
	return err
}

// renderLine emphasizes the differing rune spans of a proposed line.
func renderLine(line string, spans []proposal.Span) string {
	runes := []rune(line)
	changed := addedStyle.Bold(true).Underline(true)

	var b strings.Builder
	pos := 0
	for _, s := range spans {
		start, end := min(max(s.Start, pos), len(runes)), min(s.End, len(runes))
		if start > pos {
			b.WriteString(addedStyle.Render(string(runes[pos:start])))
			pos = start
		}
		if end > start {
			b.WriteString(changed.Render(string(runes[start:end])))
			pos = end
		}
	}
	if pos < len(runes) {
		b.WriteString(addedStyle.Render(string(runes[pos:])))
	}
	return b.String()
}

// formatRanges renders 0-based ranges as 1-based line numbers.
func formatRanges(ranges []proposal.LineRange) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r.Start == r.End {
			parts = append(parts, strconv.Itoa(r.Start+1))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d-%d", r.Start+1, r.End+1))
	}
	return strings.Join(parts, ", ")
}
