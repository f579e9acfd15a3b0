package agent

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/logging"
	"github.com/m4xw311/codoc/oracle"
	"github.com/m4xw311/codoc/session"
)

// ExecutePlanTurn is the human turn appended after the oracle returns a plan.
const ExecutePlanTurn = "Execute the plan"

// LoopState names where the planning loop is.
type LoopState int

const (
	AwaitingOracle LoopState = iota
	ExecutingTool
	Done
	Failed
)

func (s LoopState) String() string {
	switch s {
	case AwaitingOracle:
		return "AwaitingOracle"
	case ExecutingTool:
		return "ExecutingTool"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// Step is the outcome of feeding one oracle response to transition.
type Step struct {
	Next LoopState
	// ExecutePlan is set when the "Execute the plan" turn must be appended.
	ExecutePlan bool
	Err         error
}

// transition decides what follows an oracle response. It is pure.
func transition(resp *oracle.Response) Step {
	if resp == nil {
		return Step{Next: Failed, Err: errors.Wrapf(errors.ErrProtocolViolation, "oracle returned no response")}
	}
	if resp.Mode == oracle.ResponsePlanned {
		return Step{Next: AwaitingOracle, ExecutePlan: true}
	}
	switch resp.Message.(type) {
	case session.Assistant:
		return Step{Next: Done}
	case session.ToolCall:
		return Step{Next: ExecutingTool}
	default:
		return Step{Next: Failed, Err: errors.Wrapf(errors.ErrProtocolViolation, "unexpected oracle message %T", resp.Message)}
	}
}

// limitReached reports whether completed non-terminal passes hit the ceiling.
func limitReached(passes, max int) bool {
	return passes >= max
}

// ToolExecutor runs a named tool. *tools.ToolRegistry satisfies it.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Callbacks let a presentation layer observe and steer a loop. Any field may
// be nil.
type Callbacks struct {
	OnWorking    func()
	OnToolCall   func(call session.ToolCall)
	OnToolResult func(call session.ToolCall, result string)
	OnWarning    func(warning string)
	// ShouldExecuteTool returning false declines the call; the decline is
	// recorded like a tool failure.
	ShouldExecuteTool func(call session.ToolCall) bool
}

// LoopInput is the per-message context forwarded to the oracle.
type LoopInput struct {
	SpecialInstructions string
	ReferenceFiles      []string
}

// Planner drives the oracle/tool loop for one instruction.
type Planner struct {
	oracle        oracle.Oracle
	tools         ToolExecutor
	maxIterations int
	logger        *log.Logger
}

// NewPlanner returns a planner. A non-positive maxIterations uses 10.
func NewPlanner(o oracle.Oracle, tools ToolExecutor, maxIterations int, logger *log.Logger) *Planner {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Planner{oracle: o, tools: tools, maxIterations: maxIterations, logger: logger}
}

// RunPlanningLoop turns the latest instruction in history into new turns.
// It returns every turn appended since entry, also when it fails.
func (p *Planner) RunPlanningLoop(ctx context.Context, history session.Conversation, in LoopInput, cb Callbacks) ([]session.Message, error) {
	conv := history.Clone()
	entry := len(conv)
	produced := func() []session.Message {
		return append([]session.Message(nil), conv[entry:]...)
	}

	mode := oracle.ModeAuto
	passes := 0
	state := AwaitingOracle
	var call session.ToolCall

	for {
		switch state {
		case AwaitingOracle:
			if err := ctx.Err(); err != nil {
				return produced(), err
			}
			if cb.OnWorking != nil {
				cb.OnWorking()
			}
			resp, err := p.oracle.Invoke(ctx, oracle.Request{
				Messages:            conv,
				Mode:                mode,
				SpecialInstructions: in.SpecialInstructions,
				ReferenceFiles:      in.ReferenceFiles,
			})
			if err != nil {
				if !errors.Is(err, errors.ErrOracleTransport) {
					err = errors.Wrapf(errors.ErrOracleTransport, "%v", err)
				}
				return produced(), err
			}
			mode = oracle.ModeExecute
			step := transition(resp)
			if resp == nil {
				return produced(), step.Err
			}
			if resp.Message != nil {
				conv = append(conv, resp.Message)
			}
			p.logger.Debug("oracle response", "mode", resp.Mode, "next", step.Next, "pass", passes+1)
			switch step.Next {
			case Done:
				return produced(), nil
			case Failed:
				return produced(), step.Err
			}
			if step.ExecutePlan {
				conv = append(conv, session.NewHuman(ExecutePlanTurn))
			}
			if step.Next == ExecutingTool {
				call = resp.Message.(session.ToolCall)
				state = ExecutingTool
				continue
			}

		case ExecutingTool:
			conv = append(conv, p.runTool(ctx, call, cb))
			state = AwaitingOracle
		}

		passes++
		if limitReached(passes, p.maxIterations) {
			p.logger.Warn("planning loop hit the iteration limit", "max", p.maxIterations)
			return produced(), errors.Wrapf(errors.ErrIterationLimitExceeded, "max planning iterations (%d) reached", p.maxIterations)
		}
	}
}

// runTool executes call and always yields its result turn.
func (p *Planner) runTool(ctx context.Context, call session.ToolCall, cb Callbacks) session.ToolResult {
	if cb.OnToolCall != nil {
		cb.OnToolCall(call)
	}

	var (
		result string
		err    error
	)
	if cb.ShouldExecuteTool != nil && !cb.ShouldExecuteTool(call) {
		err = errors.Wrapf(errors.ErrToolExecution, "user declined to run %s", call.Name)
	} else {
		result, err = p.tools.Execute(ctx, call.Name, call.Args)
	}

	if err != nil {
		p.logger.Warn("tool failed", "tool", call.Name, "err", err)
		result = "Error executing tool: " + err.Error()
		if cb.OnWarning != nil {
			cb.OnWarning(fmt.Sprintf("Error executing tool %s: %v", call.Name, err))
		}
	}
	if cb.OnToolResult != nil {
		cb.OnToolResult(call, result)
	}
	return session.NewToolResult(call, result)
}
