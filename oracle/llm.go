package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/llm"
	"github.com/m4xw311/codoc/session"
	"github.com/m4xw311/codoc/tools"
)

// PlanPrefix marks an assistant reply as a plan rather than an answer.
const PlanPrefix = "PLAN:"

const basePrompt = `You are CoDoc, an assistant embedded in the user's editor. You help the user
read, write and reorganise the documents in their workspace using the tools
you are given.

Never overwrite an existing file directly. To change a file, read it first and
call propose_file_change with its full original and proposed content; the user
reviews every change before it reaches disk.`

const planPrompt = `Before acting, write a short numbered plan of the steps you will take and
start your reply with "` + PlanPrefix + `". Do not call tools in this reply.`

const autoPrompt = `If the request needs several tool calls, first reply with a short numbered
plan starting with "` + PlanPrefix + `" and do not call tools in that reply.
Otherwise act directly or answer.`

const executePrompt = `Carry out the task now. Call tools as needed and answer the user when done.`

// LLMOracle plans in-process with an LLM provider.
type LLMOracle struct {
	client llm.LLMClient
	tools  []tools.Tool
}

// NewLLMOracle returns an oracle that offers available to client.
func NewLLMOracle(client llm.LLMClient, available []tools.Tool) *LLMOracle {
	return &LLMOracle{client: client, tools: available}
}

func (o *LLMOracle) Invoke(ctx context.Context, req Request) (*Response, error) {
	offered := o.tools
	if req.Mode == ModePlan {
		offered = nil
	}
	msg, err := o.client.Chat(ctx, systemPrompt(req), req.Messages, offered)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "%v", err)
	}

	mode := ResponseExecuted
	if a, ok := msg.(session.Assistant); ok {
		planned := strings.HasPrefix(strings.TrimSpace(a.Content), PlanPrefix)
		if req.Mode == ModePlan || (req.Mode == ModeAuto && planned) {
			mode = ResponsePlanned
		}
	}
	return &Response{Message: msg, Mode: mode}, nil
}

func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	switch req.Mode {
	case ModePlan:
		b.WriteString(planPrompt)
	case ModeAuto:
		b.WriteString(autoPrompt)
	default:
		b.WriteString(executePrompt)
	}
	if s := strings.TrimSpace(req.SpecialInstructions); s != "" {
		fmt.Fprintf(&b, "\n\nFollow these instructions from the user:\n%s", s)
	}
	if len(req.ReferenceFiles) > 0 {
		b.WriteString("\n\nThe user referenced these files:\n")
		for _, f := range req.ReferenceFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
