// Package agent runs conversations for CoDoc.
//
// It has two parts. The Planner drives a single instruction through the
// planning oracle: it asks the oracle for the next turn, runs any requested
// tool through the registry, and stops on an assistant answer, a failure or
// the iteration ceiling. The Agent is the session façade on top of it: it
// owns the conversation and the special instructions, persists them through
// a session.Store and reports progress as Events.
//
// # Planning loop
//
// The loop is an explicit state machine:
//
//	AwaitingOracle --assistant--> Done
//	AwaitingOracle --tool_call--> ExecutingTool --> AwaitingOracle
//	AwaitingOracle --planned----> AwaitingOracle (after "Execute the plan")
//	AwaitingOracle --other------> Failed (ErrProtocolViolation)
//
// The first oracle request uses the auto mode and every later one execute, so
// a loop plans at most once. Tool failures are written back into the
// conversation as "Error executing tool: ..." results and the loop goes on.
// Oracle failures end the loop immediately. Every turn produced before a
// failure is still returned.
//
// # Usage
//
//	planner := agent.NewPlanner(oracle, registry, cfg.MaxIterations(), logger)
//	a, err := agent.New(ctx, agent.Options{
//	    Planner:     planner,
//	    Store:       store,
//	    SessionName: "default",
//	    Logger:      logger,
//	})
//	if err != nil {
//	    // handle error
//	}
//	a.Subscribe(func(e agent.Event) {
//	    // render e
//	})
//	err = a.SendMessage(ctx, "Summarise notes.md", nil)
//
// # Modes
//
//   - ModeAuto: tools run without confirmation
//   - ModePrompt: the presentation layer confirms each call through ToolHooks
//
// # Subpackages
//
// agent/terminal is the interactive command line. agent/acp serves the same
// façade as JSON-RPC over stdio for editor integrations. Both also act as
// the document surface that shows proposals for review.
package agent
