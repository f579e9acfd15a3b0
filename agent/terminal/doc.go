// Package terminal implements the command-line interface (CLI) mode for CoDoc.
//
// A Terminal reads instructions line by line, sends them through the agent's
// planning loop and prints the agent's events as they arrive. It is also a
// proposal.Surface: register it with the proposal store and every proposed
// edit is printed with its changed lines, ready for /accept or /reject.
//
// # Usage
//
//	term := terminal.New(a, proposals, terminal.Options{
//	    Mode:      agent.ModePrompt,
//	    Verbosity: agent.ToolVerbosityInfo,
//	})
//	if err := proposals.RegisterSurface(term); err != nil {
//	    // handle error
//	}
//	err = term.Run(ctx, initialPrompt)
//
// Type /help in a session for the list of commands.
//
// # Modes
//
//   - Auto mode: tools are executed without confirmation
//   - Prompt mode: the user confirms each tool call
//
// # Verbosity Levels
//
//   - None: no tool execution information is displayed
//   - Info: tool names are displayed when called
//   - All: tool names, arguments, results and progress are displayed
package terminal
