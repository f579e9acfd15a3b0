package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/m4xw311/codoc/errors"
)

// ExecuteCommandTool runs allow-listed commands in the first workspace folder.
type ExecuteCommandTool struct {
	allowedCommands []string
	dir             string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }
func (t *ExecuteCommandTool) Description() string {
	var b strings.Builder
	b.WriteString("Executes a command in the workspace. Args: command (string).\nAllowed command patterns:\n")
	for _, cmd := range t.allowedCommands {
		fmt.Fprintf(&b, "- %s\n", cmd)
	}
	return b.String()
}
func (t *ExecuteCommandTool) Parameters() []Parameter {
	return []Parameter{{Name: "command", Type: "string", Description: "Command line to run.", Required: true}}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	v, err := requireString("execute_command", args, "command")
	if err != nil {
		return "", err
	}
	command := v[0]
	if !isCommandAllowed(command, t.allowedCommands) {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = t.dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}
	return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
}
