// Package shell is a built-in capability that runs a local command.
// Register it as "shell.run".
package shell

import (
	"context"
	"fmt"
	"os/exec"
)

// Run executes args[0] with the remaining args as argv and returns the
// combined output. A non-zero exit fails the task with the output
// attached.
func Run(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	command, ok := args[0].(string)
	if !ok || command == "" {
		return nil, fmt.Errorf("command must be a non-empty string")
	}
	argv := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		argv = append(argv, fmt.Sprint(a))
	}
	cmd := exec.CommandContext(ctx, command, argv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	return string(out), nil
}
