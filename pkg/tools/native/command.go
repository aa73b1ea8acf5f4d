package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/copilotz/copilotz/pkg/tools"
)

// commandOutputLimit caps captured stdout/stderr per stream.
const commandOutputLimit = 64 << 10

type runCommandArgs struct {
	Command string   `json:"command" jsonschema:"required,description=Executable to run"`
	Args    []string `json:"args,omitempty" jsonschema:"description=Arguments passed to the executable"`
	Stdin   string   `json:"stdin,omitempty" jsonschema:"description=Data piped to the process on stdin"`
}

func newRunCommand(cfg Config) *tools.Tool {
	return &tools.Tool{
		Key:         "run_command",
		Description: "Run an executable in the working directory and capture its output and exit code.",
		InputSchema: mustSchema[runCommandArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[runCommandArgs](args)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(a.Command) == "" {
				return nil, fmt.Errorf("command is required")
			}

			runCtx, cancel := context.WithTimeout(ctx, cfg.CommandTimeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, a.Command, a.Args...)
			cmd.Dir = cfg.WorkingDir
			if a.Stdin != "" {
				cmd.Stdin = strings.NewReader(a.Stdin)
			}
			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()
			if runCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("command %s timed out after %s", a.Command, cfg.CommandTimeout)
			}

			exitCode := 0
			if runErr != nil {
				var exitErr *exec.ExitError
				if errors.As(runErr, &exitErr) {
					exitCode = exitErr.ExitCode()
				} else {
					return nil, fmt.Errorf("run %s: %w", a.Command, runErr)
				}
			}
			return map[string]any{
				"exitCode": exitCode,
				"stdout":   truncateOutput(stdout.String()),
				"stderr":   truncateOutput(stderr.String()),
			}, nil
		},
	}
}

func truncateOutput(s string) string {
	if len(s) <= commandOutputLimit {
		return s
	}
	return s[:commandOutputLimit] + "\n[output truncated]"
}
