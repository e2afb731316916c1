package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/types"
)

// ScriptTransform runs an external process once per event. The event is
// written to stdin as JSON; routing context rides in the environment.
//
// Exit code convention: 0 with output parses stdout as the successor event,
// 0 with empty stdout drops, 1 drops, 2 or higher is a transform error. A
// process killed at the timeout is a transform error.
type ScriptTransform struct {
	command string
	args    []string
	dir     string
}

// Init reads command, args and dir from config. command is required.
func (t *ScriptTransform) Init(config map[string]any) error {
	cmd, _ := config["command"].(string)
	if cmd == "" {
		return fmt.Errorf("script transform requires a command")
	}
	t.command = cmd

	if raw, ok := config["args"].([]any); ok {
		for _, a := range raw {
			t.args = append(t.args, fmt.Sprint(a))
		}
	}
	if dir, ok := config["dir"].(string); ok {
		t.dir = dir
	}
	return nil
}

// Execute runs the process and interprets its exit status
func (t *ScriptTransform) Execute(ctx context.Context, event *types.Event, tc connector.TransformContext) (*types.Event, error) {
	input, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Dir = t.dir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(),
		"SOURCE="+tc.Source,
		"TARGET="+tc.Target,
		"EVENT_TYPE="+string(tc.EventType),
		"EVENT_ID="+event.ID,
		"ROUTE="+tc.RouteName,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("script %s killed at timeout", t.command)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if exitErr.ExitCode() == 1 {
				return nil, nil // drop
			}
			return nil, fmt.Errorf("script %s exited %d: %s", t.command, exitErr.ExitCode(), excerpt(stderr.String()))
		}
		return nil, fmt.Errorf("script %s failed to run: %w", t.command, runErr)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, nil // drop
	}

	var successor types.Event
	if err := json.Unmarshal([]byte(out), &successor); err != nil {
		return nil, fmt.Errorf("script %s produced invalid event JSON: %w", t.command, err)
	}
	successor.Normalize()
	return &successor, nil
}

// Shutdown is a no-op; each invocation owns its process
func (t *ScriptTransform) Shutdown() error {
	return nil
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
