package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/soyeahso/callpilot/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// RegisterCommands wires the shell hooks from config. Each command runs
// through the platform shell with the JSON payload on stdin and the event
// name in CALLPILOT_EVENT.
func (m *Manager) RegisterCommands(cfg config.HooksConfig) {
	for event, entries := range map[string][]config.HookEntry{
		EventAppointmentBooked:      cfg.AppointmentBooked,
		EventAppointmentRescheduled: cfg.AppointmentRescheduled,
		EventAppointmentCancelled:   cfg.AppointmentCancelled,
		EventGatewayStart:           cfg.GatewayStart,
		EventGatewayStop:            cfg.GatewayStop,
	} {
		for i, e := range entries {
			if e.Command == "" {
				continue
			}
			name := fmt.Sprintf("command.%s.%d", event, i)
			m.On(event, name, CommandHandler(e))
		}
	}
}

// CommandHandler returns a Handler that runs the entry's command.
func CommandHandler(e config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if e.Timeout > 0 {
		timeout = time.Duration(e.Timeout) * time.Millisecond
	}
	return func(ctx context.Context, p Payload) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding hook payload: %w", err)
		}

		cmd := shellCommand(ctx, e.Command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(os.Environ(), "CALLPILOT_EVENT="+p.Event)
		cmd.WaitDelay = time.Second

		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return fmt.Errorf("hook %q exited %d: %s", e.Command, exitErr.ExitCode(), stderr.String())
			}
			return fmt.Errorf("hook %q: %w", e.Command, err)
		}
		return nil
	}
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}
