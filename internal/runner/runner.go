// Package runner executes the caller-supplied command with the toolchain
// environment applied.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// Run executes args as a command with the given environment overlay, wiring
// the command to this process's stdio. A nil or empty args slice is a no-op.
func Run(ctx context.Context, args, env []string) error {
	if len(args) == 0 {
		return nil
	}

	log.Info("running command", "cmd", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", args[0], err)
	}
	return nil
}
