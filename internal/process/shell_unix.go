//go:build !windows

package process

import (
	"context"
	"os/exec"
)

// ShellCommand returns a /bin/sh invocation of script.
func ShellCommand(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "/bin/sh", "-c", script)
}
