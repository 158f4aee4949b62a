package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/shieldserve/internal/process"
)

// ErrNotFound is wrapped when a binary is neither on PATH nor installable.
var ErrNotFound = errors.New("binary not found")

// ErrAuthFailed is wrapped when the auth command exits non-zero.
var ErrAuthFailed = errors.New("authentication check failed")

const (
	installTimeout = 10 * time.Minute
	authTimeout    = 2 * time.Minute
)

// ProvisionError is a provisioning failure the user has to fix. Hint says how.
type ProvisionError struct {
	What string
	Hint string
	Err  error
}

func (e *ProvisionError) Error() string {
	msg := e.What
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Binary is an external executable the session needs.
type Binary struct {
	Name    string // role label for messages
	Bin     string // name on PATH or absolute path
	Install string // optional shell command that installs Bin
}

// Resolve returns the absolute path of b. When Bin cannot be found and an
// install command is configured, the command is run once and the lookup is
// retried.
func (b Binary) Resolve(ctx context.Context) (string, error) {
	if path, err := exec.LookPath(b.Bin); err == nil {
		return path, nil
	}
	if strings.TrimSpace(b.Install) == "" {
		return "", &ProvisionError{
			What: fmt.Sprintf("%s binary %q", b.Name, b.Bin),
			Hint: fmt.Sprintf("install %s or set %s.bin / %s.install in the config", b.Bin, b.Name, b.Name),
			Err:  ErrNotFound,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()
	if out, err := run(ctx, b.Install); err != nil {
		return "", &ProvisionError{
			What: fmt.Sprintf("install %s", b.Name),
			Hint: "install command output:\n" + out,
			Err:  err,
		}
	}
	path, err := exec.LookPath(b.Bin)
	if err != nil {
		return "", &ProvisionError{
			What: fmt.Sprintf("%s binary %q", b.Name, b.Bin),
			Hint: "the install command succeeded but the binary is still not on PATH",
			Err:  ErrNotFound,
		}
	}
	return path, nil
}

// CheckAuth runs the configured auth command. An empty command passes.
func CheckAuth(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	if out, err := run(ctx, command); err != nil {
		return &ProvisionError{
			What: "auth check",
			Hint: "log in and retry, or pass --skip-auth\n" + out,
			Err:  fmt.Errorf("%w: %v", ErrAuthFailed, err),
		}
	}
	return nil
}

func run(ctx context.Context, script string) (string, error) {
	cmd := process.ShellCommand(ctx, script)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return strings.TrimSpace(buf.String()), err
}
