package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrEmptyCommand is returned when a Spec has no executable.
var ErrEmptyCommand = errors.New("process: empty command")

// Launcher starts processes detached from the caller, with stdout and stderr
// appended to a shared log file.
type Launcher struct {
	LogPath string // append-only sink; /dev/null when empty
}

func NewLauncher(logPath string) *Launcher { return &Launcher{LogPath: logPath} }

// Launch starts spec in its own session and returns its PID without waiting
// for the process to become ready. Only failure to start is an error; what
// the command does afterwards is not observed here.
func (l *Launcher) Launch(spec Spec) (int, error) {
	if spec.Path == "" {
		return 0, ErrEmptyCommand
	}
	sink, err := l.openSink()
	if err != nil {
		return 0, err
	}
	// The child holds its own descriptor after Start.
	defer func() { _ = sink.Close() }()

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stdin.Close() }()

	cmd := spec.BuildCommand()
	cmd.Stdin = stdin
	cmd.Stdout = sink
	cmd.Stderr = sink
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", spec.Role, err)
	}
	pid := cmd.Process.Pid
	// Nobody waits on the handle; exit status is consumed by the liveness probe.
	_ = cmd.Process.Release()
	return pid, nil
}

func (l *Launcher) openSink() (*os.File, error) {
	if l.LogPath == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(l.LogPath), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	// #nosec G304
	f, err := os.OpenFile(l.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
