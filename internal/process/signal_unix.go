//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loykin/shieldserve/internal/detector"
)

// ErrStillRunning is returned by Terminate when a process survives SIGKILL.
var ErrStillRunning = errors.New("process still running after kill")

// ErrRefused is returned for PIDs that are never signalled, such as init.
var ErrRefused = errors.New("refusing to signal pid")

const (
	exitPollInterval = 50 * time.Millisecond
	killWait         = 2 * time.Second
)

// Signal delivers sig to the process group led by pid, or to pid alone when
// it does not lead its group. A process that no longer exists is not an error.
func Signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	if pid == 1 {
		return fmt.Errorf("%w %d", ErrRefused, pid)
	}
	target := pid
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		target = -pid
	}
	err := unix.Kill(target, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %v to pid %d: %w", sig, pid, err)
}

// Terminate sends SIGTERM to pid and waits up to grace for it to exit, then
// escalates to SIGKILL. Missing processes are not an error.
func Terminate(ctx context.Context, pid int, grace time.Duration) error {
	if pid <= 0 || !detector.Probe(pid).IsAlive() {
		return nil
	}
	if err := Signal(pid, unix.SIGTERM); err != nil {
		return err
	}
	if waitExit(ctx, pid, grace) {
		return nil
	}
	if err := Signal(pid, unix.SIGKILL); err != nil {
		return err
	}
	if waitExit(ctx, pid, killWait) {
		return nil
	}
	return fmt.Errorf("%w: pid %d", ErrStillRunning, pid)
}

// waitExit polls until pid is no longer alive or d elapses.
func waitExit(ctx context.Context, pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !detector.Probe(pid).IsAlive() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !detector.Probe(pid).IsAlive()
		case <-time.After(exitPollInterval):
		}
	}
}
