//go:build !windows

package detector

import (
	"bytes"
	"errors"
	"os"
	"runtime"
	"slices"
	"strconv"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// Probe reports whether pid is a live, non-zombie process.
//
// If pid is an exited child of the calling process its exit status is
// collected with wait4(WNOHANG) so the process table slot is released, and
// ZombieReaped is returned. Zombies owned by other parents cannot be reaped
// from here and are reported as Dead.
func Probe(pid int) State {
	if pid <= 0 {
		return Dead
	}
	switch reap(pid) {
	case reapedChild:
		return ZombieReaped
	case runningChild:
		return Alive
	}
	if !signalable(pid) {
		return Dead
	}
	if isZombie(pid) {
		return Dead
	}
	return Alive
}

type reapResult int

const (
	notChild reapResult = iota
	runningChild
	reapedChild
)

func reap(pid int) reapResult {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			// ECHILD: pid is not our child.
			return notChild
		}
		if wpid == pid {
			return reapedChild
		}
		return runningChild
	}
}

// signalable returns true if a process with given pid exists (or EPERM).
func signalable(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func isZombie(pid int) bool {
	if runtime.GOOS == "linux" {
		return isZombieLinux(pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return false
	}
	return slices.Contains(st, gopsproc.Zombie)
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z).
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
