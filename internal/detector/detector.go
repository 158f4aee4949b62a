package detector

import "fmt"

// State is the outcome of a single liveness probe.
type State int

const (
	// Dead means the PID is not in the process table, or it is a zombie
	// owned by some other parent.
	Dead State = iota
	// Alive means the PID is signalable and not in the zombie state.
	Alive
	// ZombieReaped means the PID was our own exited child; its exit status
	// has been consumed by the probe. It counts as dead.
	ZombieReaped
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	case ZombieReaped:
		return "zombie-reaped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsAlive reports whether s counts as a live process.
func (s State) IsAlive() bool { return s == Alive }

// ProbeFunc is the signature of Probe, so callers can substitute it in tests.
type ProbeFunc func(pid int) State

// StartFunc is the signature of StartUnix.
type StartFunc func(pid int) int64

// startSlack absorbs the one-second jitter in the kernel's boot time.
const startSlack = 1

// Owned narrows an Alive state to Dead when pid no longer belongs to the
// process started at want (Unix seconds). A live PID without a recorded start
// time is not trusted. When the current start time of pid cannot be read, s
// is returned unchanged.
func Owned(s State, pid int, want int64, start StartFunc) State {
	if !s.IsAlive() {
		return s
	}
	cur := start(pid)
	if cur <= 0 {
		return s
	}
	if want <= 0 || cur-want > startSlack || want-cur > startSlack {
		return Dead
	}
	return s
}

// Detector is a strategy that determines if a process is running.
// It must be safe for concurrent use.
type Detector interface {
	// Probe returns the current liveness state.
	Probe() State
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Probe() State     { return Probe(d.PID) }
func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
