package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/loykin/shieldserve/internal/process"
)

// ErrInvalidRecord is returned when the PID file cannot be parsed.
var ErrInvalidRecord = errors.New("invalid registry record")

// Record holds the three process identifiers of an active session.
type Record struct {
	ServicePID int
	ProxyPID   int
	MonitorPID int
}

// String renders the on-disk form: "servicePid proxyPid monitorPid".
func (r Record) String() string {
	return fmt.Sprintf("%d %d %d", r.ServicePID, r.ProxyPID, r.MonitorPID)
}

// PID returns the identifier recorded for role.
func (r Record) PID(role process.Role) int {
	switch role {
	case process.RoleService:
		return r.ServicePID
	case process.RoleProxy:
		return r.ProxyPID
	case process.RoleMonitor:
		return r.MonitorPID
	}
	return 0
}

// WithPID returns a copy of r with role's identifier replaced.
func (r Record) WithPID(role process.Role, pid int) Record {
	switch role {
	case process.RoleService:
		r.ServicePID = pid
	case process.RoleProxy:
		r.ProxyPID = pid
	case process.RoleMonitor:
		r.MonitorPID = pid
	}
	return r
}

// ParseRecord parses the single-line form written by Record.String.
func ParseRecord(s string) (Record, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Record{}, fmt.Errorf("%w: want 3 fields, got %d", ErrInvalidRecord, len(fields))
	}
	var pids [3]int
	for i, f := range fields {
		pid, err := strconv.Atoi(f)
		if err != nil || pid <= 0 {
			return Record{}, fmt.Errorf("%w: bad pid %q", ErrInvalidRecord, f)
		}
		pids[i] = pid
	}
	return Record{ServicePID: pids[0], ProxyPID: pids[1], MonitorPID: pids[2]}, nil
}
