package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/shieldserve/internal/detector"
	"github.com/loykin/shieldserve/internal/history"
	"github.com/loykin/shieldserve/internal/process"
	"github.com/loykin/shieldserve/internal/registry"
)

// HistoryReader is implemented by sinks that can list past events.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// ProcessStatus is the observed state of one recorded process.
type ProcessStatus struct {
	Role      process.Role
	PID       int
	Alive     bool
	StartedAt time.Time
}

// Report is a read-only snapshot of the session.
type Report struct {
	State     registry.State
	SessionID string
	StartedAt time.Time
	Processes []ProcessStatus
	Events    []history.Event
	DataDir   string
}

// Running reports whether both supervised processes are alive.
func (r Report) Running() bool {
	n := 0
	for _, p := range r.Processes {
		if p.Role != process.RoleMonitor && p.Alive {
			n++
		}
	}
	return r.State == registry.Active && n == 2
}

// Status inspects the session without changing it. It takes no lock.
func (c *Controller) Status(ctx context.Context, eventLimit int) (Report, error) {
	rep := Report{State: c.store.State(), DataDir: c.dataDir}

	m, merr := c.store.ReadManifest()
	if merr == nil {
		rep.SessionID = m.SessionID
		rep.StartedAt = m.StartedAt
	}

	rec, err := c.store.Read()
	switch {
	case err == nil:
		for _, role := range []process.Role{process.RoleService, process.RoleProxy, process.RoleMonitor} {
			pid := rec.PID(role)
			st := detector.Owned(c.probe(pid), pid, m.StartOf(role), c.start)
			ps := ProcessStatus{Role: role, PID: pid, Alive: st.IsAlive()}
			if ps.Alive {
				ps.StartedAt = detector.StartTime(pid)
			}
			rep.Processes = append(rep.Processes, ps)
		}
	case !errors.Is(err, registry.ErrNoRecord):
		return rep, err
	}

	if hr, ok := c.opts.History.(HistoryReader); ok && eventLimit > 0 {
		events, err := hr.Recent(ctx, eventLimit)
		if err != nil {
			c.log.Debug("read history", slog.Any("error", err))
		}
		rep.Events = events
	}
	return rep, nil
}
