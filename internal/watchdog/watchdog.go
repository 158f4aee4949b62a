// Package watchdog keeps the Service and the Proxy of an active session
// running. It polls the registry record on a fixed interval, relaunches any
// supervised process that died and exits once the stop sentinel appears or
// the record is gone.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/shieldserve/internal/detector"
	"github.com/loykin/shieldserve/internal/history"
	"github.com/loykin/shieldserve/internal/logger"
	"github.com/loykin/shieldserve/internal/metrics"
	"github.com/loykin/shieldserve/internal/process"
	"github.com/loykin/shieldserve/internal/registry"
)

// DefaultInterval is the poll period when Config.Interval is unset.
const DefaultInterval = 5 * time.Second

// Supervised roles, in relaunch order.
var roles = []process.Role{process.RoleService, process.RoleProxy}

// Launcher starts one process and returns its PID.
type Launcher interface {
	Launch(spec process.Spec) (int, error)
}

// Config carries the optional collaborators of a Watchdog.
type Config struct {
	Interval  time.Duration
	Logger    *slog.Logger
	Metrics   *metrics.Recorder // nil records nothing
	History   []history.Sink
	Probe     detector.ProbeFunc // defaults to detector.Probe
	StartTime detector.StartFunc // defaults to detector.StartUnix
	// SelfPID, when non-zero, makes the watchdog exit if the record names a
	// different monitor, which happens when a newer session replaced it.
	SelfPID int
}

// Watchdog supervises one session.
type Watchdog struct {
	store    *registry.Store
	manifest registry.Manifest
	launcher Launcher

	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Recorder
	sinks    []history.Sink
	probe    detector.ProbeFunc
	start    detector.StartFunc
	self     int
}

// TickResult reports what one poll cycle did.
type TickResult struct {
	Stopped    bool           // the loop must exit
	Reason     string         // why it stopped
	Relaunched []process.Role // roles relaunched in this tick
	Err        error          // non-fatal error, logged
}

func New(store *registry.Store, manifest registry.Manifest, l Launcher, cfg Config) *Watchdog {
	w := &Watchdog{
		store:    store,
		manifest: manifest,
		launcher: l,
		interval: cfg.Interval,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		sinks:    append([]history.Sink(nil), cfg.History...),
		probe:    cfg.Probe,
		start:    cfg.StartTime,
		self:     cfg.SelfPID,
	}
	if w.interval <= 0 {
		w.interval = DefaultInterval
	}
	if w.log == nil {
		w.log = logger.Discard()
	}
	if w.probe == nil {
		w.probe = detector.Probe
	}
	if w.start == nil {
		w.start = detector.StartUnix
	}
	return w
}

// Run polls until the session ends or ctx is cancelled. Sleeping between
// ticks is the only place it blocks.
func (w *Watchdog) Run(ctx context.Context) error {
	w.log.Info("watchdog started",
		slog.String("session", w.manifest.SessionID),
		slog.Duration("interval", w.interval))

	t := time.NewTimer(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.exit(ctx, "context cancelled")
			return nil
		case <-t.C:
		}

		res := w.Tick(ctx)
		if res.Err != nil {
			w.log.Error("tick failed", slog.Any("error", res.Err))
		}
		if res.Stopped {
			w.exit(ctx, res.Reason)
			return nil
		}
		t.Reset(w.interval)
	}
}

// Tick runs one check-relaunch-write cycle under the session lock.
func (w *Watchdog) Tick(ctx context.Context) (res TickResult) {
	lock, err := w.store.Lock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return TickResult{Stopped: true, Reason: "context cancelled"}
		}
		return TickResult{Err: fmt.Errorf("acquire session lock: %w", err)}
	}
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic in tick: %v", r)
		}
	}()
	defer w.metrics.Tick()

	if w.store.StopRequested() {
		return TickResult{Stopped: true, Reason: "stop requested"}
	}
	rec, err := w.store.Read()
	switch {
	case errors.Is(err, registry.ErrNoRecord):
		return TickResult{Stopped: true, Reason: "registry record removed"}
	case errors.Is(err, registry.ErrInvalidRecord):
		return TickResult{Stopped: true, Reason: "registry record corrupt", Err: err}
	case err != nil:
		// Possibly transient; retried next tick.
		return TickResult{Err: fmt.Errorf("read registry record: %w", err)}
	}
	if w.self != 0 && rec.MonitorPID != w.self {
		return TickResult{Stopped: true, Reason: fmt.Sprintf("superseded by monitor %d", rec.MonitorPID)}
	}
	if m, err := w.store.ReadManifest(); err == nil && m.SessionID == w.manifest.SessionID {
		w.manifest = m
	}

	dirty := false
	for _, role := range roles {
		pid := rec.PID(role)
		probed := w.probe(pid)
		state := detector.Owned(probed, pid, w.manifest.StartOf(role), w.start)
		w.metrics.Observe(string(role), pid, state.IsAlive())
		if state.IsAlive() {
			continue
		}
		if probed.IsAlive() {
			w.log.Warn("recorded pid belongs to another process",
				slog.String("role", string(role)),
				slog.Int("pid", pid))
		} else {
			w.log.Warn("process not running",
				slog.String("role", string(role)),
				slog.Int("pid", pid),
				slog.String("state", state.String()))
		}

		// The sentinel may have appeared since the top of the tick.
		if w.store.StopRequested() {
			res.Stopped, res.Reason = true, "stop requested"
			break
		}
		newPID, err := w.relaunch(ctx, role)
		if err != nil {
			continue
		}
		rec = rec.WithPID(role, newPID)
		w.manifest.SetStart(role, w.start(newPID))
		dirty = true
		res.Relaunched = append(res.Relaunched, role)
	}

	if dirty {
		if err := w.store.WriteManifest(w.manifest); err != nil {
			w.log.Warn("write session manifest", slog.Any("error", err))
		}
		if err := w.store.Write(rec); err != nil {
			res.Err = fmt.Errorf("write registry record: %w", err)
		}
	}
	if err := w.metrics.Flush(); err != nil {
		w.log.Debug("flush metrics", slog.Any("error", err))
	}
	return res
}

func (w *Watchdog) relaunch(ctx context.Context, role process.Role) (int, error) {
	spec, ok := w.manifest.Spec(role)
	if !ok {
		err := fmt.Errorf("no launch spec for %s", role)
		w.log.Error("relaunch impossible", slog.String("role", string(role)), slog.Any("error", err))
		w.metrics.RelaunchFailed(string(role))
		return 0, err
	}
	pid, err := w.launcher.Launch(spec)
	if err != nil {
		w.log.Error("relaunch failed", slog.String("role", string(role)), slog.Any("error", err))
		w.metrics.RelaunchFailed(string(role))
		w.emit(ctx, history.Event{Type: history.EventRelaunchFailed, Role: string(role), Detail: err.Error()})
		return 0, err
	}
	w.log.Info("relaunched", slog.String("role", string(role)), slog.Int("pid", pid))
	w.metrics.Relaunched(string(role))
	w.emit(ctx, history.Event{Type: history.EventRelaunch, Role: string(role), PID: pid})
	return pid, nil
}

func (w *Watchdog) exit(ctx context.Context, reason string) {
	w.log.Info("watchdog exiting", slog.String("reason", reason))
	w.emit(context.WithoutCancel(ctx), history.Event{Type: history.EventWatchdogExit, PID: w.self, Detail: reason})
}

func (w *Watchdog) emit(ctx context.Context, e history.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	e.SessionID = w.manifest.SessionID
	for _, s := range w.sinks {
		if err := s.Send(ctx, e); err != nil {
			w.log.Debug("history send", slog.Any("error", err))
		}
	}
}
