// Package lifecycle implements session start, stop and status on top of the
// registry. Only the controller creates or deletes the registry record and
// only it writes the stop sentinel.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/shieldserve/internal/credential"
	"github.com/loykin/shieldserve/internal/detector"
	"github.com/loykin/shieldserve/internal/history"
	"github.com/loykin/shieldserve/internal/logger"
	"github.com/loykin/shieldserve/internal/process"
	"github.com/loykin/shieldserve/internal/proxyconf"
	"github.com/loykin/shieldserve/internal/registry"
)

// Status is the outcome of a controller operation.
type Status int

const (
	Started Status = iota
	AlreadyRunning
	Stopped
	NotRunning
)

func (s Status) String() string {
	switch s {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already running"
	case Stopped:
		return "stopped"
	case NotRunning:
		return "not running"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result describes the session after Start or Stop.
type Result struct {
	Status    Status
	Record    registry.Record
	Password  string
	SessionID string
	DataDir   string
}

// Launcher starts one process and returns its PID.
type Launcher interface {
	Launch(spec process.Spec) (int, error)
}

// Options tunes a Controller.
type Options struct {
	SettleDelay time.Duration
	StopTimeout time.Duration
	Interval    time.Duration
	Logger      *slog.Logger
	History     history.Sink // nil disables history
	Probe       detector.ProbeFunc
	StartTime   detector.StartFunc                                            // defaults to detector.StartUnix
	Terminate   func(ctx context.Context, pid int, grace time.Duration) error // defaults to process.Terminate
}

// Controller drives one data directory.
type Controller struct {
	dataDir  string
	store    *registry.Store
	prov     Provisioner
	launcher Launcher
	opts     Options
	log      *slog.Logger
	probe    detector.ProbeFunc
	start    detector.StartFunc
}

func New(dataDir string, prov Provisioner, launcher Launcher, opts Options) *Controller {
	c := &Controller{
		dataDir:  dataDir,
		store:    registry.New(dataDir),
		prov:     prov,
		launcher: launcher,
		opts:     opts,
		log:      opts.Logger,
		probe:    opts.Probe,
		start:    opts.StartTime,
	}
	if c.log == nil {
		c.log = logger.Discard()
	}
	if c.probe == nil {
		c.probe = detector.Probe
	}
	if c.start == nil {
		c.start = detector.StartUnix
	}
	if c.opts.Terminate == nil {
		c.opts.Terminate = process.Terminate
	}
	if c.opts.History == nil {
		c.opts.History = history.Nop{}
	}
	return c
}

func (c *Controller) Store() *registry.Store { return c.store }

// Start brings the session up unless it is already running. The session lock
// is held throughout, so the watchdog's first tick sees the final record.
func (c *Controller) Start(ctx context.Context) (Result, error) {
	lock, err := c.store.Lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer lock.Unlock()

	res := Result{DataDir: c.dataDir}
	rec, recErr := c.store.Read()
	prev, _ := c.store.ReadManifest()
	if recErr == nil && !c.store.StopRequested() &&
		c.ours(prev, process.RoleService, rec.ServicePID) && c.ours(prev, process.RoleProxy, rec.ProxyPID) {
		return c.alreadyRunning(ctx, rec, prev)
	}

	if recErr == nil {
		c.log.Info("cleaning up stale session", slog.String("record", rec.String()))
		_ = c.terminateAll(ctx, rec, prev)
	} else if !errors.Is(recErr, registry.ErrNoRecord) {
		c.log.Warn("discarding unreadable registry record", slog.Any("error", recErr))
	}
	if err := c.store.Remove(); err != nil {
		return res, fmt.Errorf("remove stale record: %w", err)
	}
	if err := c.store.ClearStop(); err != nil {
		return res, fmt.Errorf("clear stop sentinel: %w", err)
	}

	password, err := credential.Ensure(c.dataDir)
	if err != nil {
		return res, fmt.Errorf("credential: %w", err)
	}
	res.Password = password

	plan, err := c.prov.Provision(ctx, Env{DataDir: c.dataDir, Password: password})
	if err != nil {
		return res, err
	}

	svcPID, err := c.launcher.Launch(plan.Service)
	if err != nil {
		return res, fmt.Errorf("launch service: %w", err)
	}
	c.log.Debug("service launched", slog.Int("pid", svcPID), slog.String("cmd", plan.Service.String()))
	if settle(ctx, plan.ServiceAddr, c.opts.SettleDelay) {
		c.log.Debug("service accepting connections", slog.String("addr", plan.ServiceAddr))
	}

	proxyPID, err := c.launcher.Launch(plan.Proxy)
	if err != nil {
		c.abort(ctx, svcPID)
		return res, fmt.Errorf("launch proxy: %w", err)
	}
	c.log.Debug("proxy launched", slog.Int("pid", proxyPID), slog.String("cmd", plan.Proxy.String()))

	interval := plan.Interval
	if interval <= 0 {
		interval = c.opts.Interval
	}
	manifest := registry.Manifest{
		SessionID: uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Interval:  interval,
		Service:   plan.Service,
		Proxy:     plan.Proxy,
	}
	manifest.SetStart(process.RoleService, c.start(svcPID))
	manifest.SetStart(process.RoleProxy, c.start(proxyPID))
	if err := c.store.WriteManifest(manifest); err != nil {
		c.abort(ctx, svcPID, proxyPID)
		return res, fmt.Errorf("write session manifest: %w", err)
	}

	monPID, err := c.launcher.Launch(plan.Monitor)
	if err != nil {
		c.abort(ctx, svcPID, proxyPID)
		_ = c.store.RemoveManifest()
		return res, fmt.Errorf("launch watchdog: %w", err)
	}
	manifest.SetStart(process.RoleMonitor, c.start(monPID))
	if err := c.store.WriteManifest(manifest); err != nil {
		c.abort(ctx, monPID, svcPID, proxyPID)
		_ = c.store.RemoveManifest()
		return res, fmt.Errorf("write session manifest: %w", err)
	}

	rec = registry.Record{ServicePID: svcPID, ProxyPID: proxyPID, MonitorPID: monPID}
	if err := c.store.Write(rec); err != nil {
		c.abort(ctx, monPID, svcPID, proxyPID)
		_ = c.store.RemoveManifest()
		return res, fmt.Errorf("write registry record: %w", err)
	}

	c.log.Info("session started",
		slog.String("session", manifest.SessionID),
		slog.Int("service", svcPID),
		slog.Int("proxy", proxyPID),
		slog.Int("watchdog", monPID))
	c.emit(ctx, history.Event{Type: history.EventSessionStart, SessionID: manifest.SessionID, Detail: rec.String()})

	res.Status = Started
	res.Record = rec
	res.SessionID = manifest.SessionID
	return res, nil
}

// alreadyRunning reports the live session. A dead watchdog is replaced so
// the session stays supervised.
func (c *Controller) alreadyRunning(ctx context.Context, rec registry.Record, m registry.Manifest) (Result, error) {
	res := Result{Status: AlreadyRunning, Record: rec, DataDir: c.dataDir, SessionID: m.SessionID}
	if pw, err := credential.Read(c.dataDir); err == nil {
		res.Password = pw
	} else {
		c.log.Warn("read credential", slog.Any("error", err))
	}

	if c.ours(m, process.RoleMonitor, rec.MonitorPID) {
		return res, nil
	}
	plan, err := c.prov.Provision(ctx, Env{DataDir: c.dataDir, Password: res.Password})
	if err != nil {
		c.log.Warn("watchdog not running and could not be respawned", slog.Any("error", err))
		return res, nil
	}
	monPID, err := c.launcher.Launch(plan.Monitor)
	if err != nil {
		c.log.Warn("respawn watchdog", slog.Any("error", err))
		return res, nil
	}
	m.SetStart(process.RoleMonitor, c.start(monPID))
	if err := c.store.WriteManifest(m); err != nil {
		c.log.Warn("write session manifest", slog.Any("error", err))
	}
	res.Record = rec.WithPID(process.RoleMonitor, monPID)
	if err := c.store.Write(res.Record); err != nil {
		return res, fmt.Errorf("write registry record: %w", err)
	}
	c.log.Info("watchdog respawned", slog.Int("pid", monPID))
	return res, nil
}

// Stop ends the session. The sentinel is written before anything is
// signalled, so the watchdog never relaunches what is being stopped.
func (c *Controller) Stop(ctx context.Context) (Result, error) {
	res := Result{Status: NotRunning, DataDir: c.dataDir}

	lock, err := c.store.Lock(ctx)
	if err != nil {
		return res, err
	}
	if err := c.store.RequestStop(); err != nil {
		lock.Unlock()
		return res, fmt.Errorf("write stop sentinel: %w", err)
	}
	rec, recErr := c.store.Read()
	lock.Unlock()

	m, _ := c.store.ReadManifest()
	res.SessionID = m.SessionID

	if recErr != nil {
		if !errors.Is(recErr, registry.ErrNoRecord) {
			c.log.Warn("discarding unreadable registry record", slog.Any("error", recErr))
			_ = c.store.Remove()
		}
		c.cleanup()
		return res, nil
	}

	stopErr := c.terminateAll(ctx, rec, m)
	if err := c.store.Remove(); err != nil {
		return res, fmt.Errorf("remove registry record: %w", err)
	}
	c.cleanup()

	c.log.Info("session stopped", slog.String("record", rec.String()))
	c.emit(ctx, history.Event{Type: history.EventSessionStop, SessionID: m.SessionID, Detail: rec.String()})

	res.Status = Stopped
	res.Record = rec
	return res, stopErr
}

// terminateAll stops the watchdog first, then the Service and the Proxy
// concurrently, each with its own grace period. PIDs that now belong to
// other processes are left alone.
func (c *Controller) terminateAll(ctx context.Context, rec registry.Record, m registry.Manifest) error {
	grace := c.opts.StopTimeout
	if c.ours(m, process.RoleMonitor, rec.MonitorPID) {
		if err := c.opts.Terminate(ctx, rec.MonitorPID, grace); err != nil {
			c.log.Warn("terminate watchdog", slog.Int("pid", rec.MonitorPID), slog.Any("error", err))
		}
	}
	var g errgroup.Group
	for _, role := range []process.Role{process.RoleService, process.RoleProxy} {
		role := role
		pid := rec.PID(role)
		if !c.ours(m, role, pid) {
			continue
		}
		g.Go(func() error {
			if err := c.opts.Terminate(ctx, pid, grace); err != nil {
				return fmt.Errorf("%s: %w", role, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		c.log.Warn("terminate", slog.Any("error", err))
	}
	return err
}

// ours reports whether pid is alive and is still the process the manifest
// recorded for role.
func (c *Controller) ours(m registry.Manifest, role process.Role, pid int) bool {
	st := c.probe(pid)
	if !st.IsAlive() {
		return false
	}
	if detector.Owned(st, pid, m.StartOf(role), c.start).IsAlive() {
		return true
	}
	c.log.Warn("recorded pid belongs to another process",
		slog.String("role", string(role)), slog.Int("pid", pid))
	return false
}

// abort kills processes of a half-started session.
func (c *Controller) abort(ctx context.Context, pids ...int) {
	for _, pid := range pids {
		if err := c.opts.Terminate(ctx, pid, c.opts.StopTimeout); err != nil {
			c.log.Warn("abort", slog.Int("pid", pid), slog.Any("error", err))
		}
	}
}

func (c *Controller) cleanup() {
	if err := proxyconf.Remove(c.dataDir); err != nil {
		c.log.Debug("remove proxy config", slog.Any("error", err))
	}
	if err := c.store.RemoveManifest(); err != nil {
		c.log.Debug("remove session manifest", slog.Any("error", err))
	}
}

func (c *Controller) emit(ctx context.Context, e history.Event) {
	e.OccurredAt = time.Now().UTC()
	if err := c.opts.History.Send(ctx, e); err != nil {
		c.log.Debug("history send", slog.Any("error", err))
	}
}
