package shieldserve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/shieldserve/internal/config"
	"github.com/loykin/shieldserve/internal/history"
	"github.com/loykin/shieldserve/internal/info"
	"github.com/loykin/shieldserve/internal/lifecycle"
	"github.com/loykin/shieldserve/internal/logger"
	"github.com/loykin/shieldserve/internal/metrics"
	"github.com/loykin/shieldserve/internal/process"
	"github.com/loykin/shieldserve/internal/registry"
	"github.com/loykin/shieldserve/internal/tls"
	"github.com/loykin/shieldserve/internal/watchdog"
)

// Re-export core types for external consumers.

type Config = config.Config

type Result = lifecycle.Result

type Report = lifecycle.Report

type Status = lifecycle.Status

const (
	Started        = lifecycle.Started
	AlreadyRunning = lifecycle.AlreadyRunning
	Stopped        = lifecycle.Stopped
	NotRunning     = lifecycle.NotRunning
)

// WatchCommand is the subcommand the detached watchdog is launched with.
const WatchCommand = "watch"

func LoadConfig(path string) (*Config, error) { return config.LoadConfig(path) }

// Options configure a Supervisor beyond the loaded Config.
type Options struct {
	// Executable is relaunched as "<Executable> watch --dir ..." to run the
	// watchdog. It defaults to the running program, which must then dispatch
	// the watch subcommand to RunWatchdog.
	Executable string
	Logger     *slog.Logger
}

// Supervisor is a thin facade over the lifecycle controller of one data
// directory.
type Supervisor struct {
	cfg     *Config
	dataDir string
	hosts   tls.Hosts
	hist    *history.SQLite
	inner   *lifecycle.Controller
}

// New resolves the data directory and wires the controller.
func New(ctx context.Context, cfg *Config, opts Options) (*Supervisor, error) {
	dataDir, err := config.ResolveDataDir(ctx, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	exe := opts.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	s := &Supervisor{cfg: cfg, dataDir: dataDir, hosts: tls.DetectHosts()}
	lopts := lifecycle.Options{
		SettleDelay: cfg.SettleDelay,
		StopTimeout: cfg.StopTimeout,
		Interval:    cfg.Interval,
		Logger:      log,
	}
	if cfg.History.Enabled {
		h, err := history.OpenSQLite(filepath.Join(dataDir, history.FileName))
		if err != nil {
			log.Warn("history disabled", slog.Any("error", err))
		} else {
			s.hist = h
			lopts.History = h
		}
	}
	prov := &lifecycle.DefaultProvisioner{Config: cfg, Executable: exe, Hosts: s.hosts, Logger: log}
	s.inner = lifecycle.New(dataDir, prov, process.NewLauncher(s.LogPath()), lopts)
	return s, nil
}

func (s *Supervisor) DataDir() string { return s.dataDir }
func (s *Supervisor) LogPath() string { return filepath.Join(s.dataDir, logger.FileName) }

func (s *Supervisor) Start(ctx context.Context) (Result, error) { return s.inner.Start(ctx) }
func (s *Supervisor) Stop(ctx context.Context) (Result, error)  { return s.inner.Stop(ctx) }
func (s *Supervisor) Status(ctx context.Context, events int) (Report, error) {
	return s.inner.Status(ctx, events)
}

// Connection turns a start result into printable connection info.
func (s *Supervisor) Connection(res Result) info.Connection {
	return info.Connection{
		Status:   res.Status,
		Hosts:    s.hosts.Addresses(),
		Port:     s.cfg.Port,
		Password: res.Password,
		Record:   res.Record,
		LogPath:  s.LogPath(),
	}
}

func (s *Supervisor) Close() error {
	if s.hist != nil {
		return s.hist.Close()
	}
	return nil
}

// RunWatchdog supervises the session recorded in dataDir until it is stopped
// or ctx ends. It is the body of the detached watchdog process.
func RunWatchdog(ctx context.Context, dataDir string, cfg *Config) error {
	store := registry.New(dataDir)
	manifest, err := store.ReadManifest()
	if err != nil {
		return fmt.Errorf("read session manifest: %w", err)
	}

	logCfg := logger.Config{
		Path:       filepath.Join(dataDir, logger.FileName),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	w := logCfg.Writer()
	defer func() { _ = w.Close() }()
	log := logger.New(w, slog.LevelInfo, "watchdog")

	wcfg := watchdog.Config{
		Interval: cfg.Interval,
		Logger:   log,
		SelfPID:  os.Getpid(),
	}
	if cfg.Metrics.Enabled {
		wcfg.Metrics = metrics.New(filepath.Join(dataDir, metrics.FileName))
	}
	if cfg.History.Enabled {
		h, err := history.OpenSQLite(filepath.Join(dataDir, history.FileName))
		if err != nil {
			log.Warn("history disabled", slog.Any("error", err))
		} else {
			defer func() { _ = h.Close() }()
			wcfg.History = []history.Sink{h}
		}
	}

	wd := watchdog.New(store, manifest, process.NewLauncher(logCfg.Path), wcfg)
	return wd.Run(ctx)
}
