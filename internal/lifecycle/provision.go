package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/loykin/shieldserve/internal/config"
	"github.com/loykin/shieldserve/internal/deps"
	"github.com/loykin/shieldserve/internal/env"
	"github.com/loykin/shieldserve/internal/logger"
	"github.com/loykin/shieldserve/internal/process"
	"github.com/loykin/shieldserve/internal/proxyconf"
	"github.com/loykin/shieldserve/internal/tls"
)

// ServiceHost is the loopback address the Service binds to.
const ServiceHost = "127.0.0.1"

// Env is what the controller hands a Provisioner for one session start.
type Env struct {
	DataDir  string
	Password string
}

// Plan is the provisioned launch plan of a session.
type Plan struct {
	Service process.Spec
	Proxy   process.Spec
	Monitor process.Spec
	// ServiceAddr is dialled to decide when the Service has settled. Empty
	// means wait the full settle delay.
	ServiceAddr string
	Interval    time.Duration
}

// Provisioner prepares everything a session needs before anything is
// launched: auth, binaries, certificate and proxy config.
type Provisioner interface {
	Provision(ctx context.Context, env Env) (Plan, error)
}

// ProvisionFunc adapts a function to Provisioner.
type ProvisionFunc func(ctx context.Context, env Env) (Plan, error)

func (f ProvisionFunc) Provision(ctx context.Context, env Env) (Plan, error) { return f(ctx, env) }

// DefaultProvisioner provisions the configured Service and Proxy binaries.
type DefaultProvisioner struct {
	Config     *config.Config
	Executable string // this program, relaunched as the watchdog
	Hosts      tls.Hosts
	Logger     *slog.Logger
}

func (p *DefaultProvisioner) Provision(ctx context.Context, e Env) (Plan, error) {
	cfg := p.Config
	log := p.Logger
	if log == nil {
		log = logger.Discard()
	}

	if cfg.SkipAuth {
		log.Debug("auth check skipped")
	} else if err := deps.CheckAuth(ctx, cfg.Auth.Command); err != nil {
		return Plan{}, err
	}

	svcPath, err := deps.Binary{Name: "service", Bin: cfg.Service.Bin, Install: cfg.Service.Install}.Resolve(ctx)
	if err != nil {
		return Plan{}, err
	}
	proxyPath, err := deps.Binary{Name: "proxy", Bin: cfg.Proxy.Bin, Install: cfg.Proxy.Install}.Resolve(ctx)
	if err != nil {
		return Plan{}, err
	}

	pair, created, err := tls.Ensure(e.DataDir, p.Hosts)
	if err != nil {
		return Plan{}, &deps.ProvisionError{What: "certificate", Hint: "check permissions of " + e.DataDir, Err: err}
	}
	if created {
		log.Info("generated self-signed certificate", slog.String("cert", pair.CertPath))
	}

	confPath, err := proxyconf.Write(e.DataDir, proxyconf.Params{
		ExternalPort: cfg.Port,
		ServiceHost:  ServiceHost,
		ServicePort:  cfg.ServicePort,
		CertPath:     pair.CertPath,
		KeyPath:      pair.KeyPath,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("write proxy config: %w", err)
	}

	vars := placeholders(ServiceHost, cfg.ServicePort, confPath, e.DataDir)
	monitorArgs := []string{"watch", "--dir", e.DataDir, "--interval", cfg.Interval.String()}
	if cfg.ConfigFile != "" {
		monitorArgs = append(monitorArgs, "--config", cfg.ConfigFile)
	}

	return Plan{
		Service: process.Spec{
			Role: process.RoleService,
			Path: svcPath,
			Args: env.ExpandAll(cfg.Service.Args, vars),
			Env:  []string{"PASSWORD=" + e.Password},
		},
		Proxy: process.Spec{
			Role:    process.RoleProxy,
			Path:    proxyPath,
			Args:    env.ExpandAll(cfg.Proxy.Args, vars),
			WorkDir: e.DataDir,
		},
		Monitor: process.Spec{
			Role: process.RoleMonitor,
			Path: p.Executable,
			Args: monitorArgs,
		},
		ServiceAddr: net.JoinHostPort(ServiceHost, strconv.Itoa(cfg.ServicePort)),
		Interval:    cfg.Interval,
	}, nil
}

// placeholders are the ${VAR} names available in configured arguments, on
// top of the process environment.
func placeholders(host string, port int, proxyConfig, dataDir string) env.Vars {
	return env.FromOS().
		With("SERVICE_HOST", host).
		With("SERVICE_PORT", strconv.Itoa(port)).
		With("PROXY_CONFIG", proxyConfig).
		With("DATA_DIR", dataDir)
}
