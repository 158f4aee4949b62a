package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/shieldserve"
	"github.com/loykin/shieldserve/internal/config"
	"github.com/loykin/shieldserve/internal/info"
	"github.com/loykin/shieldserve/internal/logger"
)

// buildRoot creates the command tree.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}

	root := &cobra.Command{
		Use:   "shieldserve",
		Short: "Run a supervised app server behind a local TLS proxy",
		Long: `shieldserve starts an application server and a TLS reverse proxy in front of it,
prints how to connect, and keeps both running until stopped.

Examples:
  shieldserve                    # start, or show the running session
  shieldserve --port 9443        # listen on another external port
  shieldserve --stop             # stop the session
  shieldserve status             # show processes and recent events`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if startFlags.Stop {
				return runStop(cmd, globalFlags)
			}
			return runStart(cmd, globalFlags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.String("data-dir", "", "data directory (default: <repo>/.shieldserve or user config dir)")
	pf.BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "verbose output")

	f := root.Flags()
	f.BoolVar(&startFlags.Stop, "stop", false, "stop the running session")
	f.Bool("skip-auth", false, "skip the auth check")
	f.Int("port", config.DefaultPort, "external TLS port of the proxy")
	f.Duration("interval", config.DefaultInterval, "watchdog poll interval")

	root.AddCommand(
		createStatusCommand(globalFlags),
		createWatchCommand(globalFlags),
	)
	return root
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state, processes and recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := openSupervisor(cmd, globalFlags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()

			rep, err := sup.Status(cmd.Context(), flags.Events)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), info.RenderReport(rep))
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.Events, "events", 10, "number of recent events to show")
	return cmd
}

func createWatchCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &WatchFlags{}
	cmd := &cobra.Command{
		Use:    shieldserve.WatchCommand,
		Short:  "Run the watchdog for a session (started automatically)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			// A hangup from the launching terminal must not end supervision.
			signal.Ignore(syscall.SIGHUP)

			cfg, err := loadConfig(cmd, globalFlags)
			if err != nil {
				return err
			}
			return shieldserve.RunWatchdog(ctx, flags.Dir, cfg)
		},
	}
	cmd.Flags().StringVar(&flags.Dir, "dir", "", "session data directory")
	cmd.Flags().Duration("interval", config.DefaultInterval, "poll interval")
	if err := cmd.MarkFlagRequired("dir"); err != nil {
		panic(err)
	}
	return cmd
}

func runStart(cmd *cobra.Command, globalFlags *GlobalFlags) error {
	sup, err := openSupervisor(cmd, globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	res, err := sup.Start(cmd.Context())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), info.RenderConnection(sup.Connection(res)))
	return nil
}

func runStop(cmd *cobra.Command, globalFlags *GlobalFlags) error {
	sup, err := openSupervisor(cmd, globalFlags)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()

	res, err := sup.Stop(cmd.Context())
	if err == nil || res.Status == shieldserve.Stopped {
		_, _ = fmt.Fprint(cmd.OutOrStdout(), info.RenderStop(res))
	}
	return err
}

func openSupervisor(cmd *cobra.Command, globalFlags *GlobalFlags) (*shieldserve.Supervisor, error) {
	cfg, err := loadConfig(cmd, globalFlags)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.NewConsole(cmd.ErrOrStderr(), globalFlags.Verbose)
	return shieldserve.New(ctx, cfg, shieldserve.Options{Logger: log})
}

// flagKeys maps command-line flags onto config keys. Flags override the
// config file and the environment only when set explicitly.
var flagKeys = map[string]string{
	"port":      "port",
	"interval":  "interval",
	"skip-auth": "skip_auth",
	"data-dir":  "data_dir",
}

func loadConfig(cmd *cobra.Command, globalFlags *GlobalFlags) (*config.Config, error) {
	v, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Decode(v)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		fl := fs.Lookup(name)
		if fl == nil || !fl.Changed {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return err
		}
	}
	return nil
}
