// Package cli is the dbdoctor command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"dbdoctor/internal/config"
	"dbdoctor/internal/db"
	"dbdoctor/internal/diagnose"
	"dbdoctor/internal/platform/boot"
	"dbdoctor/internal/probe"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const serviceName = "dbdoctor"

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := &app{v: viper.New(), stdout: stdout, exit: diagnose.ExitOK}
	config.SetDefaults(app.v)

	root := app.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "dbdoctor:", err)
		if errors.Is(err, db.ErrConfigurationInvalid) || app.usageErr {
			return diagnose.ExitConfig
		}
		if app.exit == diagnose.ExitOK {
			return diagnose.ExitUnreachable
		}
	}
	return app.exit
}

type app struct {
	v        *viper.Viper
	stdout   io.Writer
	exit     int
	usageErr bool
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dbdoctor",
		Short: "Diagnose PostgreSQL connectivity, pooling and schema",
		Long: "dbdoctor finds a working connection variant for a PostgreSQL URL (scheme, TLS policy,\n" +
			"pooler host and user), then checks pooled queries, concurrency and expected tables.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOnce(cmd, diagnose.ModeCheck)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		a.usageErr = true
		return err
	})

	f := root.PersistentFlags()
	po := db.DefaultOptions()
	f.StringP(config.KeyConfigFile, "c", "", "YAML config file")
	f.String(config.KeyEnvFile, config.DefaultEnvFile, "dotenv file read when present")
	f.String(config.KeyURL, "", "connection URL (env DATABASE_URL)")
	f.String(config.KeyOverride, "", "explicit URL tried instead of the base URL (env DATABASE_URL_OVERRIDE)")
	f.StringSlice(config.KeyTables, nil, "expected tables in schema public")
	f.Int32(config.KeyPoolMin, po.MinConns, "minimum pool connections")
	f.Int32(config.KeyPoolMax, po.MaxConns, "maximum pool connections")
	f.Duration(config.KeyIdleTimeout, po.IdleTimeout, "pool idle timeout")
	f.Duration(config.KeyAcquireTimeout, po.AcquireTimeout, "pool acquire timeout")
	f.Duration(config.KeyQueryTimeout, 5*time.Second, "per-query timeout in health checks")
	f.Duration(config.KeyTimeout, 2*time.Minute, "bound on one whole run")
	f.Duration(config.KeyProbeTimeout, probe.DefaultTimeout, "bound on one connection probe")
	f.Duration(config.KeyProbeSpacing, 250*time.Millisecond, "minimum gap between probe starts")
	f.StringSlice(config.KeyTLSOrder, []string{"system-verified", "insecure-accept", "disabled"}, "TLS policies to try, in order")
	f.StringSlice(config.KeySchemes, nil, "URL schemes to try, in order (default: base scheme, then the other)")
	f.String(config.KeyOrder, "tls-inner", "which dimension varies fastest: tls-inner or scheme-inner")
	f.String(config.KeyPoolerHost, "", "pooler host pattern, e.g. aws-0-{region}.pooler.supabase.com")
	f.StringSlice(config.KeyPoolerRegions, nil, "regions substituted into {region}")
	f.String(config.KeyPoolerProject, "", "project reference substituted into {project}")
	f.Int(config.KeyPoolerPort, 6543, "pooler port")
	f.StringSlice(config.KeyPoolerUsers, nil, "pooler user patterns (default {user}.{project},{project})")
	f.Bool(config.KeyPoolerOnly, false, "skip the base host when a pooler host is given")
	f.Int(config.KeyConcurrency, 3, "concurrent echo queries (at least 3)")
	f.String(config.KeyFormat, "text", "report format: text or json")
	f.String(config.KeyMetricsFile, "", "write Prometheus metrics to this textfile on exit")
	f.String(config.KeyLogLevel, "info", "log level (env LOG_LEVEL)")
	f.String(config.KeyLogFormat, "console", "log format: console or json (env LOG_FORMAT)")

	root.AddCommand(a.checkCmd(), a.resolveCmd(), a.watchCmd())
	return root
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Resolve a connection, then run every health phase (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOnce(cmd, diagnose.ModeCheck)
		},
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Only find the first connection variant that works",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runOnce(cmd, diagnose.ModeResolve)
		},
	}
}

// load binds the flags of cmd (and its parents) and reads the layered config.
func (a *app) load(cmd *cobra.Command) (config.Config, error) {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	return config.Load(a.v)
}

func bootOptions(cfg config.Config) boot.Options {
	return boot.Options{
		ServiceName: serviceName,
		LogLevel:    cfg.LogLevel,
		LogFormat:   cfg.LogFormat,
		MetricsFile: cfg.MetricsFile,
	}
}

func runner(deps boot.Deps) *diagnose.Runner {
	return diagnose.NewRunner(
		diagnose.WithLogger(deps.Log),
		diagnose.WithProber(probe.New(nil, probe.WithLogger(deps.Log), probe.WithMetrics(deps.Probes))),
		diagnose.WithPhaseMetrics(deps.Phases),
	)
}
