package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"dbdoctor/internal/config"
	"dbdoctor/internal/db"
	"dbdoctor/internal/diagnose"
	"dbdoctor/internal/platform/boot"
	"dbdoctor/internal/platform/health"
	"dbdoctor/internal/render"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) watchCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the check on an interval and serve /readyz, /metrics and /report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.watch(cmd, strict)
		},
	}
	f := cmd.Flags()
	f.Duration(config.KeyInterval, time.Minute, "time between runs")
	f.String(config.KeyAdminAddr, ":8081", "admin listen address")
	f.BoolVar(&strict, "strict", false, "a failed health phase also makes /readyz fail")
	return cmd
}

func (a *app) watch(cmd *cobra.Command, strict bool) error {
	cfg, err := a.load(cmd)
	if err != nil {
		return err
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("%w: %s must be positive", db.ErrConfigurationInvalid, config.KeyInterval)
	}
	format, err := render.ParseFormat(cfg.Format)
	if err != nil {
		return fmt.Errorf("%w: %v", db.ErrConfigurationInvalid, err)
	}
	opts, err := cfg.RunOptions(diagnose.ModeCheck)
	if err != nil {
		return err
	}

	var latest diagnose.Latest
	bo := bootOptions(cfg)
	bo.AdminAddr = cfg.AdminAddr
	bo.ReadyRoot = health.NewReadyGraph(&latest, 2*cfg.Interval+opts.Timeout, strict)
	bo.AdminRoutes = map[string]http.Handler{"/report": reportHandler(&latest)}
	bo.RuntimeMetrics = true

	return boot.Run(cmd.Context(), bo, func(ctx context.Context, deps boot.Deps) error {
		r := runner(deps)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			rep, err := r.Run(ctx, opts)
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				a.exit = diagnose.ExitOK
				return nil
			}
			latest.Store(rep)
			a.exit = rep.ExitCode()
			if err := render.Write(a.stdout, format, rep); err != nil {
				deps.Log.Warn("report write failed", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				// a signal ends watch mode cleanly
				a.exit = diagnose.ExitOK
				return nil
			case <-ticker.C:
			}
		}
	})
}

func reportHandler(latest *diagnose.Latest) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rep, ok := latest.Load()
		if !ok {
			http.Error(w, "no run yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = render.JSON(w, rep)
	})
}
