package cli

import (
	"context"
	"fmt"

	"dbdoctor/internal/db"
	"dbdoctor/internal/diagnose"
	"dbdoctor/internal/platform/boot"
	"dbdoctor/internal/render"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runOnce performs a single diagnosis, prints the report and records its
// exit code.
func (a *app) runOnce(cmd *cobra.Command, mode diagnose.Mode) error {
	cfg, err := a.load(cmd)
	if err != nil {
		return err
	}
	format, err := render.ParseFormat(cfg.Format)
	if err != nil {
		return fmt.Errorf("%w: %v", db.ErrConfigurationInvalid, err)
	}
	opts, err := cfg.RunOptions(mode)
	if err != nil {
		return err
	}

	return boot.Run(cmd.Context(), bootOptions(cfg), func(ctx context.Context, deps boot.Deps) error {
		rep, err := runner(deps).Run(ctx, opts)
		if err != nil {
			return err
		}
		deps.Log.Info("run finished",
			zap.String("run_id", rep.RunID),
			zap.String("mode", string(rep.Mode)),
			zap.Bool("connected", rep.Connected),
			zap.Int("attempts", len(rep.Attempts)),
			zap.Duration("duration", rep.Duration),
		)
		a.exit = rep.ExitCode()
		return render.Write(a.stdout, format, rep)
	})
}
