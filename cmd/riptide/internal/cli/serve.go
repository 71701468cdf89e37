package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/riptide-org/riptide"
	riptimeruntime "github.com/riptide-org/riptide/internal/runtime"
)

// newServeCmd runs the engine as a long-lived process: background job
// queue, scheduler, and outbox loops stay up (Engine.Start/Stop), and if
// --config was given, the file is watched for changes and hot-reloaded
// into a fresh Engine without dropping the process.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine's background loops until interrupted, hot-reloading --config on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if configPath == "" {
				cfg, err := loadConfig()
				if err != nil {
					return asExitErr(err)
				}
				return asExitErr(runEngine(ctx, cfg))
			}

			cm, err := riptimeruntime.NewConfigManager(configPath)
			if err != nil {
				return asExitErr(err)
			}
			hr, err := riptimeruntime.NewHotReloadSystem(configPath)
			if err != nil {
				return asExitErr(err)
			}

			changes, errs := hr.WatchConfigChanges(ctx)
			defer func() { _ = hr.StopWatching() }()

			cfg := cm.Current()
			cfg.MetricsEnabled = enableMetrics || cfg.MetricsEnabled
			if enableMetrics {
				cfg.MetricsBackend = metricsBackend
			}
			cfg.EnableRender = enableRender
			cfg.EnableWasm = enableWasm

			e, err := riptide.New(cfg)
			if err != nil {
				return asExitErr(err)
			}
			e.Start(ctx)
			fmt.Fprintln(cmd.ErrOrStderr(), "riptide: serving; watching", configPath, "for changes")

			for {
				select {
				case <-ctx.Done():
					_ = e.Stop(context.Background())
					return nil
				case change, ok := <-changes:
					if !ok {
						<-ctx.Done()
						_ = e.Stop(context.Background())
						return nil
					}
					fmt.Fprintln(cmd.ErrOrStderr(), "riptide: config changed, reloading engine; checksum", change.Checksum)
					next, err := riptide.New(change.Config)
					if err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "riptide: reload rejected, keeping previous engine:", err)
						continue
					}
					_ = e.Stop(context.Background())
					e = next
					e.Start(ctx)
					if err := cm.Update(change.Config); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "riptide: failed to persist reloaded config:", err)
					}
				case err, ok := <-errs:
					if !ok {
						continue
					}
					fmt.Fprintln(cmd.ErrOrStderr(), "riptide: config watch error:", err)
				}
			}
		},
	}
	return cmd
}

// runEngine is the no-hot-reload path: start the background loops and block
// until the process is signalled.
func runEngine(ctx context.Context, cfg riptide.Config) error {
	e, err := riptide.New(cfg)
	if err != nil {
		return err
	}
	e.Start(ctx)
	<-ctx.Done()
	return e.Stop(context.Background())
}
