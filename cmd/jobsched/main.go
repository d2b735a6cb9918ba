// jobsched runs configured jobs on an in-process cooperative scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"jobsched/internal/app"
	"jobsched/internal/task/scheduler"
	logx "jobsched/pkg/logx"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "jobsched",
		Short:        "In-process cooperative job scheduler",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newCheckConfigCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		cfgPath string
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the config and run the scheduler until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath, !noWatch)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable config hot reload")
	return cmd
}

func newCheckConfigCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.CheckConfigFile(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d jobs, %d named schedules\n", len(cfg.Jobs), len(cfg.Schedules))
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func run(parent context.Context, cfgPath string, watch bool) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.NewApp(cfgPath, app.WithWatch(watch))
	if err != nil {
		return fmt.Errorf("fatal: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("fatal start: %w", err)
	}
	notify(a, daemon.SdNotifyReady)
	go watchdog(ctx, a)

	reason := app.StopAppStop
	select {
	case sig := <-sigCh:
		reason = app.StopReasonForSignal(sig)
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-parent.Done():
	}

	notify(a, daemon.SdNotifyStopping)
	_ = a.Stop(context.Background(), reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// notify is a no-op outside systemd.
func notify(a *app.App, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.Logger().Debug("sd_notify failed", logx.Err(err))
	}
}

// watchdog pings systemd at half the configured WatchdogSec while the
// scheduler loop is alive.
func watchdog(ctx context.Context, a *app.App) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Done():
			return
		case <-t.C:
			if a.Scheduler().State() == scheduler.Running {
				notify(a, daemon.SdNotifyWatchdog)
			}
		}
	}
}
