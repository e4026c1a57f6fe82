package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"gather/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the gather daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()

			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.Health(cmd.Context()); err == nil {
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			launchArgs := []string{"daemon"}
			if path := ctx.configPath(); path != "" {
				launchArgs = append(launchArgs, "--config", path)
			}
			proc := exec.Command(exe, launchArgs...)
			if err := proc.Start(); err != nil {
				return fmt.Errorf("launch daemon: %w", err)
			}
			if err := proc.Process.Release(); err != nil {
				return fmt.Errorf("detach daemon: %w", err)
			}

			fmt.Fprintln(stdout, "Daemon not running, launching...")
			if err := client.WaitForReady(cmd.Context(), 10*time.Second); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the gather daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			pidPath := filepath.Join(cfg.Paths.LogDir, "gather.pid")
			pid, err := daemonctl.TerminateProcess(pidPath)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", pid)

			client, clientErr := ctx.client()
			if clientErr == nil {
				deadline := time.Now().Add(10 * time.Second)
				for time.Now().Before(deadline) {
					if err := client.Health(cmd.Context()); err != nil {
						fmt.Fprintln(stdout, "Daemon stopped")
						return nil
					}
					time.Sleep(200 * time.Millisecond)
				}
				return fmt.Errorf("daemon did not stop within 10s")
			}
			fmt.Fprintln(stdout, "Stop signal sent")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				fmt.Fprintln(stdout, renderStatusLine("Gather", statusWarn, "Not running (run `gather start`)", colorize))
				return nil
			}

			fmt.Fprintln(stdout, renderStatusLine("Gather", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
			if err := client.Health(cmd.Context()); err != nil {
				fmt.Fprintln(stdout, renderStatusLine("Store", statusError, err.Error(), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Store", statusOK, "Healthy", colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Queue DB", statusInfo, status.QueueDBPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Tracked jobs", statusInfo, fmt.Sprintf("%d", status.TrackedJobs), colorize))

			rows := buildStatsRows(status.Queue)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}
