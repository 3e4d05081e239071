package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tverberg/pitlane/internal/notify"
	"github.com/tverberg/pitlane/internal/patrol"
)

func newPatrolCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "patrol",
		Short: "Run the background reconciliation daemon",
		Long:  "Sweeps every rig on a schedule and sends turn-ready notifications, keeping queues healthy even when no client is polling.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatrol(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pitlane.yaml", "path to Pitlane config file")
	return cmd
}

func runPatrol(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var notifier notify.Notifier
	if cfg.Slack.WebhookURL != "" {
		n, err := notify.NewSlackNotifier(cfg.Slack.WebhookURL)
		if err != nil {
			return err
		}
		notifier = n
		fmt.Fprintln(cmd.OutOrStdout(), "Slack turn-ready notifications enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Patrol running on schedule %q\n", cfg.Patrol.Schedule)
	return patrol.Run(ctx, patrol.Opts{
		DB:       gormDB,
		Schedule: cfg.Patrol.Schedule,
		Notifier: notifier,
	})
}
