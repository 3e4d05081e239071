package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tverberg/pitlane/internal/liveness"
	"github.com/tverberg/pitlane/internal/models"
	"github.com/tverberg/pitlane/internal/queue"
)

func newRigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rig",
		Short: "Rig inspection commands",
	}

	cmd.AddCommand(newRigListCmd())
	cmd.AddCommand(newRigQueueCmd())
	return cmd
}

func newRigListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rigs with liveness and session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRigList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pitlane.yaml", "path to Pitlane config file")
	return cmd
}

func runRigList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var rigs []models.Rig
	if err := gormDB.Order("id ASC").Find(&rigs).Error; err != nil {
		return fmt.Errorf("list rigs: %w", err)
	}

	now := time.Now()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLIVENESS\tSIM\tIN CAR\tSESSION")
	for _, r := range rigs {
		sim := "-"
		if r.SimulatorConnected {
			sim = "connected"
		}
		inCar := "-"
		if r.InCar {
			inCar = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Name, liveness.Status(&r, now), sim, inCar, r.SessionState)
	}
	return w.Flush()
}

func newRigQueueCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "queue <rig-id>",
		Short: "Show a rig's queue after a reconciliation sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRigQueue(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pitlane.yaml", "path to Pitlane config file")
	return cmd
}

func runRigQueue(cmd *cobra.Command, configPath, rigID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	snap, err := queue.State(gormDB, rigID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rig %s (%s): %s, session %s\n", snap.Rig.ID, snap.Rig.Name, snap.Liveness, snap.Clock.State)
	if snap.Active != nil {
		fmt.Fprintf(out, "Active: %s", snap.Active.UserID)
		if left, ok := snap.Clock.Remaining(time.Now()); ok {
			fmt.Fprintf(out, " (%ds remaining)", int(left/time.Second))
		}
		fmt.Fprintln(out)
	}
	if len(snap.Waiting) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tUSER\tJOINED")
	for _, e := range snap.Waiting {
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.Position, e.UserID, e.JoinedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
