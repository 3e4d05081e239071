package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tverberg/pitlane/internal/credits"
)

func newCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Credit ledger commands",
	}

	cmd.AddCommand(newCreditsBalanceCmd())
	cmd.AddCommand(newCreditsGrantCmd())
	return cmd
}

func newCreditsBalanceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			balance, err := credits.Balance(gormDB, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", args[0], balance)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pitlane.yaml", "path to Pitlane config file")
	return cmd
}

func newCreditsGrantCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Grant credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			balance, err := credits.Credit(gormDB, args[0], amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits\n", args[0], balance)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pitlane.yaml", "path to Pitlane config file")
	return cmd
}
