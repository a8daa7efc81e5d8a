package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharplee/signalcore/internal/config"
)

func newConfigCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "config",
		Short: "Configuration file utilities.",
	}
	parent.AddCommand(newConfigValidateCmd())
	return parent
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Loads and validates the strategy config YAML file.",
		RunE:  runConfigValidate,
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")

	root, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	fmt.Printf("config OK: %s\n", path)
	fmt.Printf("  portfolio=%s strategies=%d\n", root.Portfolio, len(root.ResolveFilters()))
	fmt.Printf("  strategy: ema=%d atr=%d fib_window=%d tp_mult=%.2f sl_mult=%.2f threshold=%.2f\n",
		root.Strategy.EMAPeriod, root.Strategy.ATRPeriod, root.Strategy.FibWindow,
		root.Strategy.TPAtrMult, root.Strategy.SLAtrMult, root.Strategy.ScoreThreshold)
	fmt.Printf("  ingestion: buffer=%d replay_checkpoint_every=%d initial_history_hours=%d\n",
		root.Ingestion.BufferCapacity, root.Ingestion.ReplayCheckpointEvery, root.Ingestion.InitialHistoryHours)
	return nil
}
