package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfills 1-minute bars for the configured instruments via REST, without starting the engine.",
		RunE:  runBackfill,
	}
	addCommonFlags(cmd)
	cmd.Flags().Duration("lookback", 48*time.Hour, "How far back to backfill from now")
	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	lookback, _ := cmd.Flags().GetDuration("lookback")

	c, err := buildComponents(cmd, "signalengine-backfill")
	if err != nil {
		return err
	}
	defer c.close()

	ctx := cmd.Context()
	to := time.Now().UnixMilli()
	from := time.Now().Add(-lookback).UnixMilli()

	for _, inst := range c.instruments {
		bars, err := c.source.FetchBars(ctx, inst, from, to)
		if err != nil {
			return fmt.Errorf("fetch bars for %s: %w", inst, err)
		}
		stored := 0
		for _, bar := range bars {
			if err := c.bars.Upsert(ctx, bar); err != nil {
				return fmt.Errorf("upsert bar for %s: %w", inst, err)
			}
			stored++
		}
		c.log.Info().Str("instrument", inst).Int("bars", stored).Msg("backfill complete")
	}
	return nil
}
