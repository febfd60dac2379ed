package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"breakout-trader/internal/engine"
	"breakout-trader/internal/execution"
	"breakout-trader/internal/marketdata/replay"
	"breakout-trader/internal/strategy"
)

func newBacktestCmd() *cobra.Command {
	var (
		ticksPath string
		speed     float64
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay a recorded tick file through the strategy against a paper broker",
		Long: `Reads a CSV with timestamp and close columns (the engine's own tick file
works as-is) and runs every row through the live cycle, signal generator and
order manager. Prints a JSON summary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			samples, err := replay.Load(ticksPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := engine.Backtest(ctx, engine.BacktestConfig{
				Strategy: strategy.Config{
					BreakoutPeriod:      cfg.Strategy.BreakoutPeriod,
					LagPeriod:           cfg.Strategy.LagPeriod,
					VolatilityThreshold: cfg.Strategy.VolatilityThreshold,
					CooldownSamples:     cfg.Strategy.CooldownSamples,
				},
				Execution: execution.Config{
					Instrument:       cfg.Instrument,
					Units:            cfg.Strategy.Units,
					TakeProfitOffset: cfg.Strategy.TakeProfitOffset,
					StopLossDistance: cfg.Strategy.StopLossDistance,
					SubmitTimeout:    cfg.Broker.Timeout,
				},
				TVWAPWindow:      cfg.Strategy.TVWAPWindow,
				VolatilityPeriod: cfg.Strategy.VolatilityPeriod,
				Balance:          cfg.Broker.PaperBalance,
				Speed:            speed,
			}, samples, log)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("backtest: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&ticksPath, "ticks", "", "tick CSV to replay")
	cmd.Flags().Float64Var(&speed, "speed", 0, "playback speed multiplier (0=max, 1=realtime)")
	cmd.MarkFlagRequired("ticks")
	return cmd
}
