package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"breakout-trader/config"
	"breakout-trader/internal/execution"
	"breakout-trader/internal/logger"
	"breakout-trader/internal/marketdata/feed"
	"breakout-trader/internal/markethours"
	"breakout-trader/internal/model"
	"breakout-trader/internal/pivots"
	"breakout-trader/internal/state"
	"breakout-trader/pkg/oanda"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "engine",
		Short: "XAU_USD breakout trading engine",
		Long: `Polls the live price and candle feeds, keeps a time-weighted average,
fires breakout signals and manages one bracketed position at a time.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the engine and the query interface",
		RunE:  runServe,
	})
	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "pivots",
		Short: "Print the prior trading day's pivot levels and exit",
		RunE:  runPivots,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Init("engine", logger.ParseLevel(cfg.Logging.Level))
	return cfg, log, nil
}

func newFeed(cfg *config.Config) *feed.Client {
	return feed.NewClient(feed.Config{
		LiveURL:   cfg.Feed.LiveURL,
		CandleURL: cfg.Feed.CandleURL,
		Timeout:   cfg.Feed.Timeout,
	})
}

func newBroker(cfg *config.Config, f model.Feed, log *slog.Logger) model.Broker {
	if cfg.Broker.Mode == "paper" {
		log.Info("using paper broker", "balance", cfg.Broker.PaperBalance)
		return execution.NewPaperBroker(f, cfg.Broker.PaperBalance, log)
	}
	log.Info("using oanda broker", "environment", cfg.Broker.Environment, "account", cfg.Broker.AccountID)
	return oanda.New(oanda.Config{
		AccountID:         cfg.Broker.AccountID,
		Token:             cfg.Broker.Token,
		Environment:       cfg.Broker.Environment,
		BaseURL:           cfg.Broker.BaseURL,
		Timeout:           cfg.Broker.Timeout,
		RequestsPerSecond: cfg.Broker.RequestsPerSecond,
		Debug:             cfg.Server.Debug,
		Logger:            log,
	})
}

func runPivots(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	broker := newBroker(cfg, newFeed(cfg), log)
	cal := markethours.New(cfg.Calendar.MIC)
	r := pivots.NewRefresher(cfg.Instrument, broker, cal, state.New(), nil, log)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	p, err := r.Compute(ctx)
	if err != nil {
		return fmt.Errorf("compute pivots: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
