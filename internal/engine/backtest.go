package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"breakout-trader/internal/execution"
	"breakout-trader/internal/marketdata/ingest"
	"breakout-trader/internal/marketdata/replay"
	"breakout-trader/internal/marketdata/tvwap"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
	"breakout-trader/internal/store/tickstore"
	"breakout-trader/internal/strategy"
)

// BacktestConfig parameterises an offline replay.
type BacktestConfig struct {
	Strategy    strategy.Config
	Execution   execution.Config
	TVWAPWindow time.Duration
	// VolatilityPeriod is the live volatility sample count; 0 uses the
	// ingest default.
	VolatilityPeriod int
	Balance          float64
	// Speed is the playback multiplier; 0 replays as fast as possible.
	Speed float64
	// TickPath is the scratch tick file. Empty uses a temporary directory.
	TickPath string
}

// BacktestResult summarises a replay.
type BacktestResult struct {
	Samples      int                   `json:"samples"`
	Signals      int                   `json:"signals"`
	OrdersOpened int                   `json:"orders_opened"`
	OrdersClosed int                   `json:"orders_closed"`
	OrdersFailed int                   `json:"orders_failed"`
	Closed       []model.OrderEvent    `json:"closed"`
	FinalState   string                `json:"final_state"`
	Account      model.AccountSnapshot `json:"account"`
}

// Backtest replays samples through the same live cycle, generator and
// order manager the engine runs, against a paper broker filling at the
// replayed price. The monitor runs after every sample.
func Backtest(ctx context.Context, cfg BacktestConfig, samples []model.PriceSample, log *slog.Logger) (BacktestResult, error) {
	if log == nil {
		log = slog.Default()
	}
	tickPath := cfg.TickPath
	if tickPath == "" {
		dir, err := os.MkdirTemp("", "backtest-*")
		if err != nil {
			return BacktestResult{}, fmt.Errorf("backtest scratch dir: %w", err)
		}
		defer os.RemoveAll(dir)
		tickPath = filepath.Join(dir, "ticks.csv")
	}
	ticks, err := tickstore.Open(tickPath, log)
	if err != nil {
		return BacktestResult{}, err
	}
	defer ticks.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	st := state.New()
	rp := replay.New(log)
	broker := execution.NewPaperBroker(rp.Feed, cfg.Balance, log)

	var res BacktestResult
	var gen *strategy.Generator
	publish := func(ev model.Event) bool {
		switch ev.Kind {
		case model.EventSignal:
			res.Signals++
		case model.EventOrderOpened:
			res.OrdersOpened++
		case model.EventOrderFailed:
			res.OrdersFailed++
		case model.EventOrderClosed:
			res.OrdersClosed++
			if oe, ok := ev.Payload.(model.OrderEvent); ok {
				res.Closed = append(res.Closed, oe)
			}
			gen.StartCooldown()
		}
		return true
	}

	mgr := execution.NewManager(cfg.Execution, broker, st, publish, m, log)
	gen = strategy.NewGenerator(cfg.Strategy, ticks, broker, mgr, publish, m, log)
	live := ingest.NewLiveIngestor(rp.Feed, tvwap.NewWindow(cfg.TVWAPWindow), cfg.VolatilityPeriod, ticks, gen, st, m, nil, log)

	n, err := rp.Run(ctx, samples, cfg.Speed, live.Cycle, MonitorCycle(st, mgr, nil))
	res.Samples = n
	res.FinalState = mgr.State().String()
	if n > 0 {
		if acct, aerr := broker.AccountSummary(ctx); aerr == nil {
			res.Account = acct
		}
	}
	return res, err
}
