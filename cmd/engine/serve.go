package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"breakout-trader/internal/api"
	"breakout-trader/internal/engine"
	"breakout-trader/internal/execution"
	"breakout-trader/internal/gateway"
	"breakout-trader/internal/marketdata/bus"
	"breakout-trader/internal/marketdata/ingest"
	"breakout-trader/internal/marketdata/tvwap"
	"breakout-trader/internal/markethours"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/notification"
	"breakout-trader/internal/pivots"
	"breakout-trader/internal/portfolio"
	"breakout-trader/internal/state"
	redisstore "breakout-trader/internal/store/redis"
	sqlitestore "breakout-trader/internal/store/sqlite"
	"breakout-trader/internal/store/tickstore"
	"breakout-trader/internal/strategy"
)

const (
	busInputSize     = 4096
	busSubscriberBuf = 1024
	startupProbe     = 15 * time.Second
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("starting", "instrument", cfg.Instrument, "broker", cfg.Broker.Mode)

	// ---- Metrics & health ----
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, health, prometheus.DefaultGatherer, log)
	metricsSrv.Start()

	// ---- Collaborators ----
	feedClient := newFeed(cfg)
	broker := newBroker(cfg, feedClient, log)

	probeCtx, cancelProbe := context.WithTimeout(cmd.Context(), startupProbe)
	_, err = broker.AccountSummary(probeCtx)
	cancelProbe()
	if err != nil {
		log.Error("initial broker connection failed", "error", err)
		os.Exit(1)
	}
	health.SetBrokerOK(true)
	log.Info("broker connection ok")

	// ---- Storage ----
	ticks, err := tickstore.Open(cfg.Storage.TickPath, log)
	if err != nil {
		log.Error("tick store init failed", "path", cfg.Storage.TickPath, "error", err)
		os.Exit(1)
	}
	defer ticks.Close()

	var journal *sqlitestore.Journal
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0o755); err == nil {
		journal, err = sqlitestore.Open(cfg.Storage.JournalPath, log)
		if err != nil {
			log.Warn("journal init failed, continuing without journal", "error", err)
			journal = nil
		}
	} else {
		log.Warn("journal directory not creatable, continuing without journal", "error", err)
	}
	if journal != nil {
		defer journal.Close()
		health.SetSQLiteOK(true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mirror *redisstore.Mirror
	if cfg.Redis.Enabled {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", "from", from, "to", to)
		}
		mirror, err = redisstore.New(ctx, redisstore.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TTL:        cfg.Redis.TTL,
			Instrument: cfg.Instrument,
		}, cb, log)
		if err != nil {
			log.Warn("redis init failed, continuing without redis", "error", err)
			mirror = nil
		} else {
			mirror.OnBuffer = func(int) { m.RedisBufferedWrites.Inc() }
			defer mirror.Close()
		}
	}
	health.SetRedisEnabled(mirror != nil)

	var rdb *goredis.Client
	if mirror != nil {
		rdb = mirror.Client()
	}
	var sqlDB *sql.DB
	if journal != nil {
		sqlDB = journal.DB()
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Event bus ----
	st := state.New()
	events := bus.New(busInputSize, busSubscriberBuf)
	events.OnDrop = func(name string, kind model.EventKind) {
		m.BusDropsTotal.WithLabelValues(name).Inc()
	}
	engine.Bridge(st, events)

	hub := gateway.NewHub(log)
	hub.OnClientCount = func(n int) { m.WSClients.Set(float64(n)) }

	// ---- Trading core ----
	mgr := execution.NewManager(execution.Config{
		Instrument:       cfg.Instrument,
		Units:            cfg.Strategy.Units,
		TakeProfitOffset: cfg.Strategy.TakeProfitOffset,
		StopLossDistance: cfg.Strategy.StopLossDistance,
		SubmitTimeout:    cfg.Broker.Timeout,
	}, broker, st, events.Publish, m, log)

	gen := strategy.NewGenerator(strategy.Config{
		BreakoutPeriod:      cfg.Strategy.BreakoutPeriod,
		LagPeriod:           cfg.Strategy.LagPeriod,
		VolatilityThreshold: cfg.Strategy.VolatilityThreshold,
		CooldownSamples:     cfg.Strategy.CooldownSamples,
	}, ticks, broker, mgr, events.Publish, m, log)

	live := ingest.NewLiveIngestor(feedClient, tvwap.NewWindow(cfg.Strategy.TVWAPWindow), cfg.Strategy.VolatilityPeriod, ticks, gen, st, m, health, log)
	candles := ingest.NewCandleIngestor(feedClient, ingest.Periods{
		RSI:     cfg.Strategy.RSIPeriod,
		ATR:     cfg.Strategy.ATRPeriod,
		MAShort: cfg.Strategy.MAShort,
		MALong:  cfg.Strategy.MALong,
	}, st, m, log)
	account := portfolio.NewAccountMonitor(broker, st, m, health, log)
	history := portfolio.NewHistoryPoller(broker, st, m, log)
	pivotRefresher := pivots.NewRefresher(cfg.Instrument, broker, markethours.New(cfg.Calendar.MIC), st, m, log)

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	dispatcher := notification.NewDispatcher(notifiers, log)

	// ---- Subscribers (off the worker path) ----
	var subs sync.WaitGroup
	runSub := func(name string, fn func(context.Context, <-chan model.Event)) {
		ch := events.Subscribe(name)
		subs.Add(1)
		go func() {
			defer subs.Done()
			fn(ctx, ch)
		}()
	}
	runSub("ws_hub", hub.Run)
	runSub("notifier", dispatcher.Run)
	runSub("generator", gen.Run)
	if journal != nil {
		runSub("journal", journal.Run)
	}
	if mirror != nil {
		runSub("redis", mirror.Run)
	}
	go events.Run(ctx)
	go engine.ReportSaturation(ctx, events, m, 5*time.Second)

	// ---- Workers ----
	sup := engine.NewSupervisor(m, log)
	sup.Add("live_price", cfg.Intervals.LivePrice, live.Cycle)
	sup.Add("candles", cfg.Intervals.Candles, candles.Cycle)
	sup.Add("monitor", cfg.Intervals.Monitor, engine.MonitorCycle(st, mgr, health))
	sup.Add("account", cfg.Intervals.Account, account.Poll)
	sup.Add("history", cfg.Intervals.History, history.Poll)
	sup.Add("pivots", cfg.Intervals.Pivots, pivotRefresher.Refresh)
	sup.Start(ctx)

	// ---- Query interface ----
	deps := api.Deps{
		State:      st,
		Positions:  broker,
		Hub:        hub,
		TradingApp: api.NewCompanion("trading", cfg.Companions.TradingCmd, log),
		HistoryApp: api.NewCompanion("history", cfg.Companions.HistoryCmd, log),
		Debug:      cfg.Server.Debug,
		Log:        log,
	}
	if journal != nil {
		deps.Journal = journal
	}
	srv := &http.Server{
		Addr:              cfg.Server.APIAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", "addr", cfg.Server.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server error", "error", err)
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		log.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	srv.Shutdown(shutdownCtx)
	sup.Wait()
	subs.Wait()
	metricsSrv.Stop(shutdownCtx)

	log.Info("stopped")
	return nil
}
