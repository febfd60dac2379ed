package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	SamplesAccepted  prometheus.Counter
	SamplesDuplicate prometheus.Counter
	SamplesStale     prometheus.Counter
	FeedFailures     *prometheus.CounterVec // labels: feed, reason
	CandleRows       prometheus.Gauge
	CycleDur         *prometheus.HistogramVec // labels: worker
	CycleSkipped     *prometheus.CounterVec   // labels: worker

	LivePrice  prometheus.Gauge
	TVWAP      prometheus.Gauge
	Volatility prometheus.Gauge
	RSI        prometheus.Gauge

	// Signal generator
	BandRecomputes    prometheus.Counter
	VolatilityGated   prometheus.Counter
	SignalsTotal      *prometheus.CounterVec // labels: side
	SignalsSuppressed *prometheus.CounterVec // labels: reason

	// Order lifecycle
	OrderState       prometheus.Gauge       // 0=idle, 1=opening, 2=open, 3=closing
	OrderTransitions *prometheus.CounterVec // labels: to
	BrokerErrors     *prometheus.CounterVec // labels: op
	BrokerLatency    *prometheus.HistogramVec

	// Backpressure
	BusDropsTotal        *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Redis mirror circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	WSClients prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_samples_accepted_total",
			Help: "Live-price samples accepted into the tick store",
		}),
		SamplesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_samples_duplicate_total",
			Help: "Live-price samples skipped for repeating the last timestamp",
		}),
		SamplesStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_samples_stale_total",
			Help: "Live-price samples older than the newest TVWAP window entry",
		}),
		FeedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_feed_failures_total",
			Help: "Feed fetch failures by feed and reason",
		}, []string{"feed", "reason"}),
		CandleRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_candle_rows",
			Help: "Rows in the current analytics snapshot",
		}),
		CycleDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Worker cycle latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"worker"}),
		CycleSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cycles_skipped_total",
			Help: "Worker cycles that ended early on a collaborator failure",
		}, []string{"worker"}),

		LivePrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_live_price",
			Help: "Latest accepted live price",
		}),
		TVWAP: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_tvwap",
			Help: "Current time-weighted average price",
		}),
		Volatility: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_volatility",
			Help: "Std dev of returns over the TVWAP window",
		}),
		RSI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_rsi",
			Help: "RSI of the latest candle snapshot",
		}),

		BandRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_breakout_recomputes_total",
			Help: "Breakout band recomputations",
		}),
		VolatilityGated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_volatility_gated_total",
			Help: "Evaluation cycles aborted by the volatility gate",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals emitted by side",
		}, []string{"side"}),
		SignalsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_suppressed_total",
			Help: "Signals not forwarded, by reason",
		}, []string{"reason"}),

		OrderState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_order_state",
			Help: "Order lifecycle state (0=idle, 1=opening, 2=open, 3=closing)",
		}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_order_transitions_total",
			Help: "Order lifecycle transitions by target state",
		}, []string{"to"}),
		BrokerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_broker_errors_total",
			Help: "Broker call failures by operation",
		}, []string{"op"}),
		BrokerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_broker_request_duration_seconds",
			Help:    "Broker call latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		BusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_bus_drops_total",
			Help: "Events dropped by the bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_buffered_writes_total",
			Help: "State writes held back while the Redis circuit was open",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.SamplesAccepted,
		m.SamplesDuplicate,
		m.SamplesStale,
		m.FeedFailures,
		m.CandleRows,
		m.CycleDur,
		m.CycleSkipped,
		m.LivePrice,
		m.TVWAP,
		m.Volatility,
		m.RSI,
		m.BandRecomputes,
		m.VolatilityGated,
		m.SignalsTotal,
		m.SignalsSuppressed,
		m.OrderState,
		m.OrderTransitions,
		m.BrokerErrors,
		m.BrokerLatency,
		m.BusDropsTotal,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedOK         bool      `json:"feed_ok"`
	BrokerOK       bool      `json:"broker_ok"`
	LastSampleTime time.Time `json:"last_sample_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	OrderState     string    `json:"order_state"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt:  time.Now(),
		OrderState: "idle",
	}
}

func (h *HealthStatus) SetFeedOK(v bool) {
	h.mu.Lock()
	h.FeedOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetBrokerOK(v bool) {
	h.mu.Lock()
	h.BrokerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetOrderState(s string) {
	h.mu.Lock()
	h.OrderState = s
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	if !h.FeedOK || !h.BrokerOK || redisDown || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.FeedOK && !h.BrokerOK {
		overallStatus = "unhealthy"
	}

	sampleAge := ""
	lastSample := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = time.Since(h.LastSampleTime).Round(time.Millisecond).String()
		lastSample = h.LastSampleTime.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedOK          bool    `json:"feed_ok"`
		BrokerOK        bool    `json:"broker_ok"`
		LastSampleTime  string  `json:"last_sample_time"`
		SampleAge       string  `json:"sample_age"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		OrderState      string  `json:"order_state"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedOK:          h.FeedOK,
		BrokerOK:        h.BrokerOK,
		LastSampleTime:  lastSample,
		SampleAge:       sampleAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		OrderState:      h.OrderState,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server backed by gatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
