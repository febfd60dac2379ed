// cmd/feedsim serves simulated CSV snapshots so the engine can run end to
// end without a market data provider. The engine's default feed URLs point
// at the two listeners below.
//
//	:8001 GET /resampled_data.csv  timestamp,open,high,low,close (one row)
//	:8000 GET /resampled_data.csv  Time,Open,High,Low,Close,Volume
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"breakout-trader/internal/logger"
)

type options struct {
	liveAddr   string
	candleAddr string
	interval   time.Duration
	period     time.Duration
	start      float64
	step       float64
	bars       int
	seed       int64
	level      string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "feedsim",
		Short:        "Serve random-walk live price and candle CSV snapshots",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.liveAddr, "live-addr", ":8001", "live snapshot listen address")
	f.StringVar(&opts.candleAddr, "candle-addr", ":8000", "candle snapshot listen address")
	f.DurationVar(&opts.interval, "interval", time.Second, "price update interval")
	f.DurationVar(&opts.period, "candle-period", time.Minute, "candle bar period")
	f.Float64Var(&opts.start, "start-price", 2000, "starting price")
	f.Float64Var(&opts.step, "step", 0.0005, "max fractional move per sub-step")
	f.IntVar(&opts.bars, "bars", 500, "candle bars kept")
	f.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "random seed")
	f.StringVar(&opts.level, "log-level", "info", "log level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	log := logger.Init("feedsim", logger.ParseLevel(opts.level))
	if opts.interval <= 0 || opts.period <= 0 || opts.bars <= 0 {
		return errors.New("interval, candle-period and bars must be positive")
	}

	sim := newSimulator(opts.start, opts.step, opts.period, opts.bars, opts.seed)
	sim.seed(time.Now(), opts.bars)
	sim.tick(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				sim.tick(now)
			}
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	servers := []*http.Server{
		newServer(opts.liveAddr, sim.writeLive),
		newServer(opts.candleAddr, sim.writeCandles),
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info("feedsim listening", "addr", srv.Addr, "interval", opts.interval, "candle_period", opts.period)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", "addr", srv.Addr, "error", err)
				cancel()
			}
		}(srv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	var errs []error
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

func newServer(addr string, write func(io.Writer) error) *http.Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/resampled_data.csv", csvHandler(write))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "feedsim"})
	})
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

func csvHandler(write func(io.Writer) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := write(&buf); err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
	}
}
