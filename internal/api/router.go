// Package api serves the read-mostly HTTP query interface over the shared
// state, plus the companion lifecycle endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"breakout-trader/internal/gateway"
	"breakout-trader/internal/indicator"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
	sqlitestore "breakout-trader/internal/store/sqlite"
)

const recentCloses = 5

// PositionLister is the broker surface /active_trades passes through.
type PositionLister interface {
	OpenPositions(ctx context.Context) ([]model.OpenPosition, error)
}

// OrderJournal lists journaled orders, newest first.
type OrderJournal interface {
	Orders(ctx context.Context, limit int) ([]sqlitestore.OrderRecord, error)
}

// Deps are the collaborators the router reads from. Journal and Hub are
// optional.
type Deps struct {
	State      *state.Store
	Positions  PositionLister
	Journal    OrderJournal
	Hub        *gateway.Hub
	TradingApp *Companion
	HistoryApp *Companion
	Debug      bool
	Log        *slog.Logger
}

type server struct {
	Deps
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	if !d.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	d.Log = d.Log.With("component", "api")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log), cors())

	s := &server{Deps: d}
	r.GET("/candles", s.candles)
	r.GET("/analytics", s.analytics)
	r.GET("/live_price", s.livePrice)
	r.GET("/pivots", s.pivots)
	r.GET("/balance", s.balance)
	r.GET("/unrealised", s.unrealised)
	r.GET("/profit", s.profit)
	r.GET("/volatility", s.volatility)
	r.GET("/active_trades", s.activeTrades)
	r.GET("/history", s.history)
	r.GET("/order", s.order)
	r.GET("/orders", s.orders)

	r.POST("/launch-trading-app", s.launch(d.TradingApp, "Trading app"))
	r.POST("/trading-app-closed", s.closed(d.TradingApp, "Trading app"))
	r.POST("/launch-history-app", s.launch(d.HistoryApp, "History app"))
	r.POST("/history-app-closed", s.closed(d.HistoryApp, "History app"))

	if d.Hub != nil {
		gateway.RegisterRoutes(r, d.Hub)
	}
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *server) candles(c *gin.Context) {
	a, ok := s.State.Analytics.Get()
	if !ok {
		c.JSON(http.StatusOK, []model.CandleRow{})
		return
	}
	c.JSON(http.StatusOK, a.Rows)
}

func (s *server) analytics(c *gin.Context) {
	a, ok := s.State.Analytics.Get()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analytics not computed yet."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rsi":        a.RSI,
		"atr":        a.ATR,
		"ma_50":      a.MAShort,
		"ma_200":     a.MALong,
		"rows":       len(a.Rows),
		"updated_at": a.UpdatedAt,
	})
}

func (s *server) livePrice(c *gin.Context) {
	if p, ok := s.State.LivePrice.Get(); ok {
		c.JSON(http.StatusOK, gin.H{"live_price": p})
		return
	}
	c.JSON(http.StatusOK, gin.H{"live_price": nil})
}

func (s *server) pivots(c *gin.Context) {
	p, ok := s.State.Pivots.Get()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No data found for the specified date."})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *server) account(c *gin.Context) (model.AccountSnapshot, bool) {
	a, ok := s.State.Account.Get()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Account not polled yet."})
	}
	return a, ok
}

func (s *server) balance(c *gin.Context) {
	if a, ok := s.account(c); ok {
		c.JSON(http.StatusOK, a)
	}
}

func (s *server) unrealised(c *gin.Context) {
	if a, ok := s.account(c); ok {
		c.JSON(http.StatusOK, gin.H{"unrealizedPL": a.UnrealizedPL})
	}
}

func (s *server) profit(c *gin.Context) {
	if a, ok := s.account(c); ok {
		c.JSON(http.StatusOK, gin.H{"pl": a.RealizedPL})
	}
}

// volatility echoes the last closes of the candle cache so callers can see
// the data move between reads.
func (s *server) volatility(c *gin.Context) {
	v, ok := s.State.Volatility.Get()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Volatility not calculated yet."})
		return
	}
	closes := []float64{}
	if a, ok := s.State.Analytics.Get(); ok {
		rows := a.Rows
		if len(rows) > recentCloses {
			rows = rows[len(rows)-recentCloses:]
		}
		closes = model.Closes(rows)
	}
	c.JSON(http.StatusOK, gin.H{
		"volatility":    v.Value,
		"t_vwap":        indicator.Round(v.TVWAP, 4),
		"last_updated":  v.UpdatedAt.Format("2006-01-02 15:04:05"),
		"recent_closes": closes,
	})
}

func (s *server) activeTrades(c *gin.Context) {
	positions, err := s.Positions.OpenPositions(c.Request.Context())
	if err != nil {
		s.Log.Warn("active trades lookup failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"data": nil, "status": "Error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": positions, "status": "Success"})
}

func (s *server) history(c *gin.Context) {
	h, _ := s.State.History.Get()
	if h == nil {
		h = []model.TradeHistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "Success", "data": h})
}

func (s *server) order(c *gin.Context) {
	v, ok := s.State.Order.Get()
	if !ok {
		v = state.OrderView{State: model.OrderIdle.String()}
	}
	c.JSON(http.StatusOK, v)
}

func (s *server) orders(c *gin.Context) {
	if s.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order journal disabled"})
		return
	}
	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}
	recs, err := s.Journal.Orders(c.Request.Context(), limit)
	if err != nil {
		s.Log.Warn("journal read failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}

func (s *server) launch(app *Companion, label string) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := app.Launch()
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			c.JSON(http.StatusBadRequest, gin.H{"error": label + " is already running."})
		case err != nil:
			s.Log.Error("companion launch failed", "app", label, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"message": label + " launched successfully!"})
		}
	}
}

func (s *server) closed(app *Companion, label string) gin.HandlerFunc {
	return func(c *gin.Context) {
		app.Closed()
		c.JSON(http.StatusOK, gin.H{"message": label + " status updated."})
	}
}
