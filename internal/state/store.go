// Package state holds the latest computed values the query interface serves.
//
// Each key lives in its own Cell backed by an atomic pointer: a writer swaps
// the whole value in, readers load whatever is current and never block.
// There is no cross-key snapshot; two keys read back to back may come from
// different worker cycles.
package state

import (
	"sync/atomic"
	"time"

	"breakout-trader/internal/model"
)

// Keys published with every update.
const (
	KeyAnalytics  = "analytics"
	KeyLivePrice  = "live_price"
	KeyTVWAP      = "t_vwap"
	KeyVolatility = "volatility"
	KeyAccount    = "account"
	KeyPivots     = "pivots"
	KeyHistory    = "history"
	KeyOrder      = "order"
)

// UpdateFunc observes every Set and Clear. v is nil on Clear.
type UpdateFunc func(key string, v any, at time.Time)

type entry[T any] struct {
	v  T
	at time.Time
}

// Cell is a single-writer, many-reader slot for one key.
type Cell[T any] struct {
	key   string
	p     atomic.Pointer[entry[T]]
	store *Store
}

// Set replaces the value wholesale.
func (c *Cell[T]) Set(v T) {
	now := time.Now()
	c.p.Store(&entry[T]{v: v, at: now})
	c.store.notify(c.key, v, now)
}

// Clear marks the value as absent.
func (c *Cell[T]) Clear() {
	if c.p.Swap(nil) != nil {
		c.store.notify(c.key, nil, time.Now())
	}
}

// Get returns the current value and whether one has been set.
func (c *Cell[T]) Get() (T, bool) {
	e := c.p.Load()
	if e == nil {
		var zero T
		return zero, false
	}
	return e.v, true
}

// UpdatedAt returns when the current value was set.
func (c *Cell[T]) UpdatedAt() (time.Time, bool) {
	e := c.p.Load()
	if e == nil {
		return time.Time{}, false
	}
	return e.at, true
}

// Store groups the cells. Each worker owns the cells it writes.
type Store struct {
	Analytics  Cell[model.Analytics]
	LivePrice  Cell[float64]
	TVWAP      Cell[float64]
	Volatility Cell[model.VolatilityReading]
	Account    Cell[model.AccountSnapshot]
	Pivots     Cell[model.Pivots]
	History    Cell[[]model.TradeHistoryEntry]
	Order      Cell[OrderView]

	onUpdate atomic.Pointer[UpdateFunc]
}

// OrderView is the read-only projection of the order manager.
type OrderView struct {
	State string             `json:"state"`
	Order *model.ActiveOrder `json:"order,omitempty"`
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.Analytics = Cell[model.Analytics]{key: KeyAnalytics, store: s}
	s.LivePrice = Cell[float64]{key: KeyLivePrice, store: s}
	s.TVWAP = Cell[float64]{key: KeyTVWAP, store: s}
	s.Volatility = Cell[model.VolatilityReading]{key: KeyVolatility, store: s}
	s.Account = Cell[model.AccountSnapshot]{key: KeyAccount, store: s}
	s.Pivots = Cell[model.Pivots]{key: KeyPivots, store: s}
	s.History = Cell[[]model.TradeHistoryEntry]{key: KeyHistory, store: s}
	s.Order = Cell[OrderView]{key: KeyOrder, store: s}
	return s
}

// OnUpdate installs fn as the update observer. fn runs on the writer's
// goroutine and must not block.
func (s *Store) OnUpdate(fn UpdateFunc) {
	s.onUpdate.Store(&fn)
}

func (s *Store) notify(key string, v any, at time.Time) {
	if fn := s.onUpdate.Load(); fn != nil && *fn != nil {
		(*fn)(key, v, at)
	}
}
