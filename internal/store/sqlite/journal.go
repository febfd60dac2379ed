// Package sqlite keeps a durable journal of the orders the engine placed and
// of the lifecycle events around them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"breakout-trader/internal/model"
)

const (
	defaultBatchSize  = 50
	defaultFlushDelay = 200 * time.Millisecond
)

// OrderRecord is one journaled order. Close fields are nil while the order
// is still open.
type OrderRecord struct {
	ID          string     `json:"id"`
	Side        model.Side `json:"side"`
	Units       int64      `json:"units"`
	EntryPrice  float64    `json:"entry_price"`
	TakeProfit  float64    `json:"take_profit"`
	StopLoss    float64    `json:"stop_loss"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	ClosePrice  *float64   `json:"close_price,omitempty"`
	RealizedPL  *float64   `json:"realized_pl,omitempty"`
	CloseReason *string    `json:"close_reason,omitempty"`
}

// Journal is a single-writer SQLite store.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the journal at path with WAL mode.
func Open(path string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With("component", "journal")
	log.Info("opened journal", "path", path)
	return &Journal{db: db, log: log}, nil
}

// DB returns the underlying handle for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id           TEXT    PRIMARY KEY,
			side         TEXT    NOT NULL,
			units        INTEGER NOT NULL,
			entry_price  REAL    NOT NULL,
			take_profit  REAL    NOT NULL,
			stop_loss    REAL    NOT NULL,
			opened_at    INTEGER NOT NULL,
			closed_at    INTEGER,
			close_price  REAL,
			realized_pl  REAL,
			close_reason TEXT
		);

		CREATE TABLE IF NOT EXISTS order_events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			kind    TEXT    NOT NULL,
			data    TEXT    NOT NULL,
			ts      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_orders_opened ON orders(opened_at);
	`)
	return err
}

// Run journals order lifecycle events from ch in batched transactions.
// Flushes every defaultBatchSize events or defaultFlushDelay, whichever
// comes first. Blocks until ctx is cancelled or ch is closed.
func (j *Journal) Run(ctx context.Context, ch <-chan model.Event) {
	batch := make([]model.Event, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.writeBatch(batch); err != nil {
			j.log.Error("batch write failed", "events", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev, ok := <-ch:
			if !ok {
				flush()
				return
			}
			switch ev.Kind {
			case model.EventOrderOpened, model.EventOrderClosed, model.EventOrderFailed, model.EventSignal:
				batch = append(batch, ev)
			default:
				continue
			}
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (j *Journal) writeBatch(events []model.Event) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range events {
		if _, err := tx.Exec(`INSERT INTO order_events (kind, data, ts) VALUES (?, ?, ?)`,
			string(ev.Kind), string(ev.JSON()), ev.TS.UnixMilli()); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		oe, ok := ev.Payload.(model.OrderEvent)
		if !ok {
			continue
		}
		switch ev.Kind {
		case model.EventOrderOpened:
			err = recordOpen(tx, oe.Order)
		case model.EventOrderClosed:
			err = recordClose(tx, oe, ev.TS)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func recordOpen(x execer, o model.ActiveOrder) error {
	_, err := x.Exec(`
		INSERT INTO orders (id, side, units, entry_price, take_profit, stop_loss, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		o.ID, string(o.Side), o.Units, o.EntryPrice, o.TakeProfitPrice, o.StopLossPrice, o.OpenedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record open %s: %w", o.ID, err)
	}
	return nil
}

func recordClose(x execer, oe model.OrderEvent, at time.Time) error {
	_, err := x.Exec(`
		UPDATE orders SET closed_at = ?, close_price = ?, realized_pl = ?, close_reason = ?
		WHERE id = ? AND closed_at IS NULL`,
		at.UnixMilli(), oe.Price, oe.PL, oe.Reason, oe.Order.ID)
	if err != nil {
		return fmt.Errorf("record close %s: %w", oe.Order.ID, err)
	}
	return nil
}

// RecordOpen journals an opened order outside the event loop.
func (j *Journal) RecordOpen(o model.ActiveOrder) error { return recordOpen(j.db, o) }

// RecordClose journals an order close outside the event loop.
func (j *Journal) RecordClose(oe model.OrderEvent, at time.Time) error {
	return recordClose(j.db, oe, at)
}

// Orders returns up to limit orders, newest first.
func (j *Journal) Orders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, side, units, entry_price, take_profit, stop_loss, opened_at,
		       closed_at, close_price, realized_pl, close_reason
		FROM orders ORDER BY opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var (
			r        OrderRecord
			side     string
			openedMs int64
			closedMs sql.NullInt64
			price    sql.NullFloat64
			pl       sql.NullFloat64
			reason   sql.NullString
		)
		if err := rows.Scan(&r.ID, &side, &r.Units, &r.EntryPrice, &r.TakeProfit, &r.StopLoss,
			&openedMs, &closedMs, &price, &pl, &reason); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		r.Side = model.Side(side)
		r.OpenedAt = time.UnixMilli(openedMs).UTC()
		if closedMs.Valid {
			t := time.UnixMilli(closedMs.Int64).UTC()
			r.ClosedAt = &t
		}
		if price.Valid {
			r.ClosePrice = &price.Float64
		}
		if pl.Valid {
			r.RealizedPL = &pl.Float64
		}
		if reason.Valid {
			r.CloseReason = &reason.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }
