package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"breakout-trader/internal/model"
	"breakout-trader/internal/ringbuf"
)

const paperTxnKeep = 500

type paperTrade struct {
	id         string
	instrument string
	units      float64
	entry      float64
	openedAt   time.Time
}

// PaperBroker is an in-process broker that fills market orders at the live
// feed's latest close. It holds every trade until CloseTrade; take-profit and
// stop-loss are left to the order manager's monitor. Daily candles are built
// from the candle feed.
type PaperBroker struct {
	feed model.Feed
	log  *slog.Logger
	now  func() time.Time

	mu       sync.Mutex
	balance  float64
	realized float64
	seq      int64
	trades   map[string]*paperTrade
	txns     *ringbuf.Ring[model.Transaction]
}

// NewPaperBroker starts with the given account balance.
func NewPaperBroker(feed model.Feed, balance float64, log *slog.Logger) *PaperBroker {
	if log == nil {
		log = slog.Default()
	}
	return &PaperBroker{
		feed:    feed,
		log:     log.With("component", "paper_broker"),
		now:     time.Now,
		balance: balance,
		trades:  make(map[string]*paperTrade),
		txns:    ringbuf.New[model.Transaction](64),
	}
}

func (p *PaperBroker) price(ctx context.Context) (float64, error) {
	s, err := p.feed.FetchLivePrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("paper price: %w", err)
	}
	return s.Close, nil
}

// AccountSummary marks open trades to the live price.
func (p *PaperBroker) AccountSummary(ctx context.Context) (model.AccountSnapshot, error) {
	px, err := p.price(ctx)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var upl float64
	for _, t := range p.trades {
		upl += (px - t.entry) * t.units
	}
	return model.AccountSnapshot{
		Balance:      p.balance,
		UnrealizedPL: upl,
		RealizedPL:   p.realized,
		UpdatedAt:    p.now(),
	}, nil
}

// OpenPositions lists open trades, oldest first.
func (p *PaperBroker) OpenPositions(ctx context.Context) ([]model.OpenPosition, error) {
	p.mu.Lock()
	n := len(p.trades)
	p.mu.Unlock()
	if n == 0 {
		return nil, nil
	}

	px, err := p.price(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.OpenPosition, 0, len(p.trades))
	for _, t := range p.trades {
		out = append(out, model.OpenPosition{
			TradeID:      t.id,
			Instrument:   t.instrument,
			CurrentUnits: t.units,
			Price:        t.entry,
			UnrealizedPL: (px - t.entry) * t.units,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

// SubmitOrder fills immediately at the live price.
func (p *PaperBroker) SubmitOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	if req.Units == 0 {
		return "", fmt.Errorf("%w: zero units", model.ErrBrokerRejected)
	}
	px, err := p.price(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrBrokerRejected, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := strconv.FormatInt(p.seq, 10)
	p.trades[id] = &paperTrade{
		id:         id,
		instrument: req.Instrument,
		units:      float64(req.Units),
		entry:      px,
		openedAt:   p.now(),
	}
	units := float64(req.Units)
	p.record(model.Transaction{Type: "ORDER_FILL", OrderID: id, Units: &units, Price: &px})
	p.log.Info("paper fill", "id", id, "units", req.Units, "price", px, "take_profit", req.TakeProfit)
	return id, nil
}

// CloseTrade realises P/L at the live price. Unknown ids report AlreadyGone.
func (p *PaperBroker) CloseTrade(ctx context.Context, tradeID string) (model.ClosedTrade, error) {
	p.mu.Lock()
	_, ok := p.trades[tradeID]
	p.mu.Unlock()
	if !ok {
		return model.ClosedTrade{TradeID: tradeID, AlreadyGone: true, ClosedAt: p.now()}, nil
	}

	px, err := p.price(ctx)
	if err != nil {
		return model.ClosedTrade{}, fmt.Errorf("%w: %v", model.ErrBrokerRejected, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trades[tradeID]
	if !ok {
		return model.ClosedTrade{TradeID: tradeID, AlreadyGone: true, ClosedAt: p.now()}, nil
	}
	delete(p.trades, tradeID)
	pl := (px - t.entry) * t.units
	p.balance += pl
	p.realized += pl

	units := -t.units
	p.record(model.Transaction{Type: "ORDER_FILL", OrderID: tradeID, Units: &units, Price: &px, PL: &pl})
	return model.ClosedTrade{TradeID: tradeID, Price: px, RealizedPL: pl, ClosedAt: p.now()}, nil
}

// record appends a transaction; caller holds p.mu.
func (p *PaperBroker) record(t model.Transaction) {
	p.seq++
	t.ID = strconv.FormatInt(p.seq, 10)
	p.txns.Push(t)
	for p.txns.Len() > paperTxnKeep {
		p.txns.Pop()
	}
}

// RecentTransactions returns up to count transactions, oldest first.
func (p *PaperBroker) RecentTransactions(_ context.Context, count int) ([]model.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := p.txns.Slice()
	if count > 0 && len(all) > count {
		all = all[len(all)-count:]
	}
	return all, nil
}

// HistoricalCandles aggregates the candle feed into days within [from, to),
// split at midnight in from's location.
// Only daily granularity is supported.
func (p *PaperBroker) HistoricalCandles(ctx context.Context, _ string, from, to time.Time, granularity string) ([]model.DailyCandle, error) {
	if granularity != "D" {
		return nil, fmt.Errorf("%w: paper broker supports granularity D only", model.ErrBrokerRejected)
	}
	rows, err := p.feed.FetchCandles(ctx)
	if err != nil {
		return nil, fmt.Errorf("paper candles: %w", err)
	}
	return DailyFromRows(rows, from, to), nil
}

// DailyFromRows groups candle rows by date in from's location. A day is
// complete once the rows reach its closing midnight. Rows must be in time
// order.
func DailyFromRows(rows []model.CandleRow, from, to time.Time) []model.DailyCandle {
	if len(rows) == 0 {
		return nil
	}
	loc := from.Location()
	last := rows[len(rows)-1].Time
	var out []model.DailyCandle
	for _, r := range rows {
		if r.Time.Before(from) || !r.Time.Before(to) {
			continue
		}
		t := r.Time.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(out); n > 0 && out[n-1].Time.Equal(day) {
			c := &out[n-1]
			if r.High > c.High {
				c.High = r.High
			}
			if r.Low < c.Low {
				c.Low = r.Low
			}
			c.Close = r.Close
			continue
		}
		out = append(out, model.DailyCandle{
			Time: day, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Complete: !last.Before(day.AddDate(0, 0, 1)),
		})
	}
	return out
}
