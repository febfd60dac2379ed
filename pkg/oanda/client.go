// Package oanda is a small client for the OANDA v20 REST API covering the
// calls the breakout engine makes: account summary, open trades, market
// orders with take-profit and stop-loss on fill, trade close, daily candles
// and recent transactions.
//
// Usage example:
//
//	c := oanda.New(oanda.Config{AccountID: "101-001-123-001", Token: token})
//	acct, err := c.AccountSummary(ctx)
//	if err != nil { log.Fatal(err) }
//	fmt.Println("balance:", acct.Balance)
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"breakout-trader/internal/model"
)

// ---- Config & client ----

type Config struct {
	AccountID   string
	Token       string
	Environment string // "practice" (default) or "live"
	BaseURL     string // overrides Environment when set

	Timeout           time.Duration // default: 10s
	RequestsPerSecond float64       // default: 10
	PricePrecision    int32         // default: 3 (XAU_USD)
	Tag               string        // clientExtensions tag, default: breakout
	Debug             bool
	Logger            *slog.Logger
}

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"
)

var routes = map[string]string{
	"account.summary":    "/v3/accounts/%s/summary",
	"account.openTrades": "/v3/accounts/%s/openTrades",
	"order.place":        "/v3/accounts/%s/orders",
	"trade.close":        "/v3/accounts/%s/trades/%s/close",
	"transactions.since": "/v3/accounts/%s/transactions/sinceid",
	"instrument.candles": "/v3/instruments/%s/candles",
}

// Client implements model.Broker against the v20 REST API.
type Client struct {
	accountID string
	token     string
	rootURL   string
	precision int32
	tag       string
	debug     bool

	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

var _ model.Broker = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.PricePrecision <= 0 {
		cfg.PricePrecision = 3
	}
	if cfg.Tag == "" {
		cfg.Tag = "breakout"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	root := cfg.BaseURL
	if root == "" {
		root = PracticeURL
		if cfg.Environment == "live" {
			root = LiveURL
		}
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		accountID:  cfg.AccountID,
		token:      cfg.Token,
		rootURL:    strings.TrimRight(root, "/"),
		precision:  cfg.PricePrecision,
		tag:        cfg.Tag,
		debug:      cfg.Debug,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		log:        cfg.Logger.With("component", "oanda"),
	}
}

// APIError is a non-2xx response from the v20 API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("oanda: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("oanda: %d: %s", e.Status, e.Message)
}

// Unwrap maps 404 to model.ErrTradeNotFound and other 4xx to
// model.ErrBrokerRejected so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return model.ErrTradeNotFound
	case e.Status >= 400 && e.Status < 500:
		return model.ErrBrokerRejected
	}
	return nil
}

// ---- Helpers ----

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("Accept-Datetime-Format", "RFC3339")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) buildURL(route string, args ...any) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(a))
	}
	return c.rootURL + fmt.Sprintf(uri, escaped...), nil
}

// doRequest sends one paced request and decodes a 2xx body into out.
func (c *Client) doRequest(ctx context.Context, method, reqURL string, query url.Values, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header = c.requestHeaders()

	if c.debug {
		c.log.Debug("request", "method", method, "url", reqURL)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("oanda %s %s: %w", method, reqURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if c.debug {
		c.log.Debug("response", "status", resp.StatusCode, "duration", time.Since(start), "body", string(raw))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(raw, &e) == nil {
			apiErr.Code = e.ErrorCode
			apiErr.Message = e.ErrorMessage
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("couldn't parse JSON response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, reqURL string, query url.Values, out any) error {
	return c.doRequest(ctx, http.MethodGet, reqURL, query, nil, out)
}

func (c *Client) post(ctx context.Context, reqURL string, payload, out any) error {
	return c.doRequest(ctx, http.MethodPost, reqURL, nil, payload, out)
}

func (c *Client) put(ctx context.Context, reqURL string, payload, out any) error {
	return c.doRequest(ctx, http.MethodPut, reqURL, nil, payload, out)
}

func (c *Client) formatPrice(p float64) string {
	return decimal.NewFromFloat(p).StringFixed(c.precision)
}

func toFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

// ---- Account ----

type accountSummary struct {
	Account struct {
		Balance           decimal.Decimal `json:"balance"`
		UnrealizedPL      decimal.Decimal `json:"unrealizedPL"`
		PL                decimal.Decimal `json:"pl"`
		LastTransactionID string          `json:"lastTransactionID"`
	} `json:"account"`
}

func (c *Client) summary(ctx context.Context) (accountSummary, error) {
	var out accountSummary
	u, err := c.buildURL("account.summary", c.accountID)
	if err != nil {
		return out, err
	}
	err = c.get(ctx, u, nil, &out)
	return out, err
}

func (c *Client) AccountSummary(ctx context.Context) (model.AccountSnapshot, error) {
	s, err := c.summary(ctx)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	return model.AccountSnapshot{
		Balance:      s.Account.Balance.InexactFloat64(),
		UnrealizedPL: s.Account.UnrealizedPL.InexactFloat64(),
		RealizedPL:   s.Account.PL.InexactFloat64(),
		UpdatedAt:    time.Now(),
	}, nil
}

func (c *Client) OpenPositions(ctx context.Context) ([]model.OpenPosition, error) {
	u, err := c.buildURL("account.openTrades", c.accountID)
	if err != nil {
		return nil, err
	}
	var out struct {
		Trades []struct {
			ID           string          `json:"id"`
			Instrument   string          `json:"instrument"`
			Price        decimal.Decimal `json:"price"`
			CurrentUnits decimal.Decimal `json:"currentUnits"`
			UnrealizedPL decimal.Decimal `json:"unrealizedPL"`
		} `json:"trades"`
	}
	if err := c.get(ctx, u, nil, &out); err != nil {
		return nil, err
	}
	positions := make([]model.OpenPosition, 0, len(out.Trades))
	for _, t := range out.Trades {
		positions = append(positions, model.OpenPosition{
			TradeID:      t.ID,
			Instrument:   t.Instrument,
			CurrentUnits: t.CurrentUnits.InexactFloat64(),
			Price:        t.Price.InexactFloat64(),
			UnrealizedPL: t.UnrealizedPL.InexactFloat64(),
		})
	}
	return positions, nil
}

// ---- Orders & trades ----

type orderRequest struct {
	Order marketOrder `json:"order"`
}

type marketOrder struct {
	Type             string           `json:"type"`
	Instrument       string           `json:"instrument"`
	Units            string           `json:"units"`
	TimeInForce      string           `json:"timeInForce"`
	PositionFill     string           `json:"positionFill"`
	TakeProfitOnFill priceDetails     `json:"takeProfitOnFill"`
	StopLossOnFill   distanceDetails  `json:"stopLossOnFill"`
	ClientExtensions clientExtensions `json:"clientExtensions"`
}

type priceDetails struct {
	Price string `json:"price"`
}

type distanceDetails struct {
	Distance string `json:"distance"`
}

type clientExtensions struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

type orderResponse struct {
	OrderFillTransaction *struct {
		ID          string `json:"id"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

// SubmitOrder places a fill-or-kill market order and returns the opened
// trade id. A cancelled fill is reported as model.ErrBrokerRejected.
func (c *Client) SubmitOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	if req.Units == 0 {
		return "", fmt.Errorf("%w: zero units", model.ErrBrokerRejected)
	}
	u, err := c.buildURL("order.place", c.accountID)
	if err != nil {
		return "", err
	}
	payload := orderRequest{Order: marketOrder{
		Type:             "MARKET",
		Instrument:       req.Instrument,
		Units:            strconv.FormatInt(req.Units, 10),
		TimeInForce:      "FOK",
		PositionFill:     "DEFAULT",
		TakeProfitOnFill: priceDetails{Price: c.formatPrice(req.TakeProfit)},
		StopLossOnFill:   distanceDetails{Distance: c.formatPrice(req.StopLossDistance)},
		ClientExtensions: clientExtensions{ID: uuid.NewString(), Tag: c.tag},
	}}

	var out orderResponse
	if err := c.post(ctx, u, payload, &out); err != nil {
		return "", err
	}
	if out.OrderFillTransaction != nil && out.OrderFillTransaction.TradeOpened != nil {
		return out.OrderFillTransaction.TradeOpened.TradeID, nil
	}
	reason := "no trade opened"
	if out.OrderCancelTransaction != nil && out.OrderCancelTransaction.Reason != "" {
		reason = out.OrderCancelTransaction.Reason
	}
	return "", fmt.Errorf("%w: %s", model.ErrBrokerRejected, reason)
}

// CloseTrade closes the whole trade. A trade the broker no longer knows is
// reported as AlreadyGone.
func (c *Client) CloseTrade(ctx context.Context, tradeID string) (model.ClosedTrade, error) {
	u, err := c.buildURL("trade.close", c.accountID, tradeID)
	if err != nil {
		return model.ClosedTrade{}, err
	}
	var out struct {
		OrderFillTransaction *struct {
			Price decimal.Decimal `json:"price"`
			PL    decimal.Decimal `json:"pl"`
			Time  time.Time       `json:"time"`
		} `json:"orderFillTransaction"`
	}
	err = c.put(ctx, u, map[string]string{"units": "ALL"}, &out)
	if errors.Is(err, model.ErrTradeNotFound) {
		c.log.Info("trade already closed at broker", "trade_id", tradeID)
		return model.ClosedTrade{TradeID: tradeID, ClosedAt: time.Now(), AlreadyGone: true}, nil
	}
	if err != nil {
		return model.ClosedTrade{}, err
	}
	ct := model.ClosedTrade{TradeID: tradeID, ClosedAt: time.Now()}
	if f := out.OrderFillTransaction; f != nil {
		ct.Price = f.Price.InexactFloat64()
		ct.RealizedPL = f.PL.InexactFloat64()
		if !f.Time.IsZero() {
			ct.ClosedAt = f.Time
		}
	}
	return ct, nil
}

// ---- Market data ----

// HistoricalCandles fetches bid candles in [from, to). Daily candles are
// aligned to midnight in from's location.
func (c *Client) HistoricalCandles(ctx context.Context, instrument string, from, to time.Time, granularity string) ([]model.DailyCandle, error) {
	u, err := c.buildURL("instrument.candles", instrument)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("price", "B")
	q.Set("granularity", granularity)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	if granularity == "D" {
		// Daily candles otherwise roll at 17:00 New York.
		q.Set("dailyAlignment", "0")
		q.Set("alignmentTimezone", from.Location().String())
	}

	var out struct {
		Candles []struct {
			Time     time.Time `json:"time"`
			Complete bool      `json:"complete"`
			Bid      struct {
				O decimal.Decimal `json:"o"`
				H decimal.Decimal `json:"h"`
				L decimal.Decimal `json:"l"`
				C decimal.Decimal `json:"c"`
			} `json:"bid"`
		} `json:"candles"`
	}
	if err := c.get(ctx, u, q, &out); err != nil {
		return nil, err
	}
	candles := make([]model.DailyCandle, 0, len(out.Candles))
	for _, k := range out.Candles {
		candles = append(candles, model.DailyCandle{
			Time:     k.Time,
			Open:     k.Bid.O.InexactFloat64(),
			High:     k.Bid.H.InexactFloat64(),
			Low:      k.Bid.L.InexactFloat64(),
			Close:    k.Bid.C.InexactFloat64(),
			Complete: k.Complete,
		})
	}
	return candles, nil
}

// ---- Transactions ----

// RecentTransactions reads the last transaction id from the account summary
// and fetches everything after id-count.
func (c *Client) RecentTransactions(ctx context.Context, count int) ([]model.Transaction, error) {
	s, err := c.summary(ctx)
	if err != nil {
		return nil, err
	}
	last, err := strconv.ParseInt(s.Account.LastTransactionID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse lastTransactionID %q: %w", s.Account.LastTransactionID, err)
	}
	since := last - int64(count)
	if since < 1 {
		since = 1
	}

	u, err := c.buildURL("transactions.since", c.accountID)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("id", strconv.FormatInt(since, 10))

	var out struct {
		Transactions []struct {
			ID      string           `json:"id"`
			Type    string           `json:"type"`
			OrderID string           `json:"orderID"`
			Units   *decimal.Decimal `json:"units"`
			Price   *decimal.Decimal `json:"price"`
			PL      *decimal.Decimal `json:"pl"`
		} `json:"transactions"`
	}
	if err := c.get(ctx, u, q, &out); err != nil {
		return nil, err
	}
	txns := make([]model.Transaction, 0, len(out.Transactions))
	for _, t := range out.Transactions {
		txns = append(txns, model.Transaction{
			ID:      t.ID,
			Type:    t.Type,
			OrderID: t.OrderID,
			Units:   toFloat(t.Units),
			Price:   toFloat(t.Price),
			PL:      toFloat(t.PL),
		})
	}
	return txns, nil
}
