// Package notification delivers order lifecycle alerts to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"breakout-trader/internal/model"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   AlertLevel      `json:"level"`
	Kind    model.EventKind `json:"kind"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	TS      time.Time       `json:"ts"`
}

// Notifier delivers an alert.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log.
type LogNotifier struct{ log *slog.Logger }

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With("component", "notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info(alert.Title, "level", alert.Level, "kind", alert.Kind, "message", alert.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertFor turns an order event into an alert. Other events yield false.
func AlertFor(ev model.Event) (Alert, bool) {
	oe, ok := ev.Payload.(model.OrderEvent)
	if !ok {
		return Alert{}, false
	}
	o := oe.Order
	a := Alert{Kind: ev.Kind, TS: ev.TS}
	switch ev.Kind {
	case model.EventOrderOpened:
		a.Level = AlertInfo
		a.Title = fmt.Sprintf("%s opened", o.Side)
		a.Message = fmt.Sprintf("trade %s: %d units at %.2f, TP %.2f, SL %.2f",
			o.ID, o.Units, o.EntryPrice, o.TakeProfitPrice, o.StopLossPrice)
	case model.EventOrderClosed:
		a.Level = AlertInfo
		if oe.PL < 0 {
			a.Level = AlertWarning
		}
		a.Title = fmt.Sprintf("%s closed (%s)", o.Side, oe.Reason)
		a.Message = fmt.Sprintf("trade %s closed at %.2f, P/L %.2f", o.ID, oe.Price, oe.PL)
	case model.EventOrderFailed:
		a.Level = AlertCritical
		a.Title = fmt.Sprintf("%s order failed", o.Side)
		a.Message = fmt.Sprintf("entry %.2f: %s", o.EntryPrice, oe.Error)
	default:
		return Alert{}, false
	}
	return a, true
}

// Dispatcher sends an alert for every order event on its channel.
type Dispatcher struct {
	n       Notifier
	timeout time.Duration
	log     *slog.Logger
}

func NewDispatcher(n Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{n: n, timeout: 10 * time.Second, log: log.With("component", "notify")}
}

// Run blocks until ctx is cancelled or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			alert, ok := AlertFor(ev)
			if !ok {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.n.Send(sendCtx, alert); err != nil {
				d.log.Warn("alert delivery failed", "title", alert.Title, "error", err)
			}
			cancel()
		}
	}
}
