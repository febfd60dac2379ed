// Package redis mirrors engine state and order events into Redis so that
// dashboards and other processes can read them without talking to the
// engine. Redis is optional: the engine never depends on a write landing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"breakout-trader/internal/model"
)

const (
	eventStreamMaxLen = 10000
	defaultTTL        = 30 * time.Minute
	maxPendingEvents  = 10000
	retryInterval     = time.Second
)

// Config configures the Redis connection.
type Config struct {
	Addr       string
	Password   string
	DB         int
	TTL        time.Duration
	Instrument string
}

type opKind int

const (
	opSet opKind = iota
	opDel
	opEvent
)

type op struct {
	kind    opKind
	key     string
	channel string
	data    string
}

// sink applies a batch of ops in one roundtrip.
type sink interface {
	apply(ctx context.Context, ops []op) error
}

type pipelineSink struct {
	client *goredis.Client
	ttl    time.Duration
}

func (s *pipelineSink) apply(ctx context.Context, ops []op) error {
	pipe := s.client.Pipeline()
	for _, o := range ops {
		switch o.kind {
		case opSet:
			pipe.Set(ctx, o.key, o.data, s.ttl)
			pipe.Publish(ctx, o.channel, o.data)
		case opDel:
			pipe.Del(ctx, o.key)
			pipe.Publish(ctx, o.channel, "null")
		case opEvent:
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: o.key,
				MaxLen: eventStreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": o.data},
			})
			pipe.Publish(ctx, o.channel, o.data)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Mirror writes bus events to Redis through a circuit breaker. While the
// breaker is open, state writes are coalesced per key (latest wins) and
// order events are queued in arrival order; both are flushed once Redis
// answers again.
type Mirror struct {
	client *goredis.Client
	sink   sink
	cb     *CircuitBreaker
	log    *slog.Logger
	stream string

	mu         sync.Mutex
	stateOps   map[string]op
	stateOrder []string
	eventOps   []op

	// OnBuffer is called with the pending count after a failed flush.
	OnBuffer func(pending int)
	// OnFlush is called with the number of ops written after a flush.
	OnFlush func(count int)
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config, cb *CircuitBreaker, log *slog.Logger) (*Mirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	m := newMirror(&pipelineSink{client: client, ttl: ttl}, cb, cfg.Instrument, log)
	m.client = client
	m.log.Info("connected", "addr", cfg.Addr, "db", cfg.DB)
	return m, nil
}

func newMirror(s sink, cb *CircuitBreaker, instrument string, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		sink:     s,
		cb:       cb,
		log:      log.With("component", "redis_mirror"),
		stream:   "events:" + instrument,
		stateOps: make(map[string]op),
	}
}

// Client returns the underlying client for health checks.
func (m *Mirror) Client() *goredis.Client { return m.client }

// Run consumes events until ctx is cancelled or events is closed, then
// makes one last flush attempt.
func (m *Mirror) Run(ctx context.Context, events <-chan model.Event) {
	retry := time.NewTicker(retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			m.finalFlush()
			return
		case ev, ok := <-events:
			if !ok {
				m.finalFlush()
				return
			}
			m.enqueue(ev)
			// drain whatever else is ready into the same pipeline
			for drained := false; !drained; {
				select {
				case ev, ok := <-events:
					if !ok {
						m.finalFlush()
						return
					}
					m.enqueue(ev)
				default:
					drained = true
				}
			}
			m.flush(ctx)
		case <-retry.C:
			if m.Pending() > 0 {
				m.flush(ctx)
			}
		}
	}
}

func (m *Mirror) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.flush(ctx)
}

func (m *Mirror) enqueue(ev model.Event) {
	switch ev.Kind {
	case model.EventState:
		if ev.Key == "" {
			return
		}
		o := op{
			key:     "state:" + ev.Key,
			channel: "pub:state:" + ev.Key,
		}
		if ev.Payload == nil {
			o.kind = opDel
		} else {
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				m.log.Warn("marshal state", "key", ev.Key, "error", err)
				return
			}
			o.kind = opSet
			o.data = string(data)
		}
		m.mu.Lock()
		if _, seen := m.stateOps[o.key]; !seen {
			m.stateOrder = append(m.stateOrder, o.key)
		}
		m.stateOps[o.key] = o
		m.mu.Unlock()

	case model.EventSignal, model.EventOrderOpened, model.EventOrderClosed, model.EventOrderFailed:
		o := op{
			kind:    opEvent,
			key:     m.stream,
			channel: "pub:event:" + string(ev.Kind),
			data:    string(ev.JSON()),
		}
		m.mu.Lock()
		if len(m.eventOps) >= maxPendingEvents {
			m.eventOps = m.eventOps[1:]
		}
		m.eventOps = append(m.eventOps, o)
		m.mu.Unlock()
	}
}

// flush writes everything pending. On failure the ops stay pending; state
// ops written meanwhile by enqueue replace the stale ones.
func (m *Mirror) flush(ctx context.Context) {
	m.mu.Lock()
	if len(m.stateOrder) == 0 && len(m.eventOps) == 0 {
		m.mu.Unlock()
		return
	}
	batch := make([]op, 0, len(m.stateOrder)+len(m.eventOps))
	for _, k := range m.stateOrder {
		batch = append(batch, m.stateOps[k])
	}
	batch = append(batch, m.eventOps...)
	m.stateOps = make(map[string]op)
	m.stateOrder = nil
	m.eventOps = nil
	m.mu.Unlock()

	err := m.cb.Execute(ctx, func(ctx context.Context) error {
		return m.sink.apply(ctx, batch)
	})
	if err == nil {
		if m.OnFlush != nil {
			m.OnFlush(len(batch))
		}
		return
	}

	if !errors.Is(err, ErrCircuitOpen) {
		m.log.Warn("pipeline failed", "ops", len(batch), "error", err)
	}
	pending := m.requeue(batch)
	if m.OnBuffer != nil {
		m.OnBuffer(pending)
	}
}

// requeue puts a failed batch back in front of anything enqueued since.
func (m *Mirror) requeue(batch []op) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []op
	for _, o := range batch {
		if o.kind == opEvent {
			events = append(events, o)
			continue
		}
		if _, newer := m.stateOps[o.key]; newer {
			continue
		}
		m.stateOps[o.key] = o
		m.stateOrder = append(m.stateOrder, o.key)
	}
	m.eventOps = append(events, m.eventOps...)
	if over := len(m.eventOps) - maxPendingEvents; over > 0 {
		m.eventOps = m.eventOps[over:]
	}
	return len(m.stateOrder) + len(m.eventOps)
}

// Pending returns the number of ops waiting to be written.
func (m *Mirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stateOrder) + len(m.eventOps)
}

// Close closes the Redis client.
func (m *Mirror) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}
