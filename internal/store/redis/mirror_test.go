package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout-trader/internal/model"
)

type recordingSink struct {
	mu      sync.Mutex
	down    bool
	err     error
	batches [][]op
}

func (s *recordingSink) apply(_ context.Context, ops []op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		if s.err != nil {
			return s.err
		}
		return errors.New("connection refused")
	}
	cp := append([]op(nil), ops...)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *recordingSink) setDown(v bool) {
	s.mu.Lock()
	s.down = v
	s.mu.Unlock()
}

func (s *recordingSink) all() []op {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []op
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func stateEvent(key string, v any) model.Event {
	return model.Event{Kind: model.EventState, Key: key, Payload: v, TS: time.Now()}
}

func TestMirror_WritesStateAndEvents(t *testing.T) {
	s := &recordingSink{}
	m := newMirror(s, NewCircuitBreaker(3, time.Second), "XAU_USD", nil)

	m.enqueue(stateEvent("live_price", 2001.5))
	m.enqueue(model.Event{Kind: model.EventOrderOpened, Payload: model.OrderEvent{}})
	m.enqueue(stateEvent("pivots", nil))
	m.flush(context.Background())

	ops := s.all()
	require.Len(t, ops, 3)
	assert.Equal(t, opSet, ops[0].kind)
	assert.Equal(t, "state:live_price", ops[0].key)
	assert.Equal(t, "pub:state:live_price", ops[0].channel)
	assert.Equal(t, "2001.5", ops[0].data)
	assert.Equal(t, opDel, ops[1].kind)
	assert.Equal(t, "state:pivots", ops[1].key)
	assert.Equal(t, opEvent, ops[2].kind)
	assert.Equal(t, "events:XAU_USD", ops[2].key)
	assert.Equal(t, "pub:event:order_opened", ops[2].channel)
	assert.Zero(t, m.Pending())
}

func TestMirror_CoalescesWhileDown(t *testing.T) {
	s := &recordingSink{down: true}
	cb := NewCircuitBreaker(1, time.Hour)
	m := newMirror(s, cb, "XAU_USD", nil)
	var buffered int
	m.OnBuffer = func(n int) { buffered = n }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.enqueue(stateEvent("live_price", 2000.0+float64(i)))
		m.enqueue(model.Event{Kind: model.EventSignal, Payload: i})
		m.flush(ctx)
	}
	assert.Equal(t, StateOpen, cb.CurrentState())
	assert.Equal(t, 6, buffered, "one coalesced state key plus five events")

	s.setDown(false)
	clk := &fakeClock{t: time.Now().Add(2 * time.Hour)}
	cb.now = clk.now
	m.flush(ctx)

	ops := s.all()
	require.Len(t, ops, 6)
	assert.Equal(t, "2004", ops[0].data, "latest state value wins")
	for _, o := range ops[1:] {
		assert.Equal(t, opEvent, o.kind)
	}
	assert.Zero(t, m.Pending())
}

func TestMirror_OpenCircuitIsNotLoggedAsFailure(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	s := &recordingSink{down: true, err: fmt.Errorf("shared pool: %w", ErrCircuitOpen)}
	m := newMirror(s, NewCircuitBreaker(100, time.Second), "XAU_USD", log)

	m.enqueue(stateEvent("live_price", 2000.0))
	m.flush(context.Background())
	assert.NotContains(t, buf.String(), "pipeline failed")
	assert.Equal(t, 1, m.Pending())

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	m.flush(context.Background())
	assert.Contains(t, buf.String(), "pipeline failed")
}

func TestMirror_NewerStateBeatsRequeued(t *testing.T) {
	s := &recordingSink{down: true}
	m := newMirror(s, NewCircuitBreaker(100, time.Second), "XAU_USD", nil)

	m.enqueue(stateEvent("t_vwap", 1.0))
	batch := []op{{kind: opSet, key: "state:t_vwap", data: "1"}}
	m.mu.Lock()
	m.stateOps = map[string]op{}
	m.stateOrder = nil
	m.mu.Unlock()
	m.enqueue(stateEvent("t_vwap", 2.0))
	m.requeue(batch)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, "2", m.stateOps["state:t_vwap"].data)
	assert.Len(t, m.stateOrder, 1)
}

func TestMirror_RunDrainsChannel(t *testing.T) {
	s := &recordingSink{}
	m := newMirror(s, NewCircuitBreaker(3, time.Second), "XAU_USD", nil)

	ch := make(chan model.Event, 4)
	ch <- stateEvent("live_price", 1.0)
	ch <- stateEvent("t_vwap", 2.0)
	close(ch)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Len(t, s.all(), 2)
}
