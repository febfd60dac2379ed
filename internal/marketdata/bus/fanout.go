// Package bus fans engine events out to independent consumers.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"breakout-trader/internal/model"
)

// FanOut broadcasts events from a single input channel to N output channels.
// If an output channel is full, the event is dropped for that consumer so a
// slow consumer never blocks a worker.
type FanOut struct {
	in chan model.Event

	mu      sync.RWMutex
	outputs []subscriber
	bufSize int
	closed  bool

	// OnDrop is called when an event is dropped. name is the subscriber's name
	// or "input" when the bus itself is saturated.
	OnDrop func(name string, kind model.EventKind)
}

type subscriber struct {
	name string
	ch   chan model.Event
}

// New creates a FanOut. inputSize bounds Publish; outputBufferSize bounds each
// subscriber.
func New(inputSize, outputBufferSize int) *FanOut {
	return &FanOut{
		in:      make(chan model.Event, inputSize),
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new named output channel.
// Subscribe before Run starts to see every event.
func (f *FanOut) Subscribe(name string) <-chan model.Event {
	ch := make(chan model.Event, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, subscriber{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Publish enqueues ev without blocking. It reports false if the event was
// dropped because the input is full.
func (f *FanOut) Publish(ev model.Event) bool {
	select {
	case f.in <- ev:
		return true
	default:
		f.drop("input", ev.Kind)
		return false
	}
}

// Run fans out until ctx is cancelled, then closes every subscriber channel.
func (f *FanOut) Run(ctx context.Context) {
	defer func() {
		f.mu.Lock()
		for _, s := range f.outputs {
			close(s.ch)
		}
		f.closed = true
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.in:
			f.mu.RLock()
			for _, s := range f.outputs {
				select {
				case s.ch <- ev:
				default:
					f.drop(s.name, ev.Kind)
				}
			}
			f.mu.RUnlock()
		}
	}
}

func (f *FanOut) drop(name string, kind model.EventKind) {
	if f.OnDrop != nil {
		f.OnDrop(name, kind)
		return
	}
	slog.Warn("bus channel full, dropping event", "subscriber", name, "kind", kind)
}

// ChannelStat reports (length, capacity) of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats is used for reporting channel saturation.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, 0, len(f.outputs)+1)
	stats = append(stats, ChannelStat{Name: "input", Len: len(f.in), Cap: cap(f.in)})
	for _, s := range f.outputs {
		stats = append(stats, ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)})
	}
	return stats
}
