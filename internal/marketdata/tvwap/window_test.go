package tvwap

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func at(s int) time.Time { return t0.Add(time.Duration(s) * time.Second) }

func TestWindow_EvictsOlderThanSpan(t *testing.T) {
	w := NewWindow(300 * time.Second)
	w.Insert(100, at(0))
	w.Insert(101, at(100))
	w.Insert(102, at(300)) // exactly span from the first point: retained
	if w.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", w.Len())
	}

	w.Insert(103, at(301)) // first point is now 301s old
	if w.Len() != 3 {
		t.Fatalf("expected 3 points after eviction, got %d", w.Len())
	}
	oldest, _ := w.Oldest()
	if !oldest.Equal(at(100)) {
		t.Errorf("expected oldest at +100s, got %v", oldest)
	}
}

func TestWindow_AllRetainedWithinSpan(t *testing.T) {
	w := NewWindow(10 * time.Second)
	for s := 0; s < 50; s++ {
		w.Insert(float64(s), at(s))
		oldest, _ := w.Oldest()
		if at(s).Sub(oldest) > 10*time.Second {
			t.Fatalf("at +%ds oldest point %v is outside the span", s, oldest)
		}
	}
}

func TestWindow_DuplicateTimestampIsNoOp(t *testing.T) {
	w := NewWindow(300 * time.Second)
	w.Insert(100, at(0))
	w.Insert(102, at(1))
	w.Insert(104, at(3))
	before := w.TVWAP()

	err := w.Insert(999, at(3))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if w.Len() != 3 {
		t.Errorf("expected window unchanged, len=%d", w.Len())
	}
	if got := w.TVWAP(); got != before {
		t.Errorf("expected tvwap %f unchanged, got %f", before, got)
	}
}

func TestWindow_RejectsStale(t *testing.T) {
	w := NewWindow(300 * time.Second)
	w.Insert(100, at(10))
	if err := w.Insert(99, at(5)); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestWindow_TVWAP(t *testing.T) {
	w := NewWindow(300 * time.Second)
	if w.TVWAP() != 0 {
		t.Error("empty window should yield 0")
	}
	w.Insert(100, at(0))
	if w.TVWAP() != 0 {
		t.Error("single point should yield 0")
	}
	w.Insert(102, at(1))
	w.Insert(104, at(3))
	want := (100*1.0 + 102*2.0) / 3.0
	if got := w.TVWAP(); got != want {
		t.Errorf("expected %f, got %f", want, got)
	}
}
