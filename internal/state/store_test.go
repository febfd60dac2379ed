package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout-trader/internal/model"
)

func TestCell_EmptyUntilSet(t *testing.T) {
	s := New()
	_, ok := s.LivePrice.Get()
	assert.False(t, ok)

	s.LivePrice.Set(2001.5)
	v, ok := s.LivePrice.Get()
	require.True(t, ok)
	assert.Equal(t, 2001.5, v)

	at, ok := s.LivePrice.UpdatedAt()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), at, time.Second)
}

func TestCell_ClearRemovesValue(t *testing.T) {
	s := New()
	s.Volatility.Set(model.VolatilityReading{Value: 0.001})
	s.Volatility.Clear()
	_, ok := s.Volatility.Get()
	assert.False(t, ok)
}

func TestStore_OnUpdateSeesKeys(t *testing.T) {
	s := New()
	var mu sync.Mutex
	seen := map[string]any{}
	s.OnUpdate(func(key string, v any, _ time.Time) {
		mu.Lock()
		seen[key] = v
		mu.Unlock()
	})

	s.Account.Set(model.AccountSnapshot{Balance: 1000})
	s.LivePrice.Set(2000)
	s.LivePrice.Clear()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, model.AccountSnapshot{Balance: 1000}, seen[KeyAccount])
	assert.Contains(t, seen, KeyLivePrice)
	assert.Nil(t, seen[KeyLivePrice])
}

func TestStore_KeysAreIndependent(t *testing.T) {
	s := New()
	s.Account.Set(model.AccountSnapshot{Balance: 5})
	s.LivePrice.Set(1)
	s.LivePrice.Clear()

	acct, ok := s.Account.Get()
	require.True(t, ok)
	assert.Equal(t, 5.0, acct.Balance)
}

func TestStore_ConcurrentWritersAndReaders(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				switch w {
				case 0:
					s.LivePrice.Set(float64(i))
				case 1:
					s.Account.Set(model.AccountSnapshot{Balance: float64(i)})
				case 2:
					s.Analytics.Set(model.Analytics{Rows: make([]model.CandleRow, i%5)})
				default:
					s.LivePrice.Get()
					s.Account.Get()
					s.Analytics.Get()
				}
			}
		}(w)
	}
	wg.Wait()

	v, _ := s.LivePrice.Get()
	assert.Equal(t, 999.0, v)
}
