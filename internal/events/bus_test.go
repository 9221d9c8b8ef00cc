package events

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/logger"
)

func event(symbol string) contracts.CycleCompleteEvent {
	return contracts.CycleCompleteEvent{
		Symbol:         symbol,
		RealizedPnLUSD: decimal.RequireFromString("0.4"),
		NewTargetPct:   5,
		At:             time.Now(),
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(logger.NewNop())
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(event("ABCUSDT"))

	assert.Equal(t, "ABCUSDT", (<-a.C).Symbol)
	assert.Equal(t, "ABCUSDT", (<-b.C).Symbol)

	a.Close()
	a.Close()
	assert.Equal(t, 1, bus.Subscribers())
	_, ok := <-a.C
	assert.False(t, ok)
}

func TestBus_FullBufferDrops(t *testing.T) {
	bus := NewBus(logger.NewNop())
	sub := bus.Subscribe(1)

	bus.Publish(event("AAAUSDT"))
	bus.Publish(event("BBBUSDT"))

	published, dropped := bus.Stats()
	assert.Equal(t, int64(2), published)
	assert.Equal(t, int64(1), dropped)
	assert.Equal(t, "AAAUSDT", (<-sub.C).Symbol)
}

func TestBus_OnCycleComplete(t *testing.T) {
	bus := NewBus(logger.NewNop())

	var mu sync.Mutex
	var got []string
	stop := bus.OnCycleComplete(func(ev contracts.CycleCompleteEvent) {
		mu.Lock()
		got = append(got, ev.Symbol)
		mu.Unlock()
	})

	bus.Publish(event("AAAUSDT"))
	bus.Publish(event("BBBUSDT"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	stop()
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(logger.NewNop())
	sub := bus.Subscribe(0)
	bus.Close()
	bus.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	bus.Publish(event("AAAUSDT"))
	published, _ := bus.Stats()
	assert.Zero(t, published)

	late := bus.Subscribe(0)
	_, ok = <-late.C
	assert.False(t, ok)
}
