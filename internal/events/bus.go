package events

import (
	"sync"
	"sync/atomic"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/logger"
)

// DefaultBuffer is the per-subscriber channel size
const DefaultBuffer = 16

// Bus fans out cycle-complete events to subscribers
// ⭐ SSOT: 사이클 완료 이벤트 전달은 이 버스에서만
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan contracts.CycleCompleteEvent
	nextID uint64
	closed bool

	published atomic.Int64
	dropped   atomic.Int64

	logger *logger.Logger
}

// Subscription is one subscriber's view of the bus
type Subscription struct {
	id  uint64
	C   <-chan contracts.CycleCompleteEvent
	bus *Bus
}

// Close removes the subscription and closes its channel
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// NewBus creates an event bus
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]chan contracts.CycleCompleteEvent),
		logger: log.WithField("component", "event_bus"),
	}
}

// Subscribe registers a subscriber. buffer <= 0 uses DefaultBuffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan contracts.CycleCompleteEvent, buffer)
	b.nextID++
	id := b.nextID
	if b.closed {
		close(ch)
	} else {
		b.subs[id] = ch
	}

	return &Subscription{id: id, C: ch, bus: b}
}

// OnCycleComplete runs fn for every event on its own goroutine until the returned stop func is called
func (b *Bus) OnCycleComplete(fn func(contracts.CycleCompleteEvent)) (stop func()) {
	sub := b.Subscribe(DefaultBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range sub.C {
			fn(ev)
		}
	}()

	return func() {
		sub.Close()
		<-done
	}
}

// Publish delivers ev to every subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(ev contracts.CycleCompleteEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.WithFields(map[string]interface{}{
				"subscriber": id,
				"symbol":     ev.Symbol,
			}).Warn("Subscriber buffer full, event dropped")
		}
	}
}

// Close closes every subscription; later Publish calls are no-ops
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Subscribers returns the current subscriber count
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns published and dropped counters
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}
