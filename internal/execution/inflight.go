package execution

import (
	"sort"
	"sync"
	"time"
)

// InFlight is the per-symbol latch shared by acquisition and disposal.
// It is safe for concurrent use.
type InFlight struct {
	mu      sync.Mutex
	symbols map[string]time.Time
}

func NewInFlight() *InFlight {
	return &InFlight{symbols: make(map[string]time.Time)}
}

// TryAcquire marks symbol busy. Returns false if it already was.
func (f *InFlight) TryAcquire(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.symbols[symbol]; busy {
		return false
	}
	f.symbols[symbol] = time.Now()
	return true
}

// Release clears the latch; releasing an idle symbol is a no-op
func (f *InFlight) Release(symbol string) {
	f.mu.Lock()
	delete(f.symbols, symbol)
	f.mu.Unlock()
}

func (f *InFlight) Has(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, busy := f.symbols[symbol]
	return busy
}

// Symbols lists busy symbols
func (f *InFlight) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
