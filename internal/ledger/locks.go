package ledger

import "sync"

// symbolLocks hands out one mutex per symbol
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until symbol is free and returns the unlock func
func (s *symbolLocks) Lock(symbol string) func() {
	s.mu.Lock()
	m, ok := s.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		s.locks[symbol] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
