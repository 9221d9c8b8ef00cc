package scanner

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/wonny/cyclebot/internal/contracts"
)

// Orderer ranks candidates in place
type Orderer interface {
	Order(candidates []contracts.Candidate)
}

// DeterministicOrder: score desc, younger first, then symbol
type DeterministicOrder struct{}

func (DeterministicOrder) Order(candidates []contracts.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.EstimatedAgeDays != b.EstimatedAgeDays {
			return a.EstimatedAgeDays < b.EstimatedAgeDays
		}
		return a.Symbol < b.Symbol
	})
}

// ShuffledOrder ranks deterministically, then shuffles the top window
// so repeated scans of a quiet market do not always pick the same symbol.
type ShuffledOrder struct {
	mu     sync.Mutex
	rng    *rand.Rand
	window int
}

// NewShuffledOrder creates a shuffled orderer; window <= 0 shuffles everything
func NewShuffledOrder(src rand.Source, window int) *ShuffledOrder {
	return &ShuffledOrder{rng: rand.New(src), window: window}
}

func (o *ShuffledOrder) Order(candidates []contracts.Candidate) {
	DeterministicOrder{}.Order(candidates)

	n := len(candidates)
	if o.window > 0 && o.window < n {
		n = o.window
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.rng.Shuffle(n, func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
}
