// Package poolcurve tracks per-pool monotonic price cursors for
// AMM-style orders (sudoswap, sudoswap-v2, nftx, nftx-v3, zora-v4) for the
// lifetime of a single planning call (spec.md §4.3, component C3).
package poolcurve

import (
	"fmt"
	"sync"
)

// State is one pool's published price list and how much of it this
// request has already consumed.
type State struct {
	Prices   []string
	Consumed int
}

// Tracker holds every pool touched during one planning call. It is
// reset per request: callers construct a fresh Tracker for each Plan
// invocation rather than sharing one across requests.
type Tracker struct {
	mu    sync.Mutex
	pools map[string]*State
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{pools: make(map[string]*State)}
}

// Seed registers a pool's published price list the first time it is
// referenced during this request. Calling Seed again for an already-seen
// pool is a no-op: the cursor must not reset mid-request.
func (t *Tracker) Seed(poolID string, prices []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pools[poolID]; ok {
		return
	}
	t.pools[poolID] = &State{Prices: prices}
}

// Next returns the unit price for the next fill from poolID and advances
// its cursor, per the contract next_price(pool) = price_list[min(cursor,
// len-1)]; cursor += 1.
func (t *Tracker) Next(poolID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.pools[poolID]
	if !ok {
		return "", fmt.Errorf("poolcurve: pool %q not seeded", poolID)
	}
	if len(st.Prices) == 0 {
		return "", fmt.Errorf("poolcurve: pool %q has no published prices", poolID)
	}
	idx := st.Consumed
	if idx > len(st.Prices)-1 {
		idx = len(st.Prices) - 1
	}
	price := st.Prices[idx]
	st.Consumed++
	return price, nil
}

// Consumed reports how many fills have been committed against poolID so
// far this request.
func (t *Tracker) Consumed(poolID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.pools[poolID]; ok {
		return st.Consumed
	}
	return 0
}
