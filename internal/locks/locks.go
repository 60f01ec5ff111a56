// Package locks provides per-key mutual exclusion. The ledger uses it to
// serialize balance updates per user and the settlement coordinator to
// serialize completion handling per request.
package locks

import "sync"

// Keyed hands out one mutex per key. Contention stays local to a key; two
// different keys never block each other.
type Keyed struct {
	mu    sync.Mutex
	locks map[uint]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{locks: map[uint]*entry{}}
}

// Lock acquires the mutex for key and returns the matching unlock func.
// Entries are dropped once the last holder releases, so the map does not
// grow with the total number of keys ever seen.
func (k *Keyed) Lock(key uint) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
