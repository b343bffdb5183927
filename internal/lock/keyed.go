package lock

import (
	"slices"
	"sync"
)

// Keyed hands out one mutex per key. Keys are never evicted; the set of
// accounts and items in a single ledger process is bounded.
type Keyed struct {
	mapMu sync.Mutex
	muMap map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{muMap: make(map[string]*sync.Mutex)}
}

func (k *Keyed) get(key string) *sync.Mutex {
	k.mapMu.Lock()
	defer k.mapMu.Unlock()

	mu, exists := k.muMap[key]
	if !exists {
		mu = &sync.Mutex{}
		k.muMap[key] = mu
	}
	return mu
}

// Lock acquires the mutex for key and returns its release func.
func (k *Keyed) Lock(key string) func() {
	mu := k.get(key)
	mu.Lock()
	return mu.Unlock
}

// LockAll acquires every key in ascending order so that two callers locking
// overlapping sets can never deadlock. Duplicates are locked once.
func (k *Keyed) LockAll(keys ...string) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, key := range sorted {
		mu := k.get(key)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
