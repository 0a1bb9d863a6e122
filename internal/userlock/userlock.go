// Package userlock serializes balance-affecting operations per user.
// Concurrent paid-creation requests for one user must not both pass the
// balance check before either withdraws, so every such flow takes the
// user's lock for its whole duration.
package userlock

import "sync"

// Keyed is a set of mutexes addressed by user ID. The zero value is not
// usable; construct with New.
type Keyed struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Keyed {
	return &Keyed{locks: make(map[int64]*entry)}
}

// Lock acquires the mutex for the given user ID, creating it on first use.
func (k *Keyed) Lock(id int64) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &entry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for the given user ID. Entries with no waiters
// are removed so the map does not grow with the user population.
func (k *Keyed) Unlock(id int64) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		k.mu.Unlock()
		panic("userlock: unlock of unheld lock")
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
