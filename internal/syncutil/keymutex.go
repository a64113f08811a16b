// Package syncutil holds the per-key serialization primitive shared by the
// location session coordinator (keyed by user) and the item state tracker
// (keyed by device).
package syncutil

import "sync"

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex serializes operations that share a key while letting operations
// on different keys proceed fully in parallel. Lock entries are reclaimed
// once their last holder releases.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewKeyedMutex constructs an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
