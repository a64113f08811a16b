package syncutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	const workers = 8
	const iterations = 200

	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				unlock := km.Lock("user-1")
				counter++
				unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, workers*iterations, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("a")
	defer unlockA()

	// Holding "a" must not block "b".
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
}

func TestKeyedMutexReclaimsEntries(t *testing.T) {
	km := NewKeyedMutex()

	for i := 0; i < 100; i++ {
		unlock := km.Lock("ephemeral")
		unlock()
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}
