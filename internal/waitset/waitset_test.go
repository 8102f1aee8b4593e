package waitset

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWakeWithNoWaitersIsANoOp(t *testing.T) {
	var mu sync.Mutex
	s := New(&mu)
	mu.Lock()
	s.Wake()
	mu.Unlock()
	assert.False(t, s.Waiting())
}

func TestWaitBlocksUntilWoken(t *testing.T) {
	var mu sync.Mutex
	s := New(&mu)

	var wg sync.WaitGroup
	woke := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		mu.Lock()
		s.Wait()
		mu.Unlock()
		close(woke)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return s.Waiting()
	}, time.Second, time.Millisecond)

	mu.Lock()
	s.Wake()
	mu.Unlock()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	wg.Wait()
}
