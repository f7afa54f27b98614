package adapter

import (
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenGateFirstResultWins(t *testing.T) {
	g := newOpenGate()
	g.complete(syscall.EIO)
	g.complete(nil)
	g.complete(syscall.ENOSPC)
	assert.Equal(t, syscall.EIO, g.wait())
}

func TestOpenGateWaitAfterCompletion(t *testing.T) {
	g := newOpenGate()
	g.complete(nil)
	require.True(t, g.completed())
	// Repeated waits after completion return immediately with the same
	// result.
	for i := 0; i < 3; i++ {
		assert.NoError(t, g.wait())
	}
}

func TestOpenGateConcurrentWaiters(t *testing.T) {
	g := newOpenGate()

	const waiters = 32
	results := make(chan error, waiters)
	var started sync.WaitGroup
	started.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			started.Done()
			results <- g.wait()
		}()
	}
	started.Wait()

	g.complete(syscall.EDQUOT)
	for i := 0; i < waiters; i++ {
		assert.Equal(t, syscall.EDQUOT, <-results)
	}
}

func TestOpenGateLateWaiter(t *testing.T) {
	g := newOpenGate()
	done := make(chan error, 1)
	go func() { done <- g.wait() }()
	g.complete(nil)
	assert.NoError(t, <-done)

	// A waiter arriving after the broadcast still observes the result.
	assert.NoError(t, g.wait())
}
