package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTask(t *testing.T) {
	p, err := New("test", &Config{Capacity: 2, ExpiryDuration: time.Second})
	require.NoError(t, err)
	defer p.Release()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestSubmitAfterRelease(t *testing.T) {
	p, err := New("test", DefaultConfig())
	require.NoError(t, err)
	p.Release()

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
}

func TestNonblockingOverload(t *testing.T) {
	p, err := New("test", &Config{Capacity: 1, ExpiryDuration: time.Second, Nonblocking: true})
	require.NoError(t, err)
	defer p.Release()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))

	// Pool is saturated; a nonblocking submit must be rejected.
	var overloaded bool
	for i := 0; i < 10; i++ {
		if err := p.Submit(func() {}); err != nil {
			assert.ErrorIs(t, err, ErrPoolOverload)
			overloaded = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(block)
	assert.True(t, overloaded)
	assert.GreaterOrEqual(t, p.Stats().Rejected, int64(1))
}

func TestSubmitWithContextCanceled(t *testing.T) {
	p, err := New("test", DefaultConfig())
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.SubmitWithContext(ctx, func() { t.Error("task ran") }), context.Canceled)
}

func TestStatsCountCompleted(t *testing.T) {
	p, err := New("test", &Config{Capacity: 4, ExpiryDuration: time.Second})
	require.NoError(t, err)
	defer p.Release()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() { wg.Done() }))
	}
	wg.Wait()
	require.NoError(t, p.ReleaseTimeout(time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(8), stats.Submitted)
	assert.Equal(t, int64(8), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}
