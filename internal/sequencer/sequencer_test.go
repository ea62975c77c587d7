package sequencer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer_PreservesOrderPerKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []int
	)
	results := make([]<-chan error, 0, 50)
	for i := 0; i < 50; i++ {
		i := i
		results = append(results, s.Enqueue(ctx, "device-a", func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, done := range results {
		require.NoError(t, <-done)
	}
	s.Wait()

	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Zero(t, s.Active())
}

func TestSequencer_SerializesSameKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(ctx, "same", func(context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestSequencer_DistinctKeysRunInParallel(t *testing.T) {
	s := New()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan string, 2)
	block := func(key string) func(context.Context) error {
		return func(context.Context) error {
			started <- key
			<-release
			return nil
		}
	}
	a := s.Enqueue(ctx, "a", block("a"))
	b := s.Enqueue(ctx, "b", block("b"))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("keys did not start concurrently")
		}
	}
	close(release)
	require.NoError(t, <-a)
	require.NoError(t, <-b)
}

func TestSequencer_SkipsCancelledTasks(t *testing.T) {
	s := New()
	release := make(chan struct{})
	first := s.Enqueue(context.Background(), "k", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	second := s.Enqueue(ctx, "k", func(context.Context) error {
		ran = true
		return nil
	})
	cancel()
	close(release)

	require.NoError(t, <-first)
	assert.ErrorIs(t, <-second, context.Canceled)
	s.Wait()
	assert.False(t, ran)
}

func TestSequencer_ReturnsTaskErrorsAndRecoversPanics(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	assert.ErrorIs(t, s.Do(ctx, "k", func(context.Context) error { return boom }), boom)
	assert.Error(t, s.Do(ctx, "k", func(context.Context) error { panic("bad") }))
	assert.NoError(t, s.Do(ctx, "k", func(context.Context) error { return nil }))
}
