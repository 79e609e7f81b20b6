package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkers_RunUntilStop(t *testing.T) {
	w := New(Config{RestartDelay: 10 * time.Millisecond}, zap.NewNop())

	var running atomic.Int32
	blocker := Func(func(ctx context.Context) error {
		running.Add(1)
		defer running.Add(-1)
		<-ctx.Done()
		return nil
	})

	require.NoError(t, w.Add("a", blocker))
	require.NoError(t, w.Add("b", blocker))
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)

	w.Stop()
	assert.Equal(t, int32(0), running.Load())
}

func TestWorkers_RestartsFailedWorker(t *testing.T) {
	w := New(Config{RestartDelay: 20 * time.Millisecond}, zap.NewNop())

	var runs atomic.Int32
	var times [3]atomic.Int64
	flaky := Func(func(ctx context.Context) error {
		n := runs.Add(1)
		if n <= 3 {
			times[n-1].Store(time.Now().UnixNano())
		}
		if n < 3 {
			return errors.New("transient")
		}
		if n == 3 {
			panic("boom")
		}
		<-ctx.Done()
		return nil
	})

	require.NoError(t, w.Add("flaky", flaky))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, time.Millisecond)

	gap := time.Duration(times[1].Load() - times[0].Load())
	assert.GreaterOrEqual(t, gap, 20*time.Millisecond)
}

func TestWorkers_AddValidation(t *testing.T) {
	w := New(Config{}, zap.NewNop())
	noop := Func(func(ctx context.Context) error { <-ctx.Done(); return nil })

	require.NoError(t, w.Add("a", noop))
	assert.ErrorIs(t, w.Add("a", noop), ErrDuplicateName)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.ErrorIs(t, w.Add("b", noop), ErrAlreadyStarted)
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
}

func TestWorkers_ParentContextCancel(t *testing.T) {
	w := New(Config{}, zap.NewNop())

	stopped := make(chan struct{})
	require.NoError(t, w.Add("a", Func(func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	})))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe parent cancellation")
	}
	w.Stop()
}
