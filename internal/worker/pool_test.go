package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend/headless"
	"github.com/JakeFAU/webwrapper/internal/fetch"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

type quitCounter struct {
	*headless.Noop
	quits *atomic.Int32
	err   error
}

func (q quitCounter) Quit() error {
	q.quits.Add(1)
	return q.err
}

func builder(quits *atomic.Int32, quitErr error) BuildFunc {
	return func(int) (*fetch.Orchestrator, error) {
		d := quitCounter{Noop: headless.NewNoop(profile.New()), quits: quits, err: quitErr}
		return fetch.New(d, fetch.WithLogger(zap.NewNop())), nil
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	var quits atomic.Int32
	_, err := New(0, builder(&quits, nil), nil)
	require.Error(t, err)
	_, err = New(2, nil, nil)
	require.Error(t, err)
}

func TestNewClosesBuiltWorkersOnFailure(t *testing.T) {
	t.Parallel()

	var quits atomic.Int32
	ok := builder(&quits, nil)
	build := func(i int) (*fetch.Orchestrator, error) {
		if i == 2 {
			return nil, errors.New("no browser")
		}
		return ok(i)
	}
	_, err := New(3, build, nil)
	require.ErrorContains(t, err, "build worker 2")
	require.EqualValues(t, 2, quits.Load())
}

func TestAcquireReleaseDistinctOrchestrators(t *testing.T) {
	t.Parallel()

	var quits atomic.Int32
	p, err := New(2, builder(&quits, nil), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.Equal(t, 0, p.Idle())

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	p.Release(a)
	p.Release(b)
	require.Equal(t, 2, p.Idle())
}

func TestDoSerializesPerOrchestrator(t *testing.T) {
	t.Parallel()

	var quits atomic.Int32
	p, err := New(3, builder(&quits, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	var (
		mu    sync.Mutex
		inUse = map[*fetch.Orchestrator]bool{}
		clash atomic.Bool
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), func(o *fetch.Orchestrator) error {
				mu.Lock()
				if inUse[o] {
					clash.Store(true)
				}
				inUse[o] = true
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inUse[o] = false
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.False(t, clash.Load())
	require.Equal(t, 3, p.Idle())
}

func TestDoPropagatesError(t *testing.T) {
	t.Parallel()

	var quits atomic.Int32
	p, err := New(1, builder(&quits, nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	boom := errors.New("boom")
	require.ErrorIs(t, p.Do(context.Background(), func(*fetch.Orchestrator) error { return boom }), boom)
	require.Equal(t, 1, p.Idle())
}

func TestCloseWaitsForCheckedOutWorkers(t *testing.T) {
	t.Parallel()

	var quits atomic.Int32
	p, err := New(2, builder(&quits, nil), nil)
	require.NoError(t, err)

	o, err := p.Acquire(context.Background())
	require.NoError(t, err)

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a worker was checked out")
	case <-time.After(30 * time.Millisecond):
	}
	require.EqualValues(t, 0, quits.Load())

	p.Release(o)
	require.NoError(t, <-closed)
	require.EqualValues(t, 2, quits.Load())

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, p.Close())
}

func TestCloseJoinsQuitErrors(t *testing.T) {
	t.Parallel()

	var quits atomic.Int32
	p, err := New(2, builder(&quits, errors.New("stuck")), nil)
	require.NoError(t, err)
	err = p.Close()
	require.ErrorContains(t, err, "close worker 0")
	require.ErrorContains(t, err, "close worker 1")
}
