// Package worker hands out fetch orchestrators to concurrent callers. Each
// orchestrator owns its driver session and browsing profile, so one is never
// shared between two in-flight operations.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/fetch"
	"github.com/JakeFAU/webwrapper/internal/metrics"
)

// ErrClosed is returned by Acquire once the pool is shut down.
var ErrClosed = errors.New("worker pool closed")

// BuildFunc constructs the orchestrator for worker slot i.
type BuildFunc func(i int) (*fetch.Orchestrator, error)

// Pool is a fixed set of orchestrators.
type Pool struct {
	idle   chan *fetch.Orchestrator
	all    []*fetch.Orchestrator
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New builds size orchestrators. If any build fails the ones already built are
// closed and the error is returned.
func New(size int, build BuildFunc, logger *zap.Logger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	if build == nil {
		return nil, errors.New("build func is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		idle:   make(chan *fetch.Orchestrator, size),
		all:    make([]*fetch.Orchestrator, 0, size),
		logger: logger.Named("worker"),
		done:   make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		o, err := build(i)
		if err == nil && o == nil {
			err = errors.New("build returned nil orchestrator")
		}
		if err != nil {
			return nil, errors.Join(fmt.Errorf("build worker %d: %w", i, err), p.quitAll())
		}
		p.all = append(p.all, o)
		p.idle <- o
	}
	p.logger.Info("worker pool ready", zap.Int("size", size))
	return p, nil
}

// Size is the number of orchestrators in the pool.
func (p *Pool) Size() int { return len(p.all) }

// Idle is the number of orchestrators not currently checked out.
func (p *Pool) Idle() int { return len(p.idle) }

// Acquire blocks until an orchestrator is free, ctx is done, or the pool closes.
// Every successful Acquire must be paired with Release.
func (p *Pool) Acquire(ctx context.Context) (*fetch.Orchestrator, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	select {
	case o := <-p.idle:
		metrics.IncActiveWorkers()
		return o, nil
	case <-ctx.Done():
		p.wg.Done()
		return nil, fmt.Errorf("acquire worker: %w", ctx.Err())
	case <-p.done:
		p.wg.Done()
		return nil, ErrClosed
	}
}

// Release returns o to the pool.
func (p *Pool) Release(o *fetch.Orchestrator) {
	if o == nil {
		return
	}
	metrics.DecActiveWorkers()
	p.idle <- o
	p.wg.Done()
}

// Do runs fn with an acquired orchestrator and releases it afterwards.
func (p *Pool) Do(ctx context.Context, fn func(*fetch.Orchestrator) error) error {
	o, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(o)
	return fn(o)
}

// Close stops handing out orchestrators, waits for checked-out ones to come
// back, then quits every driver.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	err := p.quitAll()
	p.logger.Info("worker pool closed", zap.Error(err))
	return err
}

func (p *Pool) quitAll() error {
	var errs []error
	for i, o := range p.all {
		if err := o.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close worker %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
