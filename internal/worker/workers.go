package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const DefaultRestartDelay = 5 * time.Second

var (
	ErrAlreadyStarted = errors.New("workers already started")
	ErrDuplicateName  = errors.New("worker name already registered")
)

type Config struct {
	// RestartDelay is the fixed delay before a failed worker is restarted
	RestartDelay time.Duration
}

type Workers struct {
	cfg     Config
	log     *zap.Logger
	workers []namedWorker

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type namedWorker struct {
	name   string
	worker Worker
}

func New(cfg Config, log *zap.Logger) *Workers {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}

	return &Workers{
		cfg: cfg,
		log: log,
	}
}

func (w *Workers) Add(name string, worker Worker) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	for _, nw := range w.workers {
		if nw.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
	}

	w.workers = append(w.workers, namedWorker{name: name, worker: worker})
	return nil
}

// Start runs every registered worker in its own goroutine. The workers run
// until ctx is cancelled or Stop is called.
func (w *Workers) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	for _, nw := range w.workers {
		w.wg.Add(1)
		go func(nw namedWorker) {
			defer w.wg.Done()

			w.supervise(ctx, nw)
		}(nw)
	}

	return nil
}

// Stop cancels every worker and waits for them to return
func (w *Workers) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Workers) supervise(ctx context.Context, nw namedWorker) {
	log := w.log.With(zap.String("worker", nw.name))
	log.Debug("worker starting")

	op := func() error {
		err := runSafely(ctx, nw.worker)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		log.Error("worker failed, restarting", zap.Error(err), zap.Duration("restart_in", next))
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(w.cfg.RestartDelay), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil && ctx.Err() == nil {
		log.Error("worker stopped", zap.Error(err))
		return
	}

	log.Debug("worker stopped")
}

func runSafely(ctx context.Context, worker Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	return worker.Run(ctx)
}
