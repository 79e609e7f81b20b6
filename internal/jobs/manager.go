package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/chunk"
	"github.com/streamfold/ris-relay/internal/filter"
	"github.com/streamfold/ris-relay/internal/stats"
)

const (
	DefaultTTL       = time.Hour
	DefaultSweepSpec = "@every 1m"

	// DefaultMaxChunks is a leap year of default sized chunks
	DefaultMaxChunks = 366 * 12
)

var (
	ErrInvalidResource = errors.New("resource must be an AS number, an IP prefix or an IP address")
	ErrInvalidRange    = errors.New("invalid time range")
	ErrJobFinished     = errors.New("job already finished")
	ErrStopped         = errors.New("job manager stopped")
)

type SubmitRequest struct {
	Resource string
	Start    time.Time
	End      time.Time
}

type ManagerConfig struct {
	Runner RunnerConfig

	// TTL is how long a finished job stays queryable, 0 keeps jobs forever
	TTL time.Duration

	// SweepSpec is the cron schedule of the eviction sweep
	SweepSpec string

	// MaxChunks bounds the number of chunks a single job may fetch
	MaxChunks int
}

// Manager owns the job store and one runner goroutine per active job
type Manager struct {
	cfg    ManagerConfig
	store  *Store
	runner *Runner
	log    *zap.Logger
	cron   *cron.Cron

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	active  *xsync.Map[string, context.CancelFunc]

	statSubmitted stats.Stat
}

func NewManager(cfg ManagerConfig, fetcher Fetcher, log *zap.Logger, sb stats.Builder) *Manager {
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = DefaultSweepSpec
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = DefaultMaxChunks
	}

	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:           cfg,
		store:         store,
		runner:        NewRunner(cfg.Runner, store, fetcher, log, sb),
		log:           log,
		cron:          cron.New(),
		ctx:           ctx,
		cancel:        cancel,
		active:        xsync.NewMap[string, context.CancelFunc](),
		statSubmitted: sb.NewStat(stats.StatJobsSubmitted),
	}
}

// Start schedules the retention sweep
func (m *Manager) Start() error {
	if m.cfg.TTL <= 0 {
		return nil
	}

	if _, err := m.cron.AddFunc(m.cfg.SweepSpec, func() { m.Sweep() }); err != nil {
		return fmt.Errorf("failed to schedule job sweep: %w", err)
	}
	m.cron.Start()

	m.log.Info("job retention sweep scheduled", zap.String("schedule", m.cfg.SweepSpec), zap.Duration("ttl", m.cfg.TTL))
	return nil
}

// Stop cancels every running job and waits for the runners to exit
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	m.cancel()
	m.wg.Wait()
}

// Submit validates req, creates a pending job and starts its runner
func (m *Manager) Submit(req SubmitRequest) (string, error) {
	resource := strings.TrimSpace(req.Resource)
	if _, err := filter.ParseQuery(resource); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidResource, req.Resource)
	}

	r := chunk.Range{Start: req.Start.UTC(), End: req.End.UTC()}
	if !r.Start.Before(r.End) {
		return "", fmt.Errorf("%w: start time must be before end time", ErrInvalidRange)
	}
	n, err := chunk.Count(r, m.runner.cfg.MaxSpan)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if n > m.cfg.MaxChunks {
		return "", fmt.Errorf("%w: %d chunks of %s exceed the limit of %d", ErrInvalidRange, n, m.runner.cfg.MaxSpan, m.cfg.MaxChunks)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return "", ErrStopped
	}

	id := m.store.Create(resource, r)
	m.statSubmitted.Incr(1)

	ctx, cancel := context.WithCancel(m.ctx)
	m.active.Store(id, cancel)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.active.Delete(id)
		defer cancel()

		if err := m.runner.Run(ctx, id); err != nil {
			m.log.Error("job runner stopped", zap.String("job_id", id), zap.Error(err))
		}
	}()

	return id, nil
}

func (m *Manager) Get(id string) (Job, error) {
	return m.store.Get(id)
}

// Cancel stops a running job, which then ends as failed
func (m *Manager) Cancel(id string) error {
	job, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}

	cancel, ok := m.active.Load(id)
	if !ok {
		return ErrJobFinished
	}
	cancel()

	m.log.Info("job cancel requested", zap.String("job_id", id))
	return nil
}

// Active is the number of jobs with a running runner
func (m *Manager) Active() int {
	return m.active.Size()
}

func (m *Manager) Len() int {
	return m.store.Len()
}

// Sweep evicts finished jobs older than the TTL and returns how many
func (m *Manager) Sweep() int {
	if m.cfg.TTL <= 0 {
		return 0
	}

	evicted := m.store.EvictFinished(m.store.now().Add(-m.cfg.TTL))
	if len(evicted) > 0 {
		m.log.Info("evicted finished jobs", zap.Int("evicted", len(evicted)), zap.Int("remaining", m.store.Len()))
	}
	return len(evicted)
}
