package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/streamfold/ris-relay/internal/chunk"
)

var ErrNotFound = errors.New("job not found")

// Store is the in-memory table of jobs. Every job has its own lock, so
// reading one job never blocks updates to another.
type Store struct {
	jobs *xsync.Map[string, *entry]
	now  func() time.Time
}

type entry struct {
	mu  sync.RWMutex
	job Job
}

func NewStore() *Store {
	return &Store{
		jobs: xsync.NewMap[string, *entry](),
		now:  time.Now,
	}
}

// Create adds a pending job and returns its id
func (s *Store) Create(resource string, r chunk.Range) string {
	now := s.now()
	id := uuid.NewString()

	s.jobs.Store(id, &entry{job: Job{
		ID:        id,
		Resource:  resource,
		Range:     r,
		Status:    Pending(),
		CreatedAt: now,
		UpdatedAt: now,
	}})

	return id
}

// Get returns a copy of the job
func (s *Store) Get(id string) (Job, error) {
	e, ok := s.jobs.Load(id)
	if !ok {
		return Job{}, ErrNotFound
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.job.clone(), nil
}

// Update applies fn to the job under its write lock
func (s *Store) Update(id string, fn func(j *Job)) error {
	e, ok := s.jobs.Load(id)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wasTerminal := e.job.Status.Terminal()
	fn(&e.job)

	now := s.now()
	e.job.UpdatedAt = now
	if !wasTerminal && e.job.Status.Terminal() {
		e.job.FinishedAt = now
	}

	return nil
}

func (s *Store) Delete(id string) bool {
	_, ok := s.jobs.LoadAndDelete(id)
	return ok
}

func (s *Store) Len() int {
	return s.jobs.Size()
}

// EvictFinished deletes terminal jobs that finished before the cutoff and
// returns their ids
func (s *Store) EvictFinished(before time.Time) []string {
	var evicted []string
	s.jobs.Range(func(id string, e *entry) bool {
		e.mu.RLock()
		expired := e.job.Status.Terminal() && e.job.FinishedAt.Before(before)
		e.mu.RUnlock()

		if expired {
			s.jobs.Delete(id)
			evicted = append(evicted, id)
		}
		return true
	})

	return evicted
}
