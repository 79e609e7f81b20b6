package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/chunk"
	"github.com/streamfold/ris-relay/internal/ripestat"
	"github.com/streamfold/ris-relay/internal/stats"
)

const ReasonCancelled = "job cancelled"

// Fetcher retrieves the historical updates of one chunk
type Fetcher interface {
	Fetch(ctx context.Context, q ripestat.Query) (json.RawMessage, error)
}

type RunnerConfig struct {
	MaxSpan    time.Duration
	MaxRecords int

	// Transition, when set, observes every status change of every job
	Transition func(id string, st Status)
}

// Runner drives jobs through their chunks, one chunk at a time
type Runner struct {
	cfg     RunnerConfig
	store   *Store
	fetcher Fetcher
	log     *zap.Logger

	statCompleted stats.Stat
	statFailed    stats.Stat
	statChunks    stats.Stat
}

func NewRunner(cfg RunnerConfig, store *Store, fetcher Fetcher, log *zap.Logger, sb stats.Builder) *Runner {
	if cfg.MaxSpan <= 0 {
		cfg.MaxSpan = chunk.DefaultMaxSpan
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = ripestat.DefaultMaxRecords
	}

	return &Runner{
		cfg:           cfg,
		store:         store,
		fetcher:       fetcher,
		log:           log,
		statCompleted: sb.NewStat(stats.StatJobsCompleted),
		statFailed:    sb.NewStat(stats.StatJobsFailed),
		statChunks:    sb.NewStat(stats.StatChunksFetched),
	}
}

// Run processes job id to a terminal status. Fetch errors fail the job
// without retrying; cancelling ctx fails it with ReasonCancelled. The
// returned error is only non-nil when the job vanished from the store.
func (r *Runner) Run(ctx context.Context, id string) error {
	job, err := r.store.Get(id)
	if err != nil {
		return err
	}

	log := r.log.With(zap.String("job_id", id), zap.String("resource", job.Resource))

	chunks, err := chunk.Plan(job.Range, r.cfg.MaxSpan)
	if err != nil {
		return r.fail(log, id, fmt.Sprintf("invalid range: %v", err))
	}

	total := len(chunks)
	if err := r.store.Update(id, func(j *Job) { j.TotalChunks = total }); err != nil {
		return err
	}
	log.Info("job started", zap.Int("chunks", total), zap.Stringer("range", job.Range))

	for i, c := range chunks {
		if ctx.Err() != nil {
			return r.fail(log, id, ReasonCancelled)
		}

		if err := r.transition(id, Processing(i+1, total)); err != nil {
			return err
		}

		data, err := r.fetcher.Fetch(ctx, ripestat.Query{
			Resource:   job.Resource,
			Start:      c.Start,
			End:        c.End,
			MaxRecords: r.cfg.MaxRecords,
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(log, id, ReasonCancelled)
			}
			return r.fail(log, id, fmt.Sprintf("chunk %d/%d (%s): %v", i+1, total, c, err))
		}
		r.statChunks.Incr(1)

		err = r.store.Update(id, func(j *Job) {
			j.ChunkResults = append(j.ChunkResults, ChunkResult{Range: c, Data: data})
		})
		if err != nil {
			return err
		}
	}

	if err := r.transition(id, Completed()); err != nil {
		return err
	}
	r.statCompleted.Incr(1)
	log.Info("job completed", zap.Int("chunks", total))

	return nil
}

func (r *Runner) transition(id string, st Status) error {
	if err := r.store.Update(id, func(j *Job) { j.Status = st }); err != nil {
		return err
	}
	if r.cfg.Transition != nil {
		r.cfg.Transition(id, st)
	}
	return nil
}

func (r *Runner) fail(log *zap.Logger, id, reason string) error {
	r.statFailed.Incr(1)
	log.Warn("job failed", zap.String("reason", reason))

	if err := r.transition(id, Failed(reason)); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
