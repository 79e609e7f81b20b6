// Package heartbeat prunes downstream subscribers that stopped responding.
//
// Every interval the monitor walks a snapshot of the registry. A subscriber
// not heard from within the timeout window is removed; every other subscriber
// is sent a "ping" text frame. Any message a subscriber sends back refreshes
// its last-seen time, so a client only needs to answer (or talk) once per
// timeout window to stay registered. Probe failures are never escalated, they
// only cause the subscriber to be removed.
package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/streamfold/ris-relay/internal/registry"
	"github.com/streamfold/ris-relay/internal/stats"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 15 * time.Second
)

var ErrInvalidInterval = errors.New("heartbeat interval and timeout must be positive")

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Monitor struct {
	cfg Config
	reg *registry.Registry
	log *zap.Logger
	now func() time.Time

	statPings stats.Stat
}

func New(cfg Config, reg *registry.Registry, log *zap.Logger, sb stats.Builder) (*Monitor, error) {
	if cfg.Interval <= 0 || cfg.Timeout <= 0 {
		return nil, ErrInvalidInterval
	}

	return &Monitor{
		cfg:       cfg,
		reg:       reg,
		log:       log,
		now:       time.Now,
		statPings: sb.NewStat(stats.StatPingsSent),
	}, nil
}

// Run probes subscribers every interval until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info("heartbeat monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("timeout", m.cfg.Timeout),
	)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if pruned := m.Probe(); pruned > 0 {
				m.log.Info("pruned unresponsive subscribers", zap.Int("pruned", pruned), zap.Int("subscribers", m.reg.Len()))
			}
		}
	}
}

// Probe runs one monitor cycle and returns how many subscribers were removed
func (m *Monitor) Probe() int {
	now := m.now()
	pruned := 0

	for _, s := range m.reg.Snapshot() {
		if idle := now.Sub(s.LastSeen()); idle > m.cfg.Timeout {
			m.log.Debug("subscriber timed out", zap.String("subscriber", s.ID()), zap.Duration("idle", idle))
			if m.reg.Remove(s) {
				pruned++
			}
			continue
		}

		if err := s.Ping(); err != nil {
			m.log.Debug("ping failed", zap.String("subscriber", s.ID()), zap.Error(err))
			if m.reg.Remove(s) {
				pruned++
			}
			continue
		}
		m.statPings.Incr(1)
	}

	return pruned
}
