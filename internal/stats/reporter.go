package stats

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Reporter periodically logs per-domain rates
type Reporter struct {
	tracker  Tracker
	interval time.Duration
	log      *zap.Logger
}

func NewReporter(tracker Tracker, interval time.Duration, log *zap.Logger) *Reporter {
	return &Reporter{
		tracker:  tracker,
		interval: interval,
		log:      log,
	}
}

func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case now := <-ticker.C:
			r.report(now)
		}
	}
}

func (r *Reporter) report(now time.Time) {
	reports := r.tracker.Report(now)
	if len(reports) == 0 {
		return
	}

	domains := make([]string, 0, len(reports))
	for domain := range reports {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	for _, domain := range domains {
		reportOuts := make([]string, 0)
		for _, rep := range reports[domain] {
			reportOuts = append(reportOuts, rep.Report())
		}
		if len(reportOuts) > 0 {
			r.log.Info("REPORT", zap.String("domain", domain), zap.String("stats", strings.Join(reportOuts, ", ")))
		}
	}
}
