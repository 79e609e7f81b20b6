package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every exported stat name
const Namespace = "ris_relay"

type Tracker interface {
	NewDomain(domain string) Builder
	Report(now time.Time) map[string][]StatReport
	Snapshot() []Value
}

type Builder interface {
	NewStat(statType StatType) Stat
}

type StatReport struct {
	statType StatType

	delta uint64
	dur   time.Duration
}

// Value is the cumulative value of one stat at snapshot time
type Value struct {
	Domain string
	Type   StatType
	Value  uint64
}

// Name is the dotted export name, e.g. ris_relay.feed.records_received
func (v Value) Name() string {
	return fmt.Sprintf("%s.%s.%s", Namespace, v.Domain, v.Type)
}

type statTracker struct {
	sync.RWMutex
	reg     prometheus.Registerer
	domains map[string]*statDomain
}

type statDomain struct {
	sync.Mutex
	name  string
	reg   prometheus.Registerer
	stats map[int]*stat
}

type statBuilder struct {
	domain *statDomain
}

// NewStatTracker returns a tracker. When reg is non-nil every stat is also
// registered as a Prometheus counter named <namespace>_<domain>_<stat>_total.
func NewStatTracker(reg prometheus.Registerer) Tracker {
	return &statTracker{
		reg:     reg,
		domains: make(map[string]*statDomain),
	}
}

// Discard returns a builder whose stats are counted but never reported
func Discard() Builder {
	return &statBuilder{domain: &statDomain{stats: make(map[int]*stat)}}
}

func (s *statTracker) NewDomain(domain string) Builder {
	s.Lock()
	defer s.Unlock()

	d, ok := s.domains[domain]
	if ok {
		return &statBuilder{domain: d}
	}

	d = &statDomain{
		name:  domain,
		reg:   s.reg,
		stats: make(map[int]*stat),
	}
	s.domains[domain] = d

	return &statBuilder{domain: d}
}

func (s *statBuilder) NewStat(statType StatType) Stat {
	s.domain.Lock()
	defer s.domain.Unlock()

	if existing, ok := s.domain.stats[int(statType)]; ok {
		return existing
	}

	newStat := &stat{
		statType: statType,
	}
	s.domain.stats[int(statType)] = newStat

	if s.domain.reg != nil {
		s.domain.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: s.domain.name,
			Name:      statType.String() + "_total",
			Help:      fmt.Sprintf("Total %s %s.", s.domain.name, strings.ReplaceAll(statType.String(), "_", " ")),
		}, func() float64 {
			return float64(newStat.Value())
		}))
	}

	return newStat
}

func (d *statDomain) report(now time.Time) []StatReport {
	stats := make(map[int]*stat, len(d.stats))
	d.Lock()
	for k, v := range d.stats {
		stats[k] = v
	}
	d.Unlock()

	reports := make([]StatReport, 0, len(stats))
	for _, s := range stats {
		s.lastReportMut.Lock()

		if s.lastReportTime.IsZero() {
			// handle initialization
			s.lastReportTime = now
			s.lastReportValue = s.value.Load()
			s.lastReportMut.Unlock()
			continue
		}

		currValue := s.value.Load()
		lastReportTime := s.lastReportTime

		reports = append(reports, StatReport{
			statType: s.statType,
			delta:    currValue - s.lastReportValue,
			dur:      now.Sub(lastReportTime),
		})

		s.lastReportTime = now
		s.lastReportValue = currValue

		s.lastReportMut.Unlock()
	}

	sort.Slice(reports, func(i, j int) bool {
		return strings.Compare(reports[i].statType.desc(), reports[j].statType.desc()) < 0
	})

	return reports
}

func (s *statTracker) Report(now time.Time) map[string][]StatReport {
	domains := make(map[string]*statDomain, 0)
	s.RLock()
	for k, d := range s.domains {
		domains[k] = d
	}
	s.RUnlock()

	reports := make(map[string][]StatReport)
	for k, d := range domains {
		domainReports := d.report(now)
		reports[k] = domainReports
	}

	return reports
}

// Snapshot returns the cumulative value of every stat, ordered by domain and type
func (s *statTracker) Snapshot() []Value {
	s.RLock()
	domains := make([]*statDomain, 0, len(s.domains))
	for _, d := range s.domains {
		domains = append(domains, d)
	}
	s.RUnlock()

	values := make([]Value, 0)
	for _, d := range domains {
		d.Lock()
		for _, st := range d.stats {
			values = append(values, Value{Domain: d.name, Type: st.statType, Value: st.Value()})
		}
		d.Unlock()
	}

	sort.Slice(values, func(i, j int) bool {
		if values[i].Domain != values[j].Domain {
			return values[i].Domain < values[j].Domain
		}
		return values[i].Type < values[j].Type
	})

	return values
}

func (s *StatReport) Report() string {
	return fmt.Sprintf("%d %s (%4.2f %s/sec)",
		s.delta, s.statType.desc(),
		float64(s.delta)/s.dur.Seconds()/float64(s.statType.factor()), s.statType.unit(),
	)
}
