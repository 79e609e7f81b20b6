package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTracker_ReportDeltas(t *testing.T) {
	tracker := NewStatTracker(nil)
	feed := tracker.NewDomain("feed")
	received := feed.NewStat(StatRecordsReceived)

	start := time.Now()
	received.Incr(5)

	// first report only initializes
	reports := tracker.Report(start)
	if len(reports["feed"]) != 0 {
		t.Fatalf("Expected no reports on first pass, got %d", len(reports["feed"]))
	}

	received.Incr(10)
	reports = tracker.Report(start.Add(2 * time.Second))
	if len(reports["feed"]) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reports["feed"]))
	}

	out := reports["feed"][0].Report()
	if !strings.HasPrefix(out, "10 received") {
		t.Errorf("Unexpected report %q", out)
	}
	if !strings.Contains(out, "5.00 records/sec") {
		t.Errorf("Expected rate of 5.00 records/sec in %q", out)
	}
}

func TestTracker_NewStatIsIdempotent(t *testing.T) {
	tracker := NewStatTracker(prometheus.NewRegistry())
	b := tracker.NewDomain("relay")

	s1 := b.NewStat(StatRecordsDelivered)
	s2 := tracker.NewDomain("relay").NewStat(StatRecordsDelivered)
	s1.Incr(1)
	s2.Incr(1)

	if s1.Value() != 2 {
		t.Errorf("Expected shared stat value 2, got %d", s1.Value())
	}
}

func TestTracker_Snapshot(t *testing.T) {
	tracker := NewStatTracker(nil)
	tracker.NewDomain("jobs").NewStat(StatJobsSubmitted).Incr(3)
	tracker.NewDomain("feed").NewStat(StatUpstreamConnects).Incr(1)
	tracker.NewDomain("feed").NewStat(StatRecordsReceived).Incr(7)

	values := tracker.Snapshot()
	if len(values) != 3 {
		t.Fatalf("Expected 3 values, got %d", len(values))
	}

	want := []string{
		"ris_relay.feed.records_received",
		"ris_relay.feed.upstream_connects",
		"ris_relay.jobs.jobs_submitted",
	}
	for i, v := range values {
		if v.Name() != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, v.Name())
		}
	}
	if values[0].Value != 7 {
		t.Errorf("Expected 7 records received, got %d", values[0].Value)
	}
}

func TestTracker_PrometheusExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	tracker := NewStatTracker(reg)
	tracker.NewDomain("relay").NewStat(StatSubscribersJoined).Incr(4)

	expected := `
# HELP ris_relay_relay_subscribers_joined_total Total relay subscribers joined.
# TYPE ris_relay_relay_subscribers_joined_total counter
ris_relay_relay_subscribers_joined_total 4
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "ris_relay_relay_subscribers_joined_total"); err != nil {
		t.Error(err)
	}
}

func TestDiscard(t *testing.T) {
	s := Discard().NewStat(StatPingsSent)
	s.Incr(2)
	if s.Value() != 2 {
		t.Errorf("Expected 2, got %d", s.Value())
	}
}
