package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

type Stat interface {
	Incr(delta uint64)
	Value() uint64
}

type stat struct {
	statType StatType

	value atomic.Uint64

	lastReportMut   sync.Mutex
	lastReportValue uint64
	lastReportTime  time.Time
}

func (s *stat) Incr(delta uint64) {
	s.value.Add(delta)
}

func (s *stat) Value() uint64 {
	return s.value.Load()
}

type StatType int

const (
	StatRecordsReceived StatType = iota
	StatRecordsDropped
	StatRecordsDelivered
	StatDeliveryFailures
	StatSubscribersJoined
	StatSubscribersRemoved
	StatPingsSent
	StatUpstreamConnects
	StatUpstreamFailures
	StatJobsSubmitted
	StatJobsCompleted
	StatJobsFailed
	StatChunksFetched
	StatBytesFetched
)

func (s StatType) String() string {
	switch s {
	case StatRecordsReceived:
		return "records_received"
	case StatRecordsDropped:
		return "records_dropped"
	case StatRecordsDelivered:
		return "records_delivered"
	case StatDeliveryFailures:
		return "delivery_failures"
	case StatSubscribersJoined:
		return "subscribers_joined"
	case StatSubscribersRemoved:
		return "subscribers_removed"
	case StatPingsSent:
		return "pings_sent"
	case StatUpstreamConnects:
		return "upstream_connects"
	case StatUpstreamFailures:
		return "upstream_failures"
	case StatJobsSubmitted:
		return "jobs_submitted"
	case StatJobsCompleted:
		return "jobs_completed"
	case StatJobsFailed:
		return "jobs_failed"
	case StatChunksFetched:
		return "chunks_fetched"
	case StatBytesFetched:
		return "bytes_fetched"
	default:
		return "unknown"
	}
}

func (s StatType) desc() string {
	switch s {
	case StatRecordsReceived:
		return "received"
	case StatRecordsDropped:
		return "dropped"
	case StatRecordsDelivered:
		return "delivered"
	case StatDeliveryFailures:
		return "failed"
	case StatSubscribersJoined:
		return "joined"
	case StatSubscribersRemoved:
		return "removed"
	case StatPingsSent:
		return "pings"
	case StatUpstreamConnects:
		return "connects"
	case StatUpstreamFailures:
		return "failures"
	case StatJobsSubmitted:
		return "submitted"
	case StatJobsCompleted:
		return "completed"
	case StatJobsFailed:
		return "failed"
	case StatChunksFetched:
		return "chunks"
	case StatBytesFetched:
		return "bytes"
	default:
		return ""
	}
}

// Unit is the UCUM unit used when the stat is exported
func (s StatType) Unit() string {
	switch s {
	case StatBytesFetched:
		return "By"
	default:
		return "1"
	}
}

func (s StatType) unit() string {
	switch s {
	case StatRecordsReceived, StatRecordsDropped, StatRecordsDelivered:
		return "records"
	case StatDeliveryFailures:
		return "sends"
	case StatSubscribersJoined, StatSubscribersRemoved:
		return "subscribers"
	case StatPingsSent:
		return "pings"
	case StatUpstreamConnects, StatUpstreamFailures:
		return "connections"
	case StatJobsSubmitted, StatJobsCompleted, StatJobsFailed:
		return "jobs"
	case StatChunksFetched:
		return "chunks"
	case StatBytesFetched:
		return "KiB"
	default:
		return ""
	}
}

func (s StatType) factor() float64 {
	switch s {
	case StatBytesFetched:
		return 1024.0
	default:
		return 1.0
	}
}
