package ripestat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/filter"
	"github.com/streamfold/ris-relay/internal/stats"
)

const samplePayload = `{
  "status": "ok",
  "messages": [],
  "data": {
    "resource": "192.0.2.0/24",
    "updates": [
      {"timestamp": "2024-01-01T00:00:05", "type": "A", "seq": 1,
       "attrs": {"target_prefix": "192.0.2.0/24", "path": [3333, 1103, 64500], "source_id": "00-192.0.2.254"}},
      {"timestamp": "2024-01-01T00:10:00", "type": "W", "seq": 2,
       "attrs": {"target_prefix": "192.0.2.0/24", "source_id": "00-192.0.2.254"}},
      {"timestamp": "2024-01-01T00:11:00", "type": "A", "seq": 3,
       "attrs": {"target_prefix": "192.0.2.0/25", "path": [3333, [64500, 64501]], "source_id": "01-198.51.100.1"}},
      {"timestamp": "garbage", "type": "A", "seq": 4, "attrs": {"target_prefix": "192.0.2.0/26"}},
      {"timestamp": "2024-01-01T00:12:00", "type": "X", "seq": 5, "attrs": {"target_prefix": "192.0.2.0/27"}}
    ]
  }
}`

var (
	qStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	qEnd   = time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
)

func TestFetch_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "AS64500", q.Get("resource"))
		assert.Equal(t, "2024-01-01T00:00:00Z", q.Get("starttime"))
		assert.Equal(t, "2024-01-01T02:00:00Z", q.Get("endtime"))
		assert.Equal(t, "1000", q.Get("max_records"))
		assert.Equal(t, "ris-relay-test", q.Get("sourceapp"))

		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	tracker := stats.NewStatTracker(nil)
	c := New(Config{Endpoint: srv.URL, SourceApp: "ris-relay-test"}, zap.NewNop(), tracker.NewDomain("ripestat"))

	body, err := c.Fetch(context.Background(), Query{Resource: "AS64500", Start: qStart, End: qEnd})
	require.NoError(t, err)
	assert.JSONEq(t, samplePayload, string(body))

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(len(samplePayload)), snap[0].Value)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", wantErr: ErrStatus},
		{name: "not ok", status: http.StatusOK, body: `{"status":"error","messages":[["error","Invalid resource"]]}`, wantErr: ErrNotOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{Endpoint: srv.URL}, zap.NewNop(), stats.Discard())
			_, err := c.Fetch(context.Background(), Query{Resource: "AS1", Start: qStart, End: qEnd})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop(), stats.Discard())
	_, err := c.Fetch(context.Background(), Query{Resource: "AS1", Start: qStart, End: qEnd})
	require.Error(t, err)
}

func TestFetch_RateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"status":"ok","data":{"updates":[]}}`))
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, RPS: 10}, zap.NewNop(), stats.Discard())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), Query{Resource: "AS1", Start: qStart, End: qEnd})
		require.NoError(t, err)
	}

	// burst of one, then 100ms per request
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_CancelledWhileWaiting(t *testing.T) {
	c := New(Config{Endpoint: "http://127.0.0.1:0", RPS: 0.001}, zap.NewNop(), stats.Discard())

	// consume the single token
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, Query{Resource: "AS1", Start: qStart, End: qEnd})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStatus))
}

func TestUpdates(t *testing.T) {
	entries, err := Updates([]byte(samplePayload))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, filter.Entry{
		Timestamp: time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC),
		Type:      filter.TypeAnnouncement,
		Prefix:    "192.0.2.0/24",
		OriginAS:  mo.Some[uint32](64500),
		PeerAS:    mo.Some[uint32](3333),
		Info:      "3333 1103 64500",
	}, entries[0])

	assert.Equal(t, filter.TypeWithdrawal, entries[1].Type)
	assert.True(t, entries[1].OriginAS.IsAbsent())
	assert.True(t, entries[1].PeerAS.IsAbsent())
	assert.Equal(t, "00-192.0.2.254", entries[1].Info)

	// AS set origin
	assert.True(t, entries[2].OriginAS.IsAbsent())
	assert.Equal(t, mo.Some[uint32](3333), entries[2].PeerAS)
}

func TestUpdates_Malformed(t *testing.T) {
	_, err := Updates([]byte(`{"data":`))
	assert.Error(t, err)
}
