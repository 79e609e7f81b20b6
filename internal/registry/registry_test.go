package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/registry/registrytest"
	"github.com/streamfold/ris-relay/internal/stats"
	"github.com/streamfold/ris-relay/internal/update"
)

func newRegistry() *Registry {
	return New(zap.NewNop(), stats.Discard())
}

func testRecord() update.Record {
	return update.Record{
		Prefix:    "192.0.2.0/24",
		OriginAS:  mo.Some[uint32](64500),
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func contains(subs []Subscriber, id string) bool {
	for _, s := range subs {
		if s.ID() == id {
			return true
		}
	}
	return false
}

func TestRegistry_AddRemove(t *testing.T) {
	reg := newRegistry()
	s := registrytest.New("a", time.Now())

	assert.True(t, reg.Add(s))
	assert.True(t, contains(reg.Snapshot(), "a"))

	assert.True(t, reg.Remove(s))
	assert.False(t, contains(reg.Snapshot(), "a"))
	assert.Equal(t, 1, s.Closes())

	// second remove is a no-op
	assert.False(t, reg.Remove(s))
	assert.Equal(t, 1, s.Closes())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	reg := newRegistry()
	s := registrytest.New("a", time.Now())

	assert.True(t, reg.Add(s))
	assert.False(t, reg.Add(s))
	assert.Equal(t, 1, reg.Len())

	delivered := reg.Broadcast(testRecord())
	assert.Equal(t, 1, delivered)
	assert.Len(t, s.Sent(), 1, "duplicate add must not cause duplicate delivery")
}

func TestRegistry_BroadcastDropsFailingSubscriber(t *testing.T) {
	reg := newRegistry()

	good1 := registrytest.New("good-1", time.Now())
	bad := registrytest.New("bad", time.Now())
	bad.SendErr = errors.New("broken pipe")
	good2 := registrytest.New("good-2", time.Now())

	reg.Add(good1)
	reg.Add(bad)
	reg.Add(good2)

	delivered := reg.Broadcast(testRecord())
	assert.Equal(t, 2, delivered)

	require.Len(t, good1.Sent(), 1)
	require.Len(t, good2.Sent(), 1)
	assert.JSONEq(t, `{"prefix":"192.0.2.0/24","origin_as":64500,"timestamp":"2024-01-01T00:00:00Z"}`, string(good1.Sent()[0]))

	assert.False(t, reg.Contains(bad))
	assert.Equal(t, 1, bad.Closes())
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_BroadcastOrderPerSubscriber(t *testing.T) {
	reg := newRegistry()
	s := registrytest.New("a", time.Now())
	reg.Add(s)

	for i := 0; i < 20; i++ {
		rec := testRecord()
		rec.Prefix = fmt.Sprintf("10.%d.0.0/16", i)
		reg.Broadcast(rec)
	}

	sent := s.Sent()
	require.Len(t, sent, 20)
	for i, payload := range sent {
		var rec update.Record
		require.NoError(t, json.Unmarshal(payload, &rec))
		assert.Equal(t, fmt.Sprintf("10.%d.0.0/16", i), rec.Prefix)
	}
}

func TestRegistry_ConcurrentMembershipDuringBroadcast(t *testing.T) {
	reg := newRegistry()
	for i := 0; i < 10; i++ {
		reg.Add(registrytest.New(fmt.Sprintf("base-%d", i), time.Now()))
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reg.Broadcast(testRecord())
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s := registrytest.New(fmt.Sprintf("churn-%d", i), time.Now())
			reg.Add(s)
			reg.Remove(s)
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = reg.Snapshot()
		}
	}()

	wg.Wait()
	assert.Equal(t, 10, reg.Len())
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := newRegistry()
	subs := []*registrytest.Subscriber{
		registrytest.New("a", time.Now()),
		registrytest.New("b", time.Now()),
	}
	for _, s := range subs {
		reg.Add(s)
	}

	reg.CloseAll()
	assert.Equal(t, 0, reg.Len())
	for _, s := range subs {
		assert.Equal(t, 1, s.Closes())
	}
}
