package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/streamfold/ris-relay/internal/stats"
	"github.com/streamfold/ris-relay/internal/update"
	"go.uber.org/zap"
)

// Subscriber is one downstream connection receiving broadcast updates
type Subscriber interface {
	// ID uniquely identifies the connection
	ID() string

	// Send delivers one broadcast payload
	Send(payload []byte) error

	// Ping sends a liveness probe
	Ping() error

	// LastSeen is when the subscriber was last heard from
	LastSeen() time.Time

	// Close releases the underlying connection, it must be safe to call more than once
	Close() error
}

// Registry is the set of connected subscribers
type Registry struct {
	mu   sync.RWMutex
	log  *zap.Logger
	subs map[string]Subscriber

	statJoined    stats.Stat
	statRemoved   stats.Stat
	statDelivered stats.Stat
	statFailures  stats.Stat
}

func New(log *zap.Logger, sb stats.Builder) *Registry {
	return &Registry{
		log:           log,
		subs:          make(map[string]Subscriber),
		statJoined:    sb.NewStat(stats.StatSubscribersJoined),
		statRemoved:   sb.NewStat(stats.StatSubscribersRemoved),
		statDelivered: sb.NewStat(stats.StatRecordsDelivered),
		statFailures:  sb.NewStat(stats.StatDeliveryFailures),
	}
}

// Add registers s. Adding a subscriber that is already present is a no-op
// and returns false.
func (r *Registry) Add(s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[s.ID()]; exists {
		return false
	}
	r.subs[s.ID()] = s
	r.statJoined.Incr(1)

	r.log.Debug("subscriber added", zap.String("subscriber", s.ID()), zap.Int("subscribers", len(r.subs)))
	return true
}

// Remove unregisters s and closes it. Only the call that actually removes
// the subscriber closes it, later calls return false.
func (r *Registry) Remove(s Subscriber) bool {
	r.mu.Lock()
	cur, exists := r.subs[s.ID()]
	if exists {
		delete(r.subs, s.ID())
	}
	remaining := len(r.subs)
	r.mu.Unlock()

	if !exists {
		return false
	}

	if err := cur.Close(); err != nil {
		r.log.Debug("closing subscriber", zap.String("subscriber", s.ID()), zap.Error(err))
	}
	r.statRemoved.Incr(1)

	r.log.Debug("subscriber removed", zap.String("subscriber", s.ID()), zap.Int("subscribers", remaining))
	return true
}

// Contains reports whether a subscriber with the same ID is registered
func (r *Registry) Contains(s Subscriber) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.subs[s.ID()]
	return exists
}

// Snapshot returns a point-in-time copy of the member set. The copy is safe
// to iterate while subscribers are added or removed concurrently.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs)
}

// Broadcast delivers rec to every registered subscriber and returns the
// number of successful deliveries. A subscriber whose send fails is removed;
// delivery to the others continues.
func (r *Registry) Broadcast(rec update.Record) int {
	payload, err := json.Marshal(rec)
	if err != nil {
		r.log.Error("failed to encode update", zap.Error(err), zap.String("prefix", rec.Prefix))
		return 0
	}

	return r.BroadcastRaw(payload)
}

// BroadcastRaw delivers an already encoded payload, see Broadcast
func (r *Registry) BroadcastRaw(payload []byte) int {
	delivered := 0
	for _, s := range r.Snapshot() {
		if err := s.Send(payload); err != nil {
			r.statFailures.Incr(1)
			r.log.Debug("send failed, dropping subscriber", zap.String("subscriber", s.ID()), zap.Error(err))
			r.Remove(s)
			continue
		}
		delivered++
	}

	r.statDelivered.Incr(uint64(delivered))
	return delivered
}

// CloseAll removes and closes every subscriber
func (r *Registry) CloseAll() {
	for _, s := range r.Snapshot() {
		r.Remove(s)
	}
}
