// Package registrytest provides an in-memory Subscriber for tests.
package registrytest

import (
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("subscriber closed")

// Subscriber records everything sent to it. SendErr and PingErr make the
// respective call fail; OnPing runs after every successful ping.
type Subscriber struct {
	mu       sync.Mutex
	id       string
	sent     [][]byte
	pings    int
	closes   int
	lastSeen time.Time

	SendErr error
	PingErr error
	OnPing  func(s *Subscriber)
}

func New(id string, lastSeen time.Time) *Subscriber {
	return &Subscriber{id: id, lastSeen: lastSeen}
}

func (s *Subscriber) ID() string {
	return s.id
}

func (s *Subscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SendErr != nil {
		return s.SendErr
	}
	if s.closes > 0 {
		return ErrClosed
	}
	s.sent = append(s.sent, append([]byte(nil), payload...))
	return nil
}

func (s *Subscriber) Ping() error {
	s.mu.Lock()
	if s.PingErr != nil {
		s.mu.Unlock()
		return s.PingErr
	}
	s.pings++
	onPing := s.OnPing
	s.mu.Unlock()

	if onPing != nil {
		onPing(s)
	}
	return nil
}

func (s *Subscriber) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSeen
}

// Touch marks the subscriber as heard from at t
func (s *Subscriber) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = t
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes++
	return nil
}

func (s *Subscriber) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]byte(nil), s.sent...)
}

func (s *Subscriber) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pings
}

func (s *Subscriber) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closes
}
