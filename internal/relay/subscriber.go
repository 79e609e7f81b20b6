package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var errSubscriberClosed = errors.New("subscriber connection closed")

// wsSubscriber is one downstream websocket connection. Writes are
// serialized and bounded by the write timeout.
type wsSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	remoteAddr   string

	writeMu  sync.Mutex
	closed   bool
	lastSeen atomic.Int64

	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *wsSubscriber {
	s := &wsSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
		remoteAddr:   conn.RemoteAddr().String(),
	}
	s.touch()
	return s
}

func (s *wsSubscriber) ID() string {
	return s.id
}

func (s *wsSubscriber) Send(payload []byte) error {
	return s.write(websocket.TextMessage, payload)
}

// Ping sends the application level "ping" text frame
func (s *wsSubscriber) Ping() error {
	return s.write(websocket.TextMessage, []byte("ping"))
}

func (s *wsSubscriber) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *wsSubscriber) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *wsSubscriber) write(messageType int, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return errSubscriberClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, payload)
}

func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}
