package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/feed"
	"github.com/streamfold/ris-relay/internal/heartbeat"
	"github.com/streamfold/ris-relay/internal/registry"
	"github.com/streamfold/ris-relay/internal/stats"
	"github.com/streamfold/ris-relay/internal/worker"
)

const (
	DefaultWriteTimeout = 5 * time.Second

	// subscribers only ever send short keepalives
	maxClientMessage = 4096
)

type Config struct {
	Feed         feed.Config
	Heartbeat    heartbeat.Config
	WriteTimeout time.Duration
	RestartDelay time.Duration
}

// Relay wires the upstream feed to the subscriber registry and keeps the
// registry pruned. It also serves the downstream websocket endpoint.
type Relay struct {
	cfg      Config
	log      *zap.Logger
	registry *registry.Registry
	feed     *feed.Client
	monitor  *heartbeat.Monitor
	workers  *worker.Workers
	upgrader websocket.Upgrader
}

func New(cfg Config, log *zap.Logger, tracker stats.Tracker) (*Relay, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	reg := registry.New(log.Named("registry"), tracker.NewDomain("subscribers"))

	fc, err := feed.New(cfg.Feed, reg, log.Named("feed"), tracker.NewDomain("upstream"))
	if err != nil {
		return nil, err
	}

	mon, err := heartbeat.New(cfg.Heartbeat, reg, log.Named("heartbeat"), tracker.NewDomain("heartbeat"))
	if err != nil {
		return nil, err
	}

	w := worker.New(worker.Config{RestartDelay: cfg.RestartDelay}, log.Named("workers"))
	if err := w.Add("feed", fc); err != nil {
		return nil, err
	}
	if err := w.Add("heartbeat", mon); err != nil {
		return nil, err
	}

	return &Relay{
		cfg:      cfg,
		log:      log,
		registry: reg,
		feed:     fc,
		monitor:  mon,
		workers:  w,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Start launches the feed and heartbeat tasks. They run until Stop is
// called or ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	return r.workers.Start(ctx)
}

// Stop halts the background tasks and disconnects every subscriber
func (r *Relay) Stop() {
	r.workers.Stop()
	r.registry.CloseAll()
}

// Subscribers is the number of connected downstream clients
func (r *Relay) Subscribers() int {
	return r.registry.Len()
}

// UpstreamConnected reports whether the upstream feed is currently subscribed
func (r *Relay) UpstreamConnected() bool {
	return r.feed.Connected()
}

// subscribe registers an accepted websocket connection
func (r *Relay) subscribe(conn *websocket.Conn) *wsSubscriber {
	s := newSubscriber(conn, r.cfg.WriteTimeout)
	r.registry.Add(s)

	r.log.Info("subscriber connected", zap.String("subscriber", s.ID()), zap.String("remote_addr", s.remoteAddr))
	return s
}

func (r *Relay) unsubscribe(s registry.Subscriber) {
	if r.registry.Remove(s) {
		r.log.Info("subscriber disconnected", zap.String("subscriber", s.ID()))
	}
}

// ServeHTTP upgrades the request and reads keepalives until the client goes away
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		r.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn.SetReadLimit(maxClientMessage)

	sub := r.subscribe(conn)
	defer r.unsubscribe(sub)

	conn.SetPongHandler(func(string) error {
		sub.touch()
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Debug("subscriber read failed", zap.String("subscriber", sub.ID()), zap.Error(err))
			}
			return
		}

		sub.touch()
		if string(msg) == "ping" {
			if err := sub.write(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}
