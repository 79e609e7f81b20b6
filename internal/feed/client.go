package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/stats"
	"github.com/streamfold/ris-relay/internal/update"
)

const (
	DefaultURL              = "wss://ris-live.ripe.net/v1/ws/?client=ris-relay"
	DefaultRetryDelay       = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 60 * time.Second
)

var (
	ErrNoURL          = errors.New("upstream feed URL is required")
	ErrUpstreamClosed = errors.New("upstream closed the connection")
)

// Publisher receives every parsed update
type Publisher interface {
	Broadcast(rec update.Record) int
}

type Config struct {
	URL          string
	Subscription Subscription

	// RetryDelay is the wait between reconnect attempts
	RetryDelay time.Duration

	// MaxRetryDelay, when larger than RetryDelay, turns the fixed delay into
	// capped exponential backoff
	MaxRetryDelay time.Duration

	HandshakeTimeout time.Duration

	// ReadTimeout bounds the silence tolerated on the upstream connection, 0 disables it
	ReadTimeout time.Duration
}

// Client owns the single upstream connection
type Client struct {
	cfg    Config
	log    *zap.Logger
	pub    Publisher
	dialer *websocket.Dialer

	connected atomic.Bool

	statConnects stats.Stat
	statFailures stats.Stat
	statReceived stats.Stat
	statDropped  stats.Stat
}

func New(cfg Config, pub Publisher, log *zap.Logger, sb stats.Builder) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &Client{
		cfg: cfg,
		log: log,
		pub: pub,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		statConnects: sb.NewStat(stats.StatUpstreamConnects),
		statFailures: sb.NewStat(stats.StatUpstreamFailures),
		statReceived: sb.NewStat(stats.StatRecordsReceived),
		statDropped:  sb.NewStat(stats.StatRecordsDropped),
	}, nil
}

// Connected reports whether a subscribed upstream session is active
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run keeps an upstream session open until ctx is cancelled. Connection
// errors never end Run, they are logged and retried after the retry delay.
func (c *Client) Run(ctx context.Context) error {
	policy := c.newBackOff()

	op := func() error {
		err := c.session(ctx, policy)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = ErrUpstreamClosed
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		c.statFailures.Incr(1)
		c.log.Warn("upstream feed unavailable", zap.Error(err), zap.Duration("retry_in", next))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) newBackOff() backoff.BackOff {
	if c.cfg.MaxRetryDelay <= c.cfg.RetryDelay {
		return backoff.NewConstantBackOff(c.cfg.RetryDelay)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.MaxInterval = c.cfg.MaxRetryDelay
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// session runs one connection: dial, subscribe once, then read until error
func (c *Client) session(ctx context.Context, policy backoff.BackOff) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial upstream: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	if err := conn.WriteJSON(c.cfg.Subscription.message()); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}

	c.connected.Store(true)
	defer c.connected.Store(false)

	c.statConnects.Incr(1)
	policy.Reset()
	c.log.Info("subscribed to upstream feed", zap.String("url", c.cfg.URL))

	for {
		if c.cfg.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
				return fmt.Errorf("read upstream: %w", err)
			}
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: %v", ErrUpstreamClosed, err)
			}
			return fmt.Errorf("read upstream: %w", err)
		}

		if err := c.handle(frame); err != nil {
			return err
		}
	}
}

func (c *Client) handle(frame []byte) error {
	msg, err := update.ParseRIS(frame)
	if err != nil {
		return err
	}

	if msg.Dropped > 0 {
		c.statDropped.Incr(uint64(msg.Dropped))
	}

	switch msg.Kind {
	case update.KindUpdate:
		c.statReceived.Incr(uint64(len(msg.Records)))
		for _, rec := range msg.Records {
			c.pub.Broadcast(rec)
		}

	case update.KindError:
		c.log.Warn("upstream reported an error", zap.String("error", msg.Error))

	default:
		c.log.Debug("ignoring upstream message", zap.String("type", msg.Type))
	}

	return nil
}
