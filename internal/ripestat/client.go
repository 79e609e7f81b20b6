package ripestat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/streamfold/ris-relay/internal/stats"
)

const (
	DefaultEndpoint   = "https://stat.ripe.net/data/bgp-updates/data.json"
	DefaultTimeout    = 20 * time.Second
	DefaultMaxRecords = 1000
	DefaultRPS        = 4

	// TimeFormat is the format of starttime and endtime query parameters
	TimeFormat = "2006-01-02T15:04:05Z"

	maxResponseBytes = 64 << 20
)

var (
	ErrStatus   = errors.New("unexpected RIPEstat response status")
	ErrNotOK    = errors.New("RIPEstat query not ok")
	ErrTooLarge = errors.New("RIPEstat response too large")
)

// Query is one bgp-updates request
type Query struct {
	Resource   string
	Start      time.Time
	End        time.Time
	MaxRecords int
}

type Config struct {
	Endpoint  string
	Timeout   time.Duration
	RPS       float64
	SourceApp string
}

// Client fetches historical updates from the RIPEstat data API
type Client struct {
	cfg     Config
	log     *zap.Logger
	client  *http.Client
	limiter *rate.Limiter

	statBytes stats.Stat
}

func New(cfg Config, log *zap.Logger, sb stats.Builder) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &Client{
		cfg: cfg,
		log: log,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:   rate.NewLimiter(limit, 1),
		statBytes: sb.NewStat(stats.StatBytesFetched),
	}
}

// Fetch returns the raw response body for q
func (c *Client) Fetch(ctx context.Context, q Query) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(q), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, ErrTooLarge
	}
	c.statBytes.Incr(uint64(len(body)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("%w: status %q: %s", ErrNotOK, env.Status, env.message())
	}

	c.log.Debug("fetched updates",
		zap.String("resource", q.Resource),
		zap.Time("start", q.Start),
		zap.Time("end", q.End),
		zap.Int("bytes", len(body)),
	)

	return json.RawMessage(body), nil
}

func (c *Client) url(q Query) string {
	maxRecords := q.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	params := url.Values{}
	params.Set("resource", q.Resource)
	params.Set("starttime", q.Start.UTC().Format(TimeFormat))
	params.Set("endtime", q.End.UTC().Format(TimeFormat))
	params.Set("max_records", strconv.Itoa(maxRecords))
	if c.cfg.SourceApp != "" {
		params.Set("sourceapp", c.cfg.SourceApp)
	}

	return c.cfg.Endpoint + "?" + params.Encode()
}

type envelope struct {
	Status   string  `json:"status"`
	Messages [][]any `json:"messages"`
}

func (e envelope) message() string {
	for _, m := range e.Messages {
		if len(m) == 2 {
			if s, ok := m[1].(string); ok {
				return s
			}
		}
	}
	return "no message"
}
