package telemetry

import (
	"bytes"
	gzip2 "compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	otlpMetricsColl "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	otlpCommon "go.opentelemetry.io/proto/otlp/common/v1"
	otlpMetrics "go.opentelemetry.io/proto/otlp/metrics/v1"
	otlpRes "go.opentelemetry.io/proto/otlp/resource/v1"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/streamfold/ris-relay/internal/otlp"
	"github.com/streamfold/ris-relay/internal/stats"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second

	defaultHTTPPath = "/v1/metrics"
)

var ErrNoEndpoint = errors.New("OTLP endpoint is required")

type ExporterConfig struct {
	// Endpoint is host:port for gRPC, or a URL for HTTP
	Endpoint string
	UseGRPC  bool
	Headers  map[string]string
	Interval time.Duration
	Timeout  time.Duration
	Version  string
}

// MetricsExporter periodically pushes the cumulative stats as OTLP sums
type MetricsExporter struct {
	cfg      ExporterConfig
	log      *zap.Logger
	tracker  stats.Tracker
	resource *otlpRes.Resource
	scope    *otlpCommon.InstrumentationScope
	start    time.Time

	endpoint      *url.URL
	client        *http.Client
	conn          *grpc.ClientConn
	metricsClient otlpMetricsColl.MetricsServiceClient
}

func NewMetricsExporter(cfg ExporterConfig, tracker stats.Tracker, log *zap.Logger) (*MetricsExporter, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	e := &MetricsExporter{
		cfg:      cfg,
		log:      log,
		tracker:  tracker,
		resource: otlp.NewResource(cfg.Version),
		scope:    otlp.NewScope(cfg.Version),
		start:    time.Now(),
	}

	if cfg.UseGRPC {
		if err := e.dial(); err != nil {
			return nil, err
		}
		return e, nil
	}

	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint: %w", err)
	}
	if endpoint.Scheme == "" {
		endpoint, err = url.Parse("http://" + cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid OTLP endpoint: %w", err)
		}
	}
	if endpoint.Path == "" || endpoint.Path == "/" {
		endpoint.Path = defaultHTTPPath
	}
	e.endpoint = endpoint
	e.client = &http.Client{Timeout: cfg.Timeout}

	return e, nil
}

func (e *MetricsExporter) dial() error {
	target := e.cfg.Endpoint
	creds := credentials.NewClientTLSFromCert(nil, "")

	if u, err := url.Parse(target); err == nil && u.Host != "" {
		target = u.Host
		if u.Scheme == "http" {
			creds = nil
		}
	} else {
		// bare host:port, treated as plaintext
		creds = nil
	}

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.UseCompressor(gzip.Name)),
	}
	if creds == nil {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP client: %w", err)
	}

	e.conn = conn
	e.metricsClient = otlpMetricsColl.NewMetricsServiceClient(conn)
	return nil
}

// Run exports every interval until ctx is cancelled, then flushes once more
func (e *MetricsExporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.log.Info("exporting metrics over OTLP",
		zap.String("endpoint", e.cfg.Endpoint),
		zap.Bool("grpc", e.cfg.UseGRPC),
		zap.Duration("interval", e.cfg.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
			defer cancel()

			if err := e.Export(flushCtx); err != nil {
				e.log.Warn("final metrics export failed", zap.Error(err))
			}
			return nil

		case <-ticker.C:
			if err := e.Export(ctx); err != nil {
				e.log.Warn("metrics export failed", zap.Error(err))
			}
		}
	}
}

// Export pushes one snapshot of every stat
func (e *MetricsExporter) Export(ctx context.Context) error {
	req := &otlpMetricsColl.ExportMetricsServiceRequest{
		ResourceMetrics: []*otlpMetrics.ResourceMetrics{e.buildResourceMetrics(time.Now())},
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	if e.cfg.UseGRPC {
		return e.exportGRPC(ctx, req)
	}
	return e.exportHTTP(ctx, req)
}

func (e *MetricsExporter) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

func (e *MetricsExporter) exportGRPC(ctx context.Context, req *otlpMetricsColl.ExportMetricsServiceRequest) error {
	if len(e.cfg.Headers) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(e.cfg.Headers))
	}

	resp, err := e.metricsClient.Export(ctx, req)
	if err != nil {
		return err
	}

	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedDataPoints() != 0 {
		return fmt.Errorf("collector rejected %d data points: %s", ps.GetRejectedDataPoints(), ps.GetErrorMessage())
	}
	return nil
}

func (e *MetricsExporter) exportHTTP(ctx context.Context, msg *otlpMetricsColl.ExportMetricsServiceRequest) error {
	buf, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}

	bufOut := bytes.NewBuffer(nil)
	gw := gzip2.NewWriter(bufOut)
	_, err = gw.Write(buf)
	err = multierr.Append(err, gw.Close())
	if err != nil {
		return fmt.Errorf("failed to compress metrics: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint.String(), bufOut)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("unexpected status code received: %d", resp.StatusCode)
	}
	return nil
}

func (e *MetricsExporter) buildResourceMetrics(now time.Time) *otlpMetrics.ResourceMetrics {
	values := e.tracker.Snapshot()
	metrics := make([]*otlpMetrics.Metric, 0, len(values))

	for _, v := range values {
		metrics = append(metrics, &otlpMetrics.Metric{
			Name: v.Name(),
			Unit: v.Type.Unit(),
			Data: &otlpMetrics.Metric_Sum{
				Sum: &otlpMetrics.Sum{
					AggregationTemporality: otlpMetrics.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					IsMonotonic:            true,
					DataPoints: []*otlpMetrics.NumberDataPoint{
						{
							StartTimeUnixNano: uint64(e.start.UnixNano()),
							TimeUnixNano:      uint64(now.UnixNano()),
							Value:             &otlpMetrics.NumberDataPoint_AsInt{AsInt: int64(v.Value)},
						},
					},
				},
			},
		})
	}

	return &otlpMetrics.ResourceMetrics{
		Resource: e.resource,
		ScopeMetrics: []*otlpMetrics.ScopeMetrics{
			{
				Scope:     e.scope,
				Metrics:   metrics,
				SchemaUrl: semconv.SchemaURL,
			},
		},
		SchemaUrl: semconv.SchemaURL,
	}
}
