/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/chunk"
	"github.com/streamfold/ris-relay/internal/config"
	"github.com/streamfold/ris-relay/internal/control"
	"github.com/streamfold/ris-relay/internal/feed"
	"github.com/streamfold/ris-relay/internal/heartbeat"
	"github.com/streamfold/ris-relay/internal/jobs"
	"github.com/streamfold/ris-relay/internal/relay"
	"github.com/streamfold/ris-relay/internal/ripestat"
	"github.com/streamfold/ris-relay/internal/stats"
	"github.com/streamfold/ris-relay/internal/telemetry"
	"github.com/streamfold/ris-relay/internal/worker"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Relay the RIS Live stream to websocket clients and serve the historical job API",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			log.Fatal(err)
		}
	},
}

var serveCfg config.Serve
var customHeaders []string

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVar(&serveCfg.Addr, "addr", control.DefaultAddr, "address to listen on")

	f.StringVar(&serveCfg.RISURL, "ris-url", feed.DefaultURL, "RIS Live websocket URL")
	f.DurationVar(&serveCfg.RetryDelay, "ris-retry-delay", feed.DefaultRetryDelay, "Delay before reconnecting to RIS Live")
	f.DurationVar(&serveCfg.MaxRetryDelay, "ris-backoff-max", 0, "When larger than the retry delay, back off exponentially up to this delay")
	f.DurationVar(&serveCfg.RISReadTimeout, "ris-read-timeout", feed.DefaultReadTimeout, "Reconnect when RIS Live is silent for this long, 0 disables")
	f.StringVar(&serveCfg.SubscribeHost, "ris-host", "", "Only subscribe to updates from this route collector, e.g. rrc00")
	f.StringVar(&serveCfg.SubscribePrefix, "ris-prefix", "", "Only subscribe to updates for this prefix and more specifics")

	f.DurationVar(&serveCfg.WriteTimeout, "write-timeout", relay.DefaultWriteTimeout, "Per message write timeout to subscribers")
	f.DurationVar(&serveCfg.PingInterval, "ping-interval", heartbeat.DefaultInterval, "Interval between subscriber liveness checks")
	f.DurationVar(&serveCfg.PingTimeout, "ping-timeout", heartbeat.DefaultTimeout, "Remove subscribers silent for longer than this")

	f.DurationVar(&serveCfg.ChunkSpan, "chunk-span", chunk.DefaultMaxSpan, "Maximum time span fetched per historical chunk")
	f.IntVar(&serveCfg.MaxChunks, "max-chunks", jobs.DefaultMaxChunks, "Maximum number of chunks a single job may fetch")
	f.IntVar(&serveCfg.MaxRecords, "max-records", ripestat.DefaultMaxRecords, "Maximum records requested per chunk")
	f.DurationVar(&serveCfg.JobTTL, "job-ttl", jobs.DefaultTTL, "How long finished jobs are kept, 0 keeps them forever")
	f.StringVar(&serveCfg.JobSweep, "job-sweep", jobs.DefaultSweepSpec, "Cron schedule of the finished job sweep")
	f.StringVar(&serveCfg.RIPEstatURL, "ripestat-url", ripestat.DefaultEndpoint, "RIPEstat bgp-updates endpoint")
	f.Float64Var(&serveCfg.RIPEstatRPS, "ripestat-rps", ripestat.DefaultRPS, "Maximum RIPEstat requests per second")
	f.StringVar(&serveCfg.SourceApp, "sourceapp", "ris-relay", "sourceapp parameter sent to RIPEstat")

	f.DurationVar(&serveCfg.ReportInterval, "report-interval", 30*time.Second, "Interval to log statistics, 0 disables")

	f.StringVar(&serveCfg.OTLPEndpoint, "otlp-endpoint", "", "Export statistics to this OTLP endpoint")
	f.StringVar(&serveCfg.OTLPProtocol, "otlp-protocol", "grpc", "OTLP protocol: grpc or http")
	f.DurationVar(&serveCfg.OTLPInterval, "otlp-interval", telemetry.DefaultInterval, "Interval between OTLP exports")
	f.StringSliceVar(&customHeaders, "header", []string{}, "Custom OTLP headers to send (format: 'Key=Value', can be repeated)")
}

func runServe() error {
	zl, err := config.NewLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	headers, err := parseCustomHeaders()
	if err != nil {
		return err
	}
	serveCfg.OTLPHeaders = headers

	if err := serveCfg.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tracker := stats.NewStatTracker(reg)

	r, err := relay.New(relay.Config{
		Feed: feed.Config{
			URL: serveCfg.RISURL,
			Subscription: feed.Subscription{
				Host:         serveCfg.SubscribeHost,
				Prefix:       serveCfg.SubscribePrefix,
				MoreSpecific: serveCfg.SubscribePrefix != "",
			},
			RetryDelay:    serveCfg.RetryDelay,
			MaxRetryDelay: serveCfg.MaxRetryDelay,
			ReadTimeout:   serveCfg.RISReadTimeout,
		},
		Heartbeat: heartbeat.Config{
			Interval: serveCfg.PingInterval,
			Timeout:  serveCfg.PingTimeout,
		},
		WriteTimeout: serveCfg.WriteTimeout,
	}, zl, tracker)
	if err != nil {
		return err
	}

	stat := ripestat.New(ripestat.Config{
		Endpoint:  serveCfg.RIPEstatURL,
		RPS:       serveCfg.RIPEstatRPS,
		SourceApp: serveCfg.SourceApp,
	}, zl.Named("ripestat"), tracker.NewDomain("ripestat"))

	jobLog := zl.Named("jobs")
	mgr := jobs.NewManager(jobs.ManagerConfig{
		Runner: jobs.RunnerConfig{
			MaxSpan:    serveCfg.ChunkSpan,
			MaxRecords: serveCfg.MaxRecords,
			Transition: func(id string, st jobs.Status) {
				jobLog.Debug("job status", zap.String("job_id", id), zap.Stringer("status", st))
			},
		},
		TTL:       serveCfg.JobTTL,
		SweepSpec: serveCfg.JobSweep,
		MaxChunks: serveCfg.MaxChunks,
	}, stat, jobLog, tracker.NewDomain("jobs"))

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: stats.Namespace,
			Name:      "subscribers",
			Help:      "Connected websocket subscribers.",
		}, func() float64 { return float64(r.Subscribers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: stats.Namespace,
			Name:      "jobs_active",
			Help:      "Historical jobs currently running.",
		}, func() float64 { return float64(mgr.Active()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: stats.Namespace,
			Name:      "jobs_stored",
			Help:      "Historical jobs held in memory.",
		}, func() float64 { return float64(mgr.Len()) }),
	)

	aux := worker.New(worker.Config{}, zl.Named("workers"))
	if serveCfg.ReportInterval > 0 {
		if err := aux.Add("stats-reporter", stats.NewReporter(tracker, serveCfg.ReportInterval, zl.Named("stats"))); err != nil {
			return err
		}
	}

	var exporter *telemetry.MetricsExporter
	if serveCfg.OTLPEndpoint != "" {
		exporter, err = telemetry.NewMetricsExporter(telemetry.ExporterConfig{
			Endpoint: serveCfg.OTLPEndpoint,
			UseGRPC:  serveCfg.OTLPProtocol == "grpc",
			Headers:  serveCfg.OTLPHeaders,
			Interval: serveCfg.OTLPInterval,
			Version:  version,
		}, tracker, zl.Named("otlp"))
		if err != nil {
			return err
		}
		if err := aux.Add("otlp-exporter", exporter); err != nil {
			return err
		}
	}

	srv := control.New(control.Config{
		Addr:       serveCfg.Addr,
		MaxRecords: serveCfg.MaxRecords,
	}, r, mgr, stat, reg, zl.Named("control"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(); err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		mgr.Stop()
		return err
	}
	if err := aux.Start(ctx); err != nil {
		r.Stop()
		mgr.Stop()
		return err
	}
	if err := srv.Start(); err != nil {
		aux.Stop()
		r.Stop()
		mgr.Stop()
		return err
	}

	zl.Info("ris-relay has been started",
		zap.String("addr", srv.Addr()),
		zap.String("websocket", fmt.Sprintf("ws://%s/ws/ris-live", srv.Addr())),
	)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(
		signalChan,
		syscall.SIGHUP,  // kill -SIGHUP XXXX
		syscall.SIGINT,  // kill -SIGINT XXXX or Ctrl+c
		syscall.SIGQUIT, // kill -SIGQUIT XXXX
		syscall.SIGTERM,
	)

	sig := <-signalChan
	zl.Info("killed with signal", zap.String("signal", sig.String()))
	zl.Info("shutting down")

	cancel()
	err = srv.Stop()
	r.Stop()
	mgr.Stop()
	aux.Stop()
	if exporter != nil {
		err = multierr.Append(err, exporter.Close())
	}

	return err
}

func parseCustomHeaders() (map[string]string, error) {
	headers := make(map[string]string)
	for _, h := range customHeaders {
		parts := strings.SplitN(h, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid header format: %q (expected 'Key=Value')", h)
		}
		headers[parts[0]] = parts[1]
	}
	return headers, nil
}
