package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes the environment variable of every flag
const EnvPrefix = "RIS_RELAY"

// LoadDotEnv loads a .env file into the environment. A missing file is not
// an error, variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// EnvName maps a flag name to its environment variable, e.g. ping-interval
// becomes RIS_RELAY_PING_INTERVAL
func EnvName(prefix, flag string) string {
	return prefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// BindEnv sets every flag not given on the command line from its
// environment variable
func BindEnv(fs *pflag.FlagSet, prefix string) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}

		val, ok := os.LookupEnv(EnvName(prefix, f.Name))
		if !ok {
			return
		}
		if setErr := fs.Set(f.Name, val); setErr != nil {
			err = multierr.Append(err, fmt.Errorf("invalid %s: %w", EnvName(prefix, f.Name), setErr))
		}
	})
	return err
}

// NewLogger builds a console (development) or json (production) logger
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch format {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// Serve holds the settings of the serve command
type Serve struct {
	Addr string

	RISURL          string
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	RISReadTimeout  time.Duration
	SubscribeHost   string
	SubscribePrefix string

	WriteTimeout time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration

	ChunkSpan   time.Duration
	MaxChunks   int
	MaxRecords  int
	JobTTL      time.Duration
	JobSweep    string
	RIPEstatURL string
	RIPEstatRPS float64
	SourceApp   string

	ReportInterval time.Duration

	OTLPEndpoint string
	OTLPProtocol string
	OTLPInterval time.Duration
	OTLPHeaders  map[string]string
}

func (c Serve) Validate() error {
	var err error

	if c.Addr == "" {
		err = multierr.Append(err, errors.New("addr is required"))
	}
	if c.RISURL == "" {
		err = multierr.Append(err, errors.New("ris-url is required"))
	}
	if c.RetryDelay <= 0 {
		err = multierr.Append(err, errors.New("ris-retry-delay must be positive"))
	}
	if c.PingInterval <= 0 || c.PingTimeout <= 0 {
		err = multierr.Append(err, errors.New("ping-interval and ping-timeout must be positive"))
	}
	if c.PingTimeout < c.PingInterval {
		err = multierr.Append(err, errors.New("ping-timeout must not be shorter than ping-interval"))
	}
	if c.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("write-timeout must be positive"))
	}
	if c.ChunkSpan <= 0 {
		err = multierr.Append(err, errors.New("chunk-span must be positive"))
	}
	if c.MaxChunks <= 0 {
		err = multierr.Append(err, errors.New("max-chunks must be positive"))
	}
	if c.MaxRecords <= 0 {
		err = multierr.Append(err, errors.New("max-records must be positive"))
	}
	if c.JobTTL > 0 {
		if _, perr := cron.ParseStandard(c.JobSweep); perr != nil {
			err = multierr.Append(err, fmt.Errorf("invalid job-sweep schedule: %w", perr))
		}
	}
	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		err = multierr.Append(err, fmt.Errorf("otlp-protocol must be grpc or http, got %q", c.OTLPProtocol))
	}

	return err
}
