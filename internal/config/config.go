// Package config defines service configuration and its defaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Storage drivers understood by StoreDriver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// DefaultRankingURL is the division leaderboard endpoint of the public ranking API.
const DefaultRankingURL = "https://www.dota2.com/webapi/ILeaderboard/GetDivisionLeaderboard/v0001"

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver is memory or postgres.
	StoreDriver string `koanf:"store_driver"`
	DatabaseDSN string `koanf:"database_dsn"`

	RankingURL      string  `koanf:"ranking_url"`
	FetchTimeoutMS  int     `koanf:"fetch_timeout_ms"`
	FetchRatePerSec float64 `koanf:"fetch_rate_per_sec"`

	// ChunkSize is the number of records written per transaction.
	ChunkSize int `koanf:"chunk_size"`
	// MaxTxEntities is the in-memory engine's per-transaction ceiling.
	MaxTxEntities int `koanf:"max_tx_entities"`

	// Timezone names the location snapshot dates are rendered in.
	Timezone string `koanf:"timezone"`

	QueueSize   int `koanf:"queue_size"`
	WorkerCount int `koanf:"worker_count"`
	DedupeSize  int `koanf:"dedupe_size"`

	// MaxPageLimit caps the limit query parameter of read endpoints.
	MaxPageLimit int `koanf:"max_page_limit"`

	// NATSURL enables the trigger subscriber when non-empty.
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`
	NATSQueue   string `koanf:"nats_queue"`

	// MetricsNamespace and MetricsSubsystem prefix every exported series.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`
	// MetricsLabels holds constant labels as "key=value,key=value".
	MetricsLabels string `koanf:"metrics_labels"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		StoreDriver:     DriverMemory,
		RankingURL:      DefaultRankingURL,
		FetchTimeoutMS:  10_000,
		FetchRatePerSec: 1,
		ChunkSize:       480,
		MaxTxEntities:   500,
		Timezone:        "Local",
		QueueSize:       1000,
		WorkerCount:     4,
		DedupeSize:      10_000,
		MaxPageLimit:    500,
		NATSSubject:     "ladder.ingest",
		NATSQueue:       "ladder",

		MetricsNamespace: "ladder",
		MetricsSubsystem: "snapshots",
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	case c.MaxTxEntities > 0 && c.ChunkSize > c.MaxTxEntities:
		return fmt.Errorf("%w: chunk_size %d exceeds max_tx_entities %d", ErrInvalidConfig, c.ChunkSize, c.MaxTxEntities)
	case c.QueueSize <= 0 || c.WorkerCount <= 0:
		return fmt.Errorf("%w: queue_size and worker_count must be positive", ErrInvalidConfig)
	case c.MaxPageLimit <= 0:
		return fmt.Errorf("%w: max_page_limit must be positive", ErrInvalidConfig)
	case c.FetchTimeoutMS <= 0:
		return fmt.Errorf("%w: fetch_timeout_ms must be positive", ErrInvalidConfig)
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%w: database_dsn is required for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.ConstLabels(); err != nil {
		return err
	}
	return nil
}

// ConstLabels parses MetricsLabels. An empty setting yields no labels.
func (c *Config) ConstLabels() (map[string]string, error) {
	labels := map[string]string{}
	for pair := range strings.SplitSeq(c.MetricsLabels, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%w: metrics_labels entry %q is not key=value", ErrInvalidConfig, pair)
		}
		labels[k] = v
	}
	return labels, nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	return loc, nil
}

// FetchTimeout returns FetchTimeoutMS as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}
