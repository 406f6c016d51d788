package ingest

import (
	"time"

	"github.com/okian/ladder/pkg/logger"
)

// DefaultChunkSize keeps each record transaction under the engine's entity ceiling.
const DefaultChunkSize = 480

// Option configures an Ingester.
type Option func(*Ingester)

// WithChunkSize sets the number of records written per transaction.
func WithChunkSize(n int) Option {
	return func(in *Ingester) {
		if n > 0 {
			in.chunkSize = n
		}
	}
}

// WithLocation sets the zone snapshot dates are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(in *Ingester) {
		if loc != nil {
			in.loc = loc
		}
	}
}

// WithLogger sets the ingestion logger.
func WithLogger(l logger.Logger) Option {
	return func(in *Ingester) {
		if l != nil {
			in.log = l
		}
	}
}
