package worker

import (
	"github.com/okian/ladder/pkg/logger"
)

// Option applies a configuration option to a Pool.
type Option func(*Pool)

// WithLogger sets a custom logger for the pool and its workers.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOnFailure registers a callback invoked with every trigger whose ingestion failed.
func WithOnFailure(fn func(Trigger)) Option {
	return func(p *Pool) {
		p.onFailure = fn
	}
}
