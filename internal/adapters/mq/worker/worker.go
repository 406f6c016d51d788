// Package worker runs ingestion triggers taken from the queue.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/ladder/internal/domain/ingest"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const defaultWorkerCount = 4

// Trigger abstracts what workers read off the queue.
type Trigger = model.Trigger

// Ingester runs one ingestion for a region.
type Ingester interface {
	Ingest(ctx context.Context, region string) (ingest.Result, error)
}

// Queue defines how workers receive triggers.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Trigger
}

// Pool runs a fixed number of workers over one queue. Each trigger is
// handled sequentially by a single worker; workers run in parallel.
type Pool struct {
	size      int
	queue     Queue
	ingester  Ingester
	logger    logger.Logger
	onFailure func(Trigger)

	wg      sync.WaitGroup
	done    chan struct{}
	started bool
}

// NewPool creates a worker pool. workerCount < 1 selects the default.
func NewPool(workerCount int, queue Queue, ingester Ingester, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		size:     workerCount,
		queue:    queue,
		ingester: ingester,
		logger:   logger.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They stop when the queue is closed and
// drained or when ctx ends.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true

	triggers := p.queue.Dequeue(ctx)
	for i := range p.size {
		p.wg.Add(1)
		go p.run(ctx, "worker-"+strconv.Itoa(i), triggers)
	}
	metrics.UpdateWorkerCount(p.size)

	go func() {
		p.wg.Wait()
		metrics.UpdateWorkerCount(0)
		close(p.done)
	}()
}

func (p *Pool) run(ctx context.Context, name string, triggers <-chan Trigger) {
	defer p.wg.Done()
	log := p.logger.Named(name)
	for t := range triggers {
		p.process(ctx, log, t)
	}
}

func (p *Pool) process(ctx context.Context, log logger.Logger, t Trigger) {
	start := time.Now()
	res, err := p.ingester.Ingest(ctx, t.Region)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))

	if err != nil {
		metrics.RecordErrorByComponent("worker", res.Outcome.String())
		log.Error(ctx, "ingestion failed",
			logger.String("event_id", t.EventID),
			logger.String("region", t.Region),
			logger.String("outcome", res.Outcome.String()),
			logger.Error(err),
		)
		if p.onFailure != nil {
			p.onFailure(t)
		}
		return
	}
	log.Debug(ctx, "trigger processed",
		logger.String("event_id", t.EventID),
		logger.String("region", t.Region),
		logger.String("outcome", res.Outcome.String()),
		logger.Duration("queued_for", start.Sub(t.ReceivedAt)),
	)
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Wait blocks until every worker has exited or ctx ends. The caller closes
// the queue first so that workers drain it and exit.
func (p *Pool) Wait(ctx context.Context) error {
	if !p.started {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker pool shutdown timed out")
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}
