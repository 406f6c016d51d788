// Package service wires the ingestion pipeline and the read queries into
// the dependencies required by the HTTP API and the trigger transports.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ladder/internal/adapters/mq/queue"
	"github.com/okian/ladder/internal/adapters/mq/worker"
	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/domain/dedupe"
	"github.com/okian/ladder/internal/domain/ingest"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/query"
	"github.com/okian/ladder/internal/domain/types"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

var (
	// ErrNotStarted is returned by Submit before Start or after Stop.
	ErrNotStarted = errors.New("service not started")
	// ErrBackpressure is returned by Submit when the trigger queue is full.
	ErrBackpressure = errors.New("trigger queue is full")
	// ErrStopped is returned by Start after Stop closed the gateway.
	ErrStopped = errors.New("service stopped")
)

// Service implements the API dependencies for the snapshot pipeline.
type Service struct {
	mu sync.RWMutex

	gateway  repository.Gateway
	fetcher  ingest.Fetcher
	ingester *ingest.Ingester
	queries  *query.Service
	deduper  dedupe.Deduper
	queue    queue.Queue
	pool     *worker.Pool

	workerCount  int
	queueSize    int
	dedupeSize   int
	chunkSize    int
	maxPageLimit int
	location     *time.Location

	started bool
	stopped bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithGateway sets the storage gateway. The service closes it on Stop.
func WithGateway(gw repository.Gateway) Option {
	return func(s *Service) {
		if gw != nil {
			s.gateway = gw
		}
	}
}

// WithFetcher sets the leaderboard source used by workers.
func WithFetcher(f ingest.Fetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithWorkerCount sets the number of ingestion workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the trigger queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many trigger ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithChunkSize sets the number of records written per transaction.
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithMaxPageLimit caps the limit of read queries.
func WithMaxPageLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPageLimit = n
		}
	}
}

// WithLocation sets the timezone snapshot dates are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Without WithGateway it stores snapshots in memory.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  4,
		queueSize:    1000,
		dedupeSize:   10_000,
		chunkSize:    ingest.DefaultChunkSize,
		maxPageLimit: query.DefaultMaxLimit,
		location:     time.Local,
		logger:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gateway == nil {
		s.gateway = repository.NewMemStore()
	}

	s.ingester = ingest.New(s.gateway, s.fetcher,
		ingest.WithChunkSize(s.chunkSize),
		ingest.WithLocation(s.location),
		ingest.WithLogger(s.logger.Named("ingest")),
	)
	s.queries = query.New(s.gateway,
		query.WithMaxLimit(s.maxPageLimit),
		query.WithLogger(s.logger.Named("query")),
	)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start creates the trigger queue and launches the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	s.logger.Info(ctx, "starting snapshot service")

	// Workers outlive the request that started them; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(s.workerCount, s.queue, s.ingester,
		worker.WithLogger(s.logger.Named("worker")),
		worker.WithOnFailure(func(t worker.Trigger) {
			s.deduper.Unrecord(runCtx, t.EventID)
		}),
	)
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "snapshot service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("chunkSize", s.chunkSize),
	)
	return nil
}

// Stop closes the queue, waits for workers to drain it and closes the
// gateway. Workers still running when ctx ends are cancelled. Stop also
// closes the gateway of a service that was never started.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var waitErr error
	if s.started {
		s.logger.Info(ctx, "stopping snapshot service")
		s.started = false

		_ = s.queue.Close()
		waitErr = s.pool.Wait(ctx)
		s.cancel()
		s.logger.Info(context.WithoutCancel(ctx), "snapshot service stopped")
	}

	s.stopped = true
	var closeErr error
	if err := s.gateway.Close(); err != nil && !errors.Is(err, repository.ErrClosed) {
		closeErr = fmt.Errorf("close gateway: %w", err)
	}
	return errors.Join(waitErr, closeErr)
}

// Submit queues an ingestion trigger. It reports false when the trigger id
// was already seen. A blank id is replaced by a fresh one.
func (s *Service) Submit(ctx context.Context, t model.Trigger) (bool, error) {
	t.Region = strings.TrimSpace(t.Region)
	if t.Region == "" {
		return false, ingest.ErrInvalidRegion
	}
	if t.EventID == "" {
		t.EventID = uuid.NewString()
	}
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false, ErrNotStarted
	}

	if s.deduper.SeenAndRecord(ctx, t.EventID) {
		metrics.RecordTriggerDuplicate()
		s.logger.Debug(ctx, "duplicate trigger skipped",
			logger.String("event_id", t.EventID),
			logger.String("region", t.Region),
		)
		return false, nil
	}

	if err := s.queue.Enqueue(ctx, t); err != nil {
		s.deduper.Unrecord(ctx, t.EventID)
		if errors.Is(err, queue.ErrFull) {
			return false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return false, err
	}
	s.logger.Debug(ctx, "trigger queued",
		logger.String("event_id", t.EventID),
		logger.String("region", t.Region),
	)
	return true, nil
}

// Ingest runs one ingestion synchronously, bypassing the queue.
func (s *Service) Ingest(ctx context.Context, region string) (ingest.Result, error) {
	return s.ingester.Ingest(ctx, region)
}

// PlayerRecords returns one page of a player's appearances.
func (s *Service) PlayerRecords(ctx context.Context, req query.PlayerRecordsRequest) (types.Page[types.PlayerRecord], error) {
	return s.queries.PlayerRecords(ctx, req)
}

// Snapshots returns one page of a region's snapshot dates.
func (s *Service) Snapshots(ctx context.Context, req query.SnapshotsRequest) (types.Page[types.SnapshotItem], error) {
	return s.queries.Snapshots(ctx, req)
}

// SnapshotRecords returns one page of a snapshot's records.
func (s *Service) SnapshotRecords(ctx context.Context, req query.SnapshotRecordsRequest) (types.Page[types.SnapshotRecord], error) {
	return s.queries.SnapshotRecords(ctx, req)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.ingester.Stats()
	out := types.Stats{
		QueueCapacity: s.queueSize,
		Committed:     st.Committed,
		Duplicates:    st.Duplicates,
		Failed:        st.Failed,
		Records:       st.Records,
	}
	if s.started {
		out.QueueSize = s.queue.Len()
		out.Workers = s.pool.Size()
		metrics.UpdateQueueSize(out.QueueSize)
	}
	return out
}

// Started reports whether the workers are running.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
