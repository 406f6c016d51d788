// Package ingest stores leaderboard snapshots so that each one is either
// fully visible or absent.
//
// A snapshot is written as a marker entity followed by its records in
// chunk-sized transactions. The marker transaction is the only concurrency
// control point: of several ingestions for the same region and date exactly
// one finds the marker absent. A failed chunk triggers a compensating
// rollback of everything written so far. A crash between the marker and the
// rollback leaves a partial snapshot behind.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/domain/batch"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Fetcher retrieves the current leaderboard of a region.
type Fetcher interface {
	Fetch(ctx context.Context, region string) (model.Leaderboard, error)
}

// Outcome classifies a finished ingestion.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeCommitted
	OutcomeDuplicate
	OutcomeFetchFailed
	OutcomeStorageFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFetchFailed:
		return "fetch_failed"
	case OutcomeStorageFailed:
		return "storage_failed"
	default:
		return "invalid"
	}
}

// Result reports what one ingestion did. Records and Chunks count committed writes.
type Result struct {
	Outcome Outcome
	Region  string
	Date    string
	Records int
	Chunks  int
}

// Stats are cumulative counters since construction.
type Stats struct {
	Committed  int64
	Duplicates int64
	Failed     int64
	Records    int64
}

// Ingester runs the snapshot ingestion pipeline against one gateway.
type Ingester struct {
	gw        repository.Gateway
	fetcher   Fetcher
	chunkSize int
	loc       *time.Location
	log       logger.Logger
	tracer    trace.Tracer

	committed  atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
	records    atomic.Int64
}

// New constructs an Ingester. fetcher may be nil when only Save is used.
func New(gw repository.Gateway, fetcher Fetcher, opts ...Option) *Ingester {
	in := &Ingester{
		gw:        gw,
		fetcher:   fetcher,
		chunkSize: DefaultChunkSize,
		loc:       time.Local,
		log:       logger.NewNop(),
		tracer:    otel.Tracer("github.com/okian/ladder/internal/domain/ingest"),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest fetches the leaderboard of region and saves it as a snapshot.
// A fetch failure returns before anything is written.
func (in *Ingester) Ingest(ctx context.Context, region string) (Result, error) {
	ctx, span := in.tracer.Start(ctx, "ingest.Ingest", trace.WithAttributes(attribute.String("region", region)))
	defer span.End()

	res, err := in.ingest(ctx, region)
	in.finish(ctx, span, res, err)
	return res, err
}

func (in *Ingester) ingest(ctx context.Context, region string) (Result, error) {
	res := Result{Region: region}
	if strings.TrimSpace(region) == "" {
		return res, ErrInvalidRegion
	}
	if in.fetcher == nil {
		res.Outcome = OutcomeFetchFailed
		return res, fmt.Errorf("%w: no fetcher configured", ErrFetch)
	}

	lb, err := in.fetcher.Fetch(ctx, region)
	if err != nil {
		res.Outcome = OutcomeFetchFailed
		return res, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	in.log.Info(ctx, "leaderboard fetched",
		logger.String("region", region),
		logger.Int64("time_posted", lb.TimePosted),
		logger.Int("records", len(lb.Leaderboard)),
	)
	return in.save(ctx, region, lb)
}

// Save stores an already fetched leaderboard as a snapshot of region.
func (in *Ingester) Save(ctx context.Context, region string, lb model.Leaderboard) (Result, error) {
	ctx, span := in.tracer.Start(ctx, "ingest.Save", trace.WithAttributes(attribute.String("region", region)))
	defer span.End()

	var res Result
	var err error
	if strings.TrimSpace(region) == "" {
		res, err = Result{Region: region}, ErrInvalidRegion
	} else {
		res, err = in.save(ctx, region, lb)
	}
	in.finish(ctx, span, res, err)
	return res, err
}

func (in *Ingester) save(ctx context.Context, region string, lb model.Leaderboard) (Result, error) {
	date := model.SnapshotDate(lb.TimePosted, in.loc)
	key := model.SnapshotKey(region, date)
	res := Result{Region: region, Date: date}

	created, err := in.writeMarker(ctx, key, region, date, len(lb.Leaderboard))
	switch {
	case errors.Is(err, repository.ErrConflict):
		// Only a duplicate if a concurrent ingestion really committed the marker.
		exists, exErr := in.markerExists(ctx, key)
		if exErr != nil || !exists {
			res.Outcome = OutcomeStorageFailed
			return res, fmt.Errorf("%w: marker %s: %w", ErrStorage, key, errors.Join(err, exErr))
		}
	case err != nil:
		res.Outcome = OutcomeStorageFailed
		return res, fmt.Errorf("%w: marker %s: %w", ErrStorage, key, err)
	}
	if !created {
		in.log.Warn(ctx, "snapshot already exists, skipping",
			logger.String("region", region),
			logger.String("date", date),
		)
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	total := batch.Count(len(lb.Leaderboard), in.chunkSize)
	for i, chunk := range batch.Chunks(lb.Leaderboard, in.chunkSize) {
		if err := in.writeChunk(ctx, key, date, chunk, i, total); err != nil {
			res.Outcome = OutcomeStorageFailed
			failure := fmt.Errorf("%w: chunk %d/%d of %s: %w", ErrStorage, i+1, total, key, err)
			in.log.Error(ctx, "chunk write failed, rolling back snapshot",
				logger.String("region", region),
				logger.String("date", date),
				logger.Int("chunk", i+1),
				logger.Int("chunks", total),
				logger.Error(err),
			)
			res.Records, res.Chunks = 0, 0
			if rbErr := in.rollback(ctx, key); rbErr != nil {
				return res, errors.Join(failure, rbErr)
			}
			return res, failure
		}
		res.Chunks++
		res.Records += len(chunk)
	}

	res.Outcome = OutcomeCommitted
	in.log.Info(ctx, "snapshot committed",
		logger.String("region", region),
		logger.String("date", date),
		logger.Int("records", res.Records),
		logger.Int("chunks", res.Chunks),
	)
	return res, nil
}

// writeMarker creates the snapshot entity unless it exists. It reports whether it did.
func (in *Ingester) writeMarker(ctx context.Context, key *repository.Key, region, date string, records int) (bool, error) {
	ctx, span := in.tracer.Start(ctx, "ingest.marker")
	defer span.End()

	created := false
	err := in.gw.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		exists, err := tx.Exists(ctx, key)
		if err != nil || exists {
			return err
		}
		_, err = tx.PutAll(ctx, []repository.Entity{{
			Key: key,
			Properties: map[string]any{
				model.FieldDate:        date,
				model.FieldRegion:      region,
				model.FieldRecordCount: records,
			},
		}})
		created = err == nil
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return created, nil
}

// markerExists checks for the snapshot entity in a fresh transaction.
func (in *Ingester) markerExists(ctx context.Context, key *repository.Key) (bool, error) {
	var exists bool
	err := in.gw.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		exists, err = tx.Exists(ctx, key)
		return err
	})
	return exists, err
}

func (in *Ingester) writeChunk(ctx context.Context, parent *repository.Key, date string, rows []map[string]any, i, total int) error {
	ctx, span := in.tracer.Start(ctx, "ingest.chunk", trace.WithAttributes(
		attribute.Int("chunk", i+1),
		attribute.Int("size", len(rows)),
	))
	defer span.End()

	entities := make([]repository.Entity, len(rows))
	for j, row := range rows {
		props := maps.Clone(row)
		if props == nil {
			props = make(map[string]any, 1)
		}
		props[model.FieldDate] = date
		entities[j] = repository.Entity{Key: repository.IncompleteKey(model.KindRecord, parent), Properties: props}
	}

	start := time.Now()
	err := in.gw.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.PutAll(ctx, entities)
		return err
	})
	metrics.RecordChunkWriteLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		return err
	}

	in.log.Debug(ctx, fmt.Sprintf("chunk %d/%d written", i+1, total), logger.String("snapshot", parent.Encode()))
	return nil
}

// rollback deletes every record under key and then the marker itself. It
// runs detached from ctx cancellation so an abandoned caller still cleans up.
func (in *Ingester) rollback(ctx context.Context, key *repository.Key) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := in.tracer.Start(ctx, "ingest.rollback")
	defer span.End()
	metrics.RecordRollback()

	fail := func(step string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		in.log.Error(ctx, "rollback failed", logger.String("snapshot", key.Encode()), logger.String("step", step), logger.Error(err))
		return fmt.Errorf("%w: %s %s: %w", ErrRollback, step, key, err)
	}

	deleted := 0
	for {
		page, err := in.gw.Query(ctx, repository.Query{
			Kind:     model.KindRecord,
			Ancestor: key,
			KeysOnly: true,
			Limit:    in.chunkSize,
		})
		if err != nil {
			return fail("query records", err)
		}
		if len(page.Entities) == 0 {
			break
		}
		keys := make([]*repository.Key, len(page.Entities))
		for i, e := range page.Entities {
			keys[i] = e.Key
		}
		if err := in.gw.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.DeleteAll(ctx, keys)
		}); err != nil {
			return fail("delete records", err)
		}
		deleted += len(keys)
	}

	if err := in.gw.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.DeleteAll(ctx, []*repository.Key{key})
	}); err != nil {
		return fail("delete marker", err)
	}

	in.log.Warn(ctx, "snapshot rolled back", logger.String("snapshot", key.Encode()), logger.Int("records_deleted", deleted))
	return nil
}

func (in *Ingester) finish(ctx context.Context, span trace.Span, res Result, err error) {
	metrics.RecordIngestion(res.Outcome.String())
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()), attribute.Int("records", res.Records))

	switch res.Outcome {
	case OutcomeCommitted:
		in.committed.Add(1)
		in.records.Add(int64(res.Records))
		metrics.RecordRecordsWritten(res.Records)
	case OutcomeDuplicate:
		in.duplicates.Add(1)
	default:
		in.failed.Add(1)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Outcome.String())
		metrics.RecordErrorByComponent("ingest", res.Outcome.String())
		if res.Outcome == OutcomeFetchFailed {
			in.log.Error(ctx, "ingestion aborted before writing", logger.String("region", res.Region), logger.Error(err))
		}
	}
}

// Stats returns cumulative outcome counters.
func (in *Ingester) Stats() Stats {
	return Stats{
		Committed:  in.committed.Load(),
		Duplicates: in.duplicates.Load(),
		Failed:     in.failed.Load(),
		Records:    in.records.Load(),
	}
}
