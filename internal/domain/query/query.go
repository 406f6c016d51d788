// Package query serves paginated reads over the snapshot hierarchy.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/types"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Default page sizes per read.
const (
	DefaultPlayerRecordsLimit   = 30
	DefaultSnapshotsLimit       = 30
	DefaultSnapshotRecordsLimit = 100
	DefaultMaxLimit             = 500
)

// Service runs read queries against a gateway.
type Service struct {
	gw       repository.Gateway
	maxLimit int
	log      logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxLimit caps the page size a caller may request.
func WithMaxLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a Service.
func New(gw repository.Gateway, opts ...Option) *Service {
	s := &Service{gw: gw, maxLimit: DefaultMaxLimit, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlayerRecordsRequest asks for every appearance of a player in a region, newest first.
type PlayerRecordsRequest struct {
	Region string
	Name   string
	Cursor string
	Limit  int
}

// SnapshotsRequest lists the snapshots of a region, newest first.
type SnapshotsRequest struct {
	Region string
	Cursor string
	Limit  int
}

// SnapshotRecordsRequest pages through one snapshot by rank.
type SnapshotRecordsRequest struct {
	Region string
	Date   string
	Cursor string
	Limit  int
}

// PlayerRecords returns one page of {rank, name, date}.
func (s *Service) PlayerRecords(ctx context.Context, req PlayerRecordsRequest) (types.Page[types.PlayerRecord], error) {
	if blank(req.Region) {
		return types.Page[types.PlayerRecord]{}, required("region")
	}
	if blank(req.Name) {
		return types.Page[types.PlayerRecord]{}, required("name")
	}
	return run(ctx, s, repository.Query{
		Kind:       model.KindRecord,
		Ancestor:   model.RegionKey(req.Region),
		Filters:    []repository.Filter{{Field: model.FieldName, Value: req.Name}},
		Order:      &repository.Order{Field: model.FieldDate, Desc: true},
		Projection: []string{model.FieldRank, model.FieldDate},
		Limit:      s.limit(req.Limit, DefaultPlayerRecordsLimit),
		Cursor:     repository.Cursor(req.Cursor),
	}, func(e repository.Entity) types.PlayerRecord {
		// The name is the filter value, so it is not fetched.
		return types.PlayerRecord{
			Rank: asInt(e.Properties[model.FieldRank]),
			Name: req.Name,
			Date: asString(e.Properties[model.FieldDate]),
		}
	})
}

// Snapshots returns one page of {date}.
func (s *Service) Snapshots(ctx context.Context, req SnapshotsRequest) (types.Page[types.SnapshotItem], error) {
	if blank(req.Region) {
		return types.Page[types.SnapshotItem]{}, required("region")
	}
	return run(ctx, s, repository.Query{
		Kind:     model.KindSnapshot,
		Ancestor: model.RegionKey(req.Region),
		Order:    &repository.Order{Field: model.FieldDate, Desc: true},
		KeysOnly: true,
		Limit:    s.limit(req.Limit, DefaultSnapshotsLimit),
		Cursor:   repository.Cursor(req.Cursor),
	}, func(e repository.Entity) types.SnapshotItem {
		return types.SnapshotItem{Date: e.Key.Name}
	})
}

// SnapshotRecords returns one page of {rank, name} in rank order.
func (s *Service) SnapshotRecords(ctx context.Context, req SnapshotRecordsRequest) (types.Page[types.SnapshotRecord], error) {
	if blank(req.Region) {
		return types.Page[types.SnapshotRecord]{}, required("region")
	}
	if blank(req.Date) {
		return types.Page[types.SnapshotRecord]{}, required("date")
	}
	return run(ctx, s, repository.Query{
		Kind:       model.KindRecord,
		Ancestor:   model.SnapshotKey(req.Region, req.Date),
		Order:      &repository.Order{Field: model.FieldRank},
		Projection: []string{model.FieldRank, model.FieldName},
		Limit:      s.limit(req.Limit, DefaultSnapshotRecordsLimit),
		Cursor:     repository.Cursor(req.Cursor),
	}, func(e repository.Entity) types.SnapshotRecord {
		return types.SnapshotRecord{
			Rank: asInt(e.Properties[model.FieldRank]),
			Name: asString(e.Properties[model.FieldName]),
		}
	})
}

// run executes q and maps each entity to an item.
func run[T any](ctx context.Context, s *Service, q repository.Query, item func(repository.Entity) T) (types.Page[T], error) {
	start := time.Now()
	page, err := s.gw.Query(ctx, q)
	metrics.RecordQueryLatency(q.Kind, float64(time.Since(start).Milliseconds()))
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			return types.Page[T]{}, &ValidationError{Field: "cursor", Code: CodeInvalid}
		}
		metrics.RecordErrorByComponent("query", "storage")
		s.log.Error(ctx, "query failed", logger.String("kind", q.Kind), logger.String("scope", q.Ancestor.Encode()), logger.Error(err))
		return types.Page[T]{}, err
	}

	out := types.Page[T]{Items: make([]T, 0, len(page.Entities))}
	for _, e := range page.Entities {
		out.Items = append(out.Items, item(e))
	}
	if page.Next != "" {
		next := string(page.Next)
		out.NextCursor = &next
	}
	return out, nil
}

// limit applies the default for non-positive values and clamps to the maximum.
func (s *Service) limit(requested, def int) int {
	if requested <= 0 {
		requested = def
	}
	return min(requested, s.maxLimit)
}

// ParseLimit reads a limit query parameter. Unparsable input yields 0, which selects the default.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(math.Round(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(math.Round(f))
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
