// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/ladder/internal/adapters/http/swagger"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/query"
	"github.com/okian/ladder/internal/domain/types"
	"github.com/okian/ladder/pkg/logger"
)

// Reader serves the paginated snapshot queries.
type Reader interface {
	PlayerRecords(ctx context.Context, req query.PlayerRecordsRequest) (types.Page[types.PlayerRecord], error)
	Snapshots(ctx context.Context, req query.SnapshotsRequest) (types.Page[types.SnapshotItem], error)
	SnapshotRecords(ctx context.Context, req query.SnapshotRecordsRequest) (types.Page[types.SnapshotRecord], error)
}

// Submitter accepts ingestion triggers. It reports false for a trigger id
// that was already seen.
type Submitter interface {
	Submit(ctx context.Context, t model.Trigger) (bool, error)
}

// Dependencies required by HTTP handlers.
type Dependencies interface {
	Reader
	Submitter
	StatsProvider
}

// Server wires HTTP routes for the snapshot API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	ingestHandler  *IngestHandler
	recordsHandler *RecordsHandler
	log            logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		ingestHandler:  NewIngestHandler(deps),
		recordsHandler: NewRecordsHandler(deps, log),
		log:            log,
	}
}

// Router builds the chi router serving every route.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(CORS)

	r.With(MetricsMiddleware("healthz")).Get("/healthz", s.healthHandler.HandleHealth)
	r.With(MetricsMiddleware("stats")).Get("/stats", s.statsHandler.HandleStats)
	r.With(MetricsMiddleware("ingest")).Post("/ingest", s.ingestHandler.HandleIngest)

	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware("player_records"))
		r.Get("/player-records", s.recordsHandler.HandlePlayerRecords)
		r.Options("/player-records", Preflight)
	})
	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware("snapshots"))
		r.Get("/snapshots", s.recordsHandler.HandleSnapshots)
		r.Options("/snapshots", Preflight)
	})
	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware("snapshot_records"))
		r.Get("/snapshot-records", s.recordsHandler.HandleSnapshotRecords)
		r.Options("/snapshot-records", Preflight)
	})

	swagger.Register(r)
	return r
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fieldError is one entry of a validation failure body: {"field":[{"code":"required"}]}.
type fieldError struct {
	Code string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeValidation(w http.ResponseWriter, field, code string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]fieldError{field: {{Code: code}}})
}

// writeQueryError maps query failures to 422 or 500.
func writeQueryError(w http.ResponseWriter, err error) {
	var ve *query.ValidationError
	if errors.As(err, &ve) {
		writeValidation(w, ve.Field, ve.Code)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err)
}
