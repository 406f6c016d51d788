package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/ladder/internal/adapters/mq/queue"
	"github.com/okian/ladder/internal/domain/ingest"
	"github.com/okian/ladder/internal/domain/model"
)

const maxIngestBody = 1 << 16

// ingestRequest is the optional JSON body of POST /ingest.
type ingestRequest struct {
	Region  string `json:"region"`
	EventID string `json:"event_id"`
}

// IngestHandler queues ingestion triggers.
type IngestHandler struct {
	deps Submitter
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(deps Submitter) *IngestHandler {
	return &IngestHandler{deps: deps}
}

// HandleIngest handles POST /ingest?region=R or a JSON body {"region","event_id"}.
// The query parameter wins over the body.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if r.Body != nil && r.ContentLength != 0 {
		err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: %w", ErrBadRequest, err))
			return
		}
	}
	if region := r.URL.Query().Get("region"); region != "" {
		req.Region = region
	}
	if id := r.URL.Query().Get("event_id"); id != "" {
		req.EventID = id
	}
	if strings.TrimSpace(req.Region) == "" {
		writeValidation(w, "region", "required")
		return
	}

	accepted, err := h.deps.Submit(r.Context(), model.Trigger{
		EventID:    req.EventID,
		Region:     req.Region,
		ReceivedAt: time.Now(),
	})
	switch {
	case errors.Is(err, ingest.ErrInvalidRegion):
		writeValidation(w, "region", "invalid")
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case !accepted:
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: req.EventID, Duplicate: true})
	default:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: req.EventID})
	}
}
