package api

import (
	"net/http"

	"github.com/okian/ladder/internal/domain/query"
	"github.com/okian/ladder/pkg/logger"
)

// RecordsHandler serves the three paginated snapshot reads.
type RecordsHandler struct {
	deps Reader
	log  logger.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(deps Reader, log logger.Logger) *RecordsHandler {
	return &RecordsHandler{deps: deps, log: log}
}

// HandlePlayerRecords handles GET /player-records?region=&name=&cursor=&limit=.
func (h *RecordsHandler) HandlePlayerRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.deps.PlayerRecords(r.Context(), query.PlayerRecordsRequest{
		Region: q.Get("region"),
		Name:   q.Get("name"),
		Cursor: q.Get("cursor"),
		Limit:  query.ParseLimit(q.Get("limit")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleSnapshots handles GET /snapshots?region=&cursor=&limit=.
func (h *RecordsHandler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.deps.Snapshots(r.Context(), query.SnapshotsRequest{
		Region: q.Get("region"),
		Cursor: q.Get("cursor"),
		Limit:  query.ParseLimit(q.Get("limit")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleSnapshotRecords handles GET /snapshot-records?region=&date=&cursor=&limit=.
func (h *RecordsHandler) HandleSnapshotRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.deps.SnapshotRecords(r.Context(), query.SnapshotRecordsRequest{
		Region: q.Get("region"),
		Date:   q.Get("date"),
		Cursor: q.Get("cursor"),
		Limit:  query.ParseLimit(q.Get("limit")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *RecordsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Debug(r.Context(), "read rejected", logger.String("path", r.URL.Path), logger.Error(err))
	writeQueryError(w, err)
}
