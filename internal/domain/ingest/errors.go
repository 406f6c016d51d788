package ingest

import "errors"

// Sentinel kinds for ingestion failures.
var (
	ErrInvalidRegion = errors.New("ingest: region must not be empty")
	ErrFetch         = errors.New("ingest: fetch failed")
	ErrStorage       = errors.New("ingest: storage failed")
	ErrRollback      = errors.New("ingest: rollback incomplete")
)
