// Package types contains response items shared by the query service and the HTTP API.
package types

// PlayerRecord is one appearance of a player in a snapshot.
type PlayerRecord struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
	Date string `json:"date"`
}

// SnapshotItem identifies one stored snapshot.
type SnapshotItem struct {
	Date string `json:"date"`
}

// SnapshotRecord is one leaderboard row of a snapshot.
type SnapshotRecord struct {
	Rank int    `json:"rank"`
	Name string `json:"name"`
}

// Page is the response envelope of every paginated read. NextCursor is null on the last page.
type Page[T any] struct {
	NextCursor *string `json:"next_cursor"`
	Items      []T     `json:"items"`
}

// Stats summarizes the ingestion pipeline for GET /stats.
type Stats struct {
	QueueSize     int   `json:"queue_size"`
	QueueCapacity int   `json:"queue_capacity"`
	Workers       int   `json:"workers"`
	Committed     int64 `json:"committed"`
	Duplicates    int64 `json:"duplicates"`
	Failed        int64 `json:"failed"`
	Records       int64 `json:"records"`
}
