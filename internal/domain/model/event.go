// Package model contains domain models passed between layers.
package model

import "time"

// Trigger asks for one ingestion of a region's current leaderboard.
type Trigger struct {
	EventID    string    // unique id for idempotent delivery
	Region     string    // leaderboard division, e.g. "europe"
	ReceivedAt time.Time // when the trigger entered the process
}
