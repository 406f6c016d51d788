package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/okian/ladder/internal/adapters/repository"
)

// Entity kinds of the snapshot hierarchy Region -> Snapshot -> Record.
const (
	KindRegion   = "Region"
	KindSnapshot = "Snapshot"
	KindRecord   = "Record"
)

// Property names shared by the ingestion and read paths.
const (
	FieldDate        = "date"
	FieldRank        = "rank"
	FieldName        = "name"
	FieldRegion      = "region"
	FieldRecordCount = "record_count"
)

// DateLayout renders snapshot dates as ISO-8601 local time without an offset.
const DateLayout = "2006-01-02T15:04:05"

// Leaderboard is one response of the external ranking API.
type Leaderboard struct {
	TimePosted  int64            `json:"time_posted"`
	Leaderboard []map[string]any `json:"leaderboard"`
}

// UnmarshalJSON accepts a fractional time_posted and truncates it to whole
// seconds. Record values keep their numbers as json.Number.
func (lb *Leaderboard) UnmarshalJSON(data []byte) error {
	var raw struct {
		TimePosted  json.Number      `json:"time_posted"`
		Leaderboard []map[string]any `json:"leaderboard"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	var tp int64
	if raw.TimePosted != "" {
		n, err := raw.TimePosted.Int64()
		if err != nil {
			f, ferr := raw.TimePosted.Float64()
			if ferr != nil || f >= math.MaxInt64 || f < math.MinInt64 {
				return fmt.Errorf("time_posted %q is not a unix timestamp", raw.TimePosted)
			}
			n = int64(f)
		}
		tp = n
	}

	lb.TimePosted = tp
	lb.Leaderboard = raw.Leaderboard
	return nil
}

// SnapshotDate converts a unix timestamp to the snapshot key name in loc.
func SnapshotDate(timePosted int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(timePosted, 0).In(loc).Format(DateLayout)
}

// RegionKey is the root of a region's hierarchy. No entity is stored at it.
func RegionKey(region string) *repository.Key {
	return repository.NameKey(KindRegion, region, nil)
}

// SnapshotKey addresses the marker of one snapshot.
func SnapshotKey(region, date string) *repository.Key {
	return repository.NameKey(KindSnapshot, date, RegionKey(region))
}
