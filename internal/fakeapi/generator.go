// Package fakeapi serves generated GetDivisionLeaderboard responses for
// local runs and tests.
package fakeapi

import (
	"hash/fnv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/okian/ladder/internal/domain/model"
)

// Generator defaults.
const (
	DefaultSize     = 1000
	DefaultInterval = time.Hour
)

// Generator produces leaderboards that change once per interval. Within one
// interval the same region always yields the same leaderboard.
type Generator struct {
	size     int
	interval time.Duration
	seed     uint64
	now      func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithSize sets the number of rows per leaderboard.
func WithSize(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.size = n
		}
	}
}

// WithInterval sets how often time_posted advances.
func WithInterval(d time.Duration) Option {
	return func(g *Generator) {
		if d >= time.Second {
			g.interval = d
		}
	}
}

// WithSeed varies the generated names.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.seed = seed
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator creates a generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{size: DefaultSize, interval: DefaultInterval, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Leaderboard returns the current leaderboard of region.
func (g *Generator) Leaderboard(region string) model.Leaderboard {
	step := int64(g.interval / time.Second)
	posted := g.now().Unix() / step * step

	h := fnv.New64a()
	_, _ = h.Write([]byte(region))
	faker := gofakeit.New(g.seed ^ h.Sum64() ^ uint64(posted))

	rows := make([]map[string]any, 0, g.size)
	for i := range g.size {
		row := map[string]any{
			"rank": i + 1,
			"name": faker.Username(),
		}
		// Roughly a third of the players belong to a team.
		if faker.IntN(3) == 0 {
			row["team_id"] = faker.IntRange(1, 9_999_999)
			row["team_tag"] = faker.LetterN(uint(faker.IntRange(2, 5)))
		}
		if faker.Bool() {
			row["country"] = faker.CountryAbr()
		}
		rows = append(rows, row)
	}
	return model.Leaderboard{TimePosted: posted, Leaderboard: rows}
}
