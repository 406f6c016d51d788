package fakeapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/adapters/ranking"
	"github.com/okian/ladder/internal/fakeapi"
)

func TestGenerator(t *testing.T) {
	Convey("Given a generator on a fixed clock", t, func() {
		now := time.Unix(1700000123, 0)
		g := fakeapi.NewGenerator(
			fakeapi.WithSize(50),
			fakeapi.WithInterval(time.Minute),
			fakeapi.WithClock(func() time.Time { return now }),
		)

		Convey("When generating twice within one interval", func() {
			a := g.Leaderboard("europe")
			b := g.Leaderboard("europe")

			Convey("Then the leaderboards are identical and ranked", func() {
				So(a, ShouldResemble, b)
				So(a.TimePosted, ShouldEqual, int64(1700000100))
				So(a.Leaderboard, ShouldHaveLength, 50)
				for i, row := range a.Leaderboard {
					So(row["rank"], ShouldEqual, i+1)
					So(row["name"], ShouldNotBeEmpty)
				}
			})
		})

		Convey("When the interval elapses", func() {
			a := g.Leaderboard("europe")
			now = now.Add(time.Minute)
			b := g.Leaderboard("europe")

			Convey("Then time_posted advances", func() {
				So(b.TimePosted, ShouldEqual, a.TimePosted+60)
			})
		})
	})
}

func TestHandler(t *testing.T) {
	Convey("Given the fake API behind a ranking client", t, func() {
		srv := httptest.NewServer(fakeapi.Handler(fakeapi.NewGenerator(fakeapi.WithSize(5))))
		defer srv.Close()
		client := ranking.New(srv.URL+fakeapi.Path, ranking.WithRateLimit(0))

		Convey("When fetching a known division", func() {
			lb, err := client.Fetch(context.Background(), "china")

			Convey("Then the leaderboard decodes", func() {
				So(err, ShouldBeNil)
				So(lb.TimePosted, ShouldBeGreaterThan, 0)
				So(lb.Leaderboard, ShouldHaveLength, 5)
			})
		})

		Convey("When fetching an unknown division", func() {
			_, err := client.Fetch(context.Background(), "atlantis")

			Convey("Then the client reports the status", func() {
				var fe *ranking.FetchError
				So(errors.As(err, &fe), ShouldBeTrue)
				So(fe.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}
