package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestClientFetch(t *testing.T) {
	Convey("Given a ranking API", t, func() {
		var gotQuery atomic.Value
		status := http.StatusOK
		body := `{"time_posted":1700000000,"next_scheduled_post_time":1700003600,"leaderboard":[{"rank":1,"name":"A","team_tag":"T1"},{"rank":2,"name":"B"}]}`
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery.Store(r.URL.RawQuery)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}))
		defer srv.Close()

		c := New(srv.URL+"/ILeaderboard/GetDivisionLeaderboard/v0001", WithRateLimit(0))
		ctx := context.Background()

		Convey("When the response is valid", func() {
			lb, err := c.Fetch(ctx, "europe")

			Convey("Then the leaderboard is decoded with all source fields", func() {
				So(err, ShouldBeNil)
				So(gotQuery.Load(), ShouldEqual, "division=europe&leaderboard=0")
				So(lb.TimePosted, ShouldEqual, 1700000000)
				So(len(lb.Leaderboard), ShouldEqual, 2)
				So(lb.Leaderboard[0]["rank"], ShouldEqual, json.Number("1"))
				So(lb.Leaderboard[0]["team_tag"], ShouldEqual, "T1")
			})
		})

		Convey("When time_posted is fractional", func() {
			body = `{"time_posted":1700000000.9,"leaderboard":[{"rank":1}]}`
			lb, err := c.Fetch(ctx, "europe")

			Convey("Then it is truncated instead of failing the fetch", func() {
				So(err, ShouldBeNil)
				So(lb.TimePosted, ShouldEqual, 1700000000)
			})
		})

		Convey("When the API answers with an error status", func() {
			status = http.StatusServiceUnavailable
			_, err := c.Fetch(ctx, "europe")

			Convey("Then a FetchError with the status is returned", func() {
				So(errors.Is(err, ErrFetch), ShouldBeTrue)
				var fe *FetchError
				So(errors.As(err, &fe), ShouldBeTrue)
				So(fe.StatusCode, ShouldEqual, http.StatusServiceUnavailable)
				So(fe.Region, ShouldEqual, "europe")
			})
		})

		Convey("When the body is not JSON", func() {
			body = "<html>"
			_, err := c.Fetch(ctx, "europe")

			Convey("Then the fetch fails", func() {
				So(errors.Is(err, ErrFetch), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unreachable API", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := New(url, WithRateLimit(0), WithTimeout(time.Second))
		_, err := c.Fetch(context.Background(), "china")

		Convey("Then a transport FetchError is returned", func() {
			var fe *FetchError
			So(errors.As(err, &fe), ShouldBeTrue)
			So(fe.StatusCode, ShouldEqual, 0)
			So(err.Error(), ShouldContainSubstring, "china")
		})
	})

	Convey("Given a rate limit of one request per second", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"time_posted":1,"leaderboard":[]}`))
		}))
		defer srv.Close()
		c := New(srv.URL, WithRateLimit(1))

		Convey("When the context expires while waiting for a token", func() {
			_, err := c.Fetch(context.Background(), "se_asia")
			So(err, ShouldBeNil)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			_, err = c.Fetch(ctx, "se_asia")

			Convey("Then the second fetch fails without calling the API", func() {
				So(errors.Is(err, ErrFetch), ShouldBeTrue)
			})
		})
	})
}

func TestClientOptions(t *testing.T) {
	Convey("Given a caller-owned HTTP client", t, func() {
		shared := &http.Client{Timeout: 30 * time.Second}

		Convey("When a timeout option follows it", func() {
			c := New("http://ranking.invalid", WithHTTPClient(shared), WithTimeout(2*time.Second))

			Convey("Then the ranking client uses a copy with the new timeout", func() {
				So(c.http, ShouldNotPointTo, shared)
				So(c.http.Timeout, ShouldEqual, 2*time.Second)
				So(shared.Timeout, ShouldEqual, 30*time.Second)
			})
		})
	})
}
