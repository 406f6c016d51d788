package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/adapters/mq/queue"
	service "github.com/okian/ladder/internal/app"
	"github.com/okian/ladder/internal/domain/ingest"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/query"
)

// stubFetcher serves one leaderboard per region and can fail or block.
type stubFetcher struct {
	calls   atomic.Int64
	fail    atomic.Bool
	release chan struct{}
	mu      sync.Mutex
	posted  int64
}

func (f *stubFetcher) Fetch(ctx context.Context, region string) (model.Leaderboard, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return model.Leaderboard{}, ctx.Err()
		}
	}
	if f.fail.Load() {
		return model.Leaderboard{}, errors.New("upstream down")
	}
	f.mu.Lock()
	f.posted += 60
	tp := f.posted
	f.mu.Unlock()
	return model.Leaderboard{
		TimePosted: tp,
		Leaderboard: []map[string]any{
			{"rank": 1, "name": "miracle"},
			{"rank": 2, "name": "topson"},
		},
	}, nil
}

func newService(f *stubFetcher, opts ...service.Option) *service.Service {
	return service.New(append([]service.Option{
		service.WithFetcher(f),
		service.WithLocation(time.UTC),
		service.WithWorkerCount(2),
	}, opts...)...)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(&stubFetcher{})
		ctx := context.Background()

		Convey("When submitting before Start", func() {
			_, err := svc.Submit(ctx, model.Trigger{Region: "europe"})

			Convey("Then it is rejected", func() {
				So(err, ShouldEqual, service.ErrNotStarted)
			})
		})

		Convey("When starting twice and stopping twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Started(), ShouldBeTrue)
			So(svc.GetStats().Workers, ShouldEqual, 2)

			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then the service is stopped for good", func() {
				So(svc.Started(), ShouldBeFalse)
				So(svc.GetStats().Workers, ShouldEqual, 0)
				So(svc.Start(ctx), ShouldEqual, service.ErrStopped)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		f := &stubFetcher{}
		svc := newService(f)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		Convey("When a trigger has a blank region", func() {
			_, err := svc.Submit(ctx, model.Trigger{Region: "  "})

			Convey("Then it is rejected as invalid", func() {
				So(errors.Is(err, ingest.ErrInvalidRegion), ShouldBeTrue)
			})
		})

		Convey("When a trigger is accepted", func() {
			accepted, err := svc.Submit(ctx, model.Trigger{EventID: "evt-1", Region: "europe"})
			So(err, ShouldBeNil)
			So(accepted, ShouldBeTrue)

			Convey("Then the snapshot eventually becomes queryable", func() {
				So(waitFor(func() bool { return svc.GetStats().Committed == 1 }), ShouldBeTrue)

				page, err := svc.Snapshots(ctx, query.SnapshotsRequest{Region: "europe"})
				So(err, ShouldBeNil)
				So(page.Items, ShouldHaveLength, 1)

				recs, err := svc.SnapshotRecords(ctx, query.SnapshotRecordsRequest{Region: "europe", Date: page.Items[0].Date})
				So(err, ShouldBeNil)
				So(recs.Items, ShouldHaveLength, 2)
				So(recs.Items[0].Name, ShouldEqual, "miracle")
			})

			Convey("Then the same event id is reported as a duplicate", func() {
				accepted, err := svc.Submit(ctx, model.Trigger{EventID: "evt-1", Region: "europe"})
				So(err, ShouldBeNil)
				So(accepted, ShouldBeFalse)
			})
		})

		Convey("When an ingestion fails", func() {
			f.fail.Store(true)
			_, err := svc.Submit(ctx, model.Trigger{EventID: "evt-2", Region: "europe"})
			So(err, ShouldBeNil)
			So(waitFor(func() bool { return svc.GetStats().Failed == 1 }), ShouldBeTrue)

			Convey("Then the trigger id can be submitted again", func() {
				f.fail.Store(false)
				So(waitFor(func() bool {
					accepted, err := svc.Submit(ctx, model.Trigger{EventID: "evt-2", Region: "europe"})
					return err == nil && accepted
				}), ShouldBeTrue)
			})
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service whose only worker is blocked", t, func() {
		f := &stubFetcher{release: make(chan struct{})}
		svc := newService(f, service.WithWorkerCount(1), service.WithQueueSize(1))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When triggers keep arriving", func() {
			var err error
			for range 10 {
				if _, err = svc.Submit(ctx, model.Trigger{Region: "china"}); err != nil {
					break
				}
			}

			Convey("Then the queue pushes back", func() {
				So(errors.Is(err, service.ErrBackpressure), ShouldBeTrue)
				So(errors.Is(err, queue.ErrFull), ShouldBeTrue)
			})
		})

		close(f.release)
		So(svc.Stop(ctx), ShouldBeNil)
	})
}

func TestService_Ingest(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		f := &stubFetcher{}
		svc := newService(f)
		ctx := context.Background()

		Convey("When ingesting synchronously", func() {
			res, err := svc.Ingest(ctx, "americas")

			Convey("Then the snapshot is committed", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, ingest.OutcomeCommitted)
				So(res.Records, ShouldEqual, 2)

				page, err := svc.PlayerRecords(ctx, query.PlayerRecordsRequest{Region: "americas", Name: "topson"})
				So(err, ShouldBeNil)
				So(page.Items, ShouldHaveLength, 1)
				So(page.Items[0].Rank, ShouldEqual, 2)
				So(page.NextCursor, ShouldBeNil)
			})
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
