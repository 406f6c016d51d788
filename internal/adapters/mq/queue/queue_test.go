package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity 2", t, func() {
		ctx := context.Background()
		q := NewInMemoryQueue(WithCapacity(2))

		Convey("When two triggers are enqueued", func() {
			So(q.Enqueue(ctx, Trigger{EventID: "1", Region: "europe"}), ShouldBeNil)
			So(q.Enqueue(ctx, Trigger{EventID: "2", Region: "americas"}), ShouldBeNil)

			Convey("Then a third is rejected as full", func() {
				So(errors.Is(q.Enqueue(ctx, Trigger{EventID: "3"}), ErrFull), ShouldBeTrue)
				So(q.Len(), ShouldEqual, 2)
				So(q.Cap(), ShouldEqual, 2)
			})

			Convey("Then they are dequeued in order", func() {
				ch := q.Dequeue(ctx)
				So((<-ch).Region, ShouldEqual, "europe")
				So((<-ch).Region, ShouldEqual, "americas")
			})
		})

		Convey("When the queue is closed", func() {
			So(q.Enqueue(ctx, Trigger{EventID: "1"}), ShouldBeNil)
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then enqueue fails and pending triggers drain before the channel closes", func() {
				So(errors.Is(q.Enqueue(ctx, Trigger{EventID: "2"}), ErrClosed), ShouldBeTrue)
				ch := q.Dequeue(ctx)
				first, ok := <-ch
				So(ok, ShouldBeTrue)
				So(first.EventID, ShouldEqual, "1")
				_, ok = <-ch
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the consumer context ends", func() {
			cctx, cancel := context.WithCancel(ctx)
			ch := q.Dequeue(cctx)
			cancel()

			Convey("Then the dequeue channel closes", func() {
				select {
				case _, ok := <-ch:
					So(ok, ShouldBeFalse)
				case <-time.After(time.Second):
					So("dequeue channel still open", ShouldBeEmpty)
				}
			})
		})

		Convey("When the producer context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			Convey("Then enqueue returns the context error", func() {
				So(errors.Is(q.Enqueue(cctx, Trigger{EventID: "1"}), context.Canceled), ShouldBeTrue)
			})
		})
	})
}
