package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

var errBoom = errors.New("boom")

func seqNamer() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id%04d", n)
	}
}

func putRecords(ctx context.Context, s *MemStore, parent *Key, n int) {
	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		entities := make([]Entity, n)
		for i := range entities {
			entities[i] = Entity{
				Key:        IncompleteKey("Record", parent),
				Properties: map[string]any{"rank": n - i, "name": fmt.Sprintf("p%d", i%3)},
			}
		}
		_, err := tx.PutAll(ctx, entities)
		return err
	})
	So(err, ShouldBeNil)
}

func TestMemStoreTransactions(t *testing.T) {
	Convey("Given an empty memory store", t, func() {
		ctx := context.Background()
		s := NewMemStore(WithMaxTxEntities(5), WithKeyNamer(seqNamer()))
		key := NameKey("Snapshot", "d1", NameKey("Region", "eu", nil))

		Convey("When a transaction puts an entity", func() {
			var keys []*Key
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				ok, err := tx.Exists(ctx, key)
				So(ok, ShouldBeFalse)
				if err != nil {
					return err
				}
				keys, err = tx.PutAll(ctx, []Entity{{Key: key, Properties: map[string]any{"date": "d1"}}})
				if err != nil {
					return err
				}
				ok, err = tx.Exists(ctx, key)
				So(ok, ShouldBeTrue)
				return err
			})

			Convey("Then it is committed", func() {
				So(err, ShouldBeNil)
				So(keys[0].Equal(key), ShouldBeTrue)
				So(s.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the transaction function fails", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				if _, err := tx.PutAll(ctx, []Entity{{Key: key}}); err != nil {
					return err
				}
				return errBoom
			})

			Convey("Then nothing is written", func() {
				So(errors.Is(err, errBoom), ShouldBeTrue)
				So(s.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a transaction exceeds the entity ceiling", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				entities := make([]Entity, 6)
				for i := range entities {
					entities[i] = Entity{Key: IncompleteKey("Record", key)}
				}
				_, err := tx.PutAll(ctx, entities)
				return err
			})

			Convey("Then it fails as a storage error", func() {
				So(errors.Is(err, ErrTxTooLarge), ShouldBeTrue)
				So(errors.Is(err, ErrStorage), ShouldBeTrue)
				So(s.Len(), ShouldEqual, 0)
			})
		})

		Convey("When incomplete keys are put", func() {
			var keys []*Key
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				var err error
				keys, err = tx.PutAll(ctx, []Entity{{Key: IncompleteKey("Record", key)}, {Key: IncompleteKey("Record", key)}})
				return err
			})

			Convey("Then each gets a distinct generated name under the parent", func() {
				So(err, ShouldBeNil)
				So(keys[0].Name, ShouldEqual, "id0001")
				So(keys[1].Name, ShouldEqual, "id0002")
				So(keys[0].HasAncestor(key), ShouldBeTrue)
			})
		})

		Convey("When entities are deleted", func() {
			putRecords(ctx, s, key, 3)
			page, err := s.Query(ctx, Query{Kind: "Record", Ancestor: key, KeysOnly: true})
			So(err, ShouldBeNil)
			keys := make([]*Key, 0, len(page.Entities))
			for _, e := range page.Entities {
				keys = append(keys, e.Key)
			}
			err = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return tx.DeleteAll(ctx, keys)
			})

			Convey("Then they are gone", func() {
				So(err, ShouldBeNil)
				So(s.Len(), ShouldEqual, 0)
			})
		})

		Convey("When exists is called with an incomplete key", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				_, err := tx.Exists(ctx, IncompleteKey("Record", key))
				return err
			})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrIncompleteKey), ShouldBeTrue)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			err := s.RunInTx(cctx, func(ctx context.Context, tx Tx) error { return nil })

			Convey("Then the transaction does not run", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})

		Convey("When the store is closed", func() {
			So(s.Close(), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error { return nil })
			_, qerr := s.Query(ctx, Query{Kind: "Record"})

			Convey("Then operations fail", func() {
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
				So(errors.Is(qerr, ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestMemStoreConcurrentMarkers(t *testing.T) {
	Convey("Given many goroutines racing to create the same marker", t, func() {
		ctx := context.Background()
		s := NewMemStore()
		key := NameKey("Snapshot", "d1", NameKey("Region", "eu", nil))

		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
					ok, err := tx.Exists(ctx, key)
					if err != nil || ok {
						return err
					}
					if _, err := tx.PutAll(ctx, []Entity{{Key: key}}); err != nil {
						return err
					}
					mu.Lock()
					created++
					mu.Unlock()
					return nil
				})
			}()
		}
		wg.Wait()

		Convey("Then exactly one observes the marker absent", func() {
			So(created, ShouldEqual, 1)
			So(s.Len(), ShouldEqual, 1)
		})
	})
}

func TestMemStoreQuery(t *testing.T) {
	Convey("Given records under two snapshots", t, func() {
		ctx := context.Background()
		s := NewMemStore(WithMaxTxEntities(0), WithKeyNamer(seqNamer()))
		region := NameKey("Region", "eu", nil)
		snap1 := NameKey("Snapshot", "d1", region)
		snap2 := NameKey("Snapshot", "d2", region)
		putRecords(ctx, s, snap1, 10)
		putRecords(ctx, s, snap2, 4)

		Convey("When querying one snapshot by rank with a page size of 3", func() {
			q := Query{Kind: "Record", Ancestor: snap1, Order: &Order{Field: "rank"}, Projection: []string{"rank"}, Limit: 3}
			var ranks []int
			pages := 0
			for {
				page, err := s.Query(ctx, q)
				So(err, ShouldBeNil)
				pages++
				for _, e := range page.Entities {
					ranks = append(ranks, e.Properties["rank"].(int))
					So(e.Properties, ShouldNotContainKey, "name")
				}
				if page.Next == "" {
					break
				}
				q.Cursor = page.Next
			}

			Convey("Then every record appears once in rank order", func() {
				So(pages, ShouldEqual, 4)
				So(ranks, ShouldResemble, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
			})
		})

		Convey("When the page size divides the result exactly", func() {
			q := Query{Kind: "Record", Ancestor: snap2, Order: &Order{Field: "rank"}, Limit: 2}
			first, err := s.Query(ctx, q)
			So(err, ShouldBeNil)
			q.Cursor = first.Next
			second, err := s.Query(ctx, q)
			So(err, ShouldBeNil)

			Convey("Then the last page carries no cursor", func() {
				So(first.Next, ShouldNotBeEmpty)
				So(len(second.Entities), ShouldEqual, 2)
				So(second.Next, ShouldBeEmpty)
			})
		})

		Convey("When ordering descending with an equality filter across the region", func() {
			q := Query{Kind: "Record", Ancestor: region, Filters: []Filter{{Field: "name", Value: "p0"}}, Order: &Order{Field: "rank", Desc: true}, Limit: 2}
			var ranks []int
			for {
				page, err := s.Query(ctx, q)
				So(err, ShouldBeNil)
				for _, e := range page.Entities {
					So(e.Properties["name"], ShouldEqual, "p0")
					ranks = append(ranks, e.Properties["rank"].(int))
				}
				if page.Next == "" {
					break
				}
				q.Cursor = page.Next
			}

			Convey("Then matches from both snapshots come back highest first", func() {
				// snap1 p0 ranks: 10,7,4,1; snap2 p0 ranks: 4,1
				So(ranks, ShouldResemble, []int{10, 7, 4, 4, 1, 1})
			})
		})

		Convey("When listing snapshots keys only", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				_, err := tx.PutAll(ctx, []Entity{
					{Key: snap1, Properties: map[string]any{"date": "d1"}},
					{Key: snap2, Properties: map[string]any{"date": "d2"}},
				})
				return err
			})
			So(err, ShouldBeNil)
			page, err := s.Query(ctx, Query{Kind: "Snapshot", Ancestor: region, Order: &Order{Field: "date", Desc: true}, KeysOnly: true})

			Convey("Then only snapshot keys are returned newest first", func() {
				So(err, ShouldBeNil)
				So(len(page.Entities), ShouldEqual, 2)
				So(page.Entities[0].Key.Name, ShouldEqual, "d2")
				So(page.Entities[0].Properties, ShouldBeNil)
				So(page.Next, ShouldBeEmpty)
			})
		})

		Convey("When the cursor is malformed", func() {
			_, err := s.Query(ctx, Query{Kind: "Record", Ancestor: snap1, Cursor: "%%%"})

			Convey("Then an invalid cursor error is returned", func() {
				So(errors.Is(err, ErrInvalidCursor), ShouldBeTrue)
			})
		})

		Convey("When no entity matches", func() {
			page, err := s.Query(ctx, Query{Kind: "Record", Ancestor: NameKey("Region", "asia", nil), Limit: 5})

			Convey("Then an empty page is returned", func() {
				So(err, ShouldBeNil)
				So(page.Entities, ShouldBeEmpty)
				So(page.Next, ShouldBeEmpty)
			})
		})

		Convey("When records change between pages", func() {
			q := Query{Kind: "Record", Ancestor: snap2, Order: &Order{Field: "rank"}, Limit: 2}
			first, err := s.Query(ctx, q)
			So(err, ShouldBeNil)
			putRecords(ctx, s, snap1, 1)
			q.Cursor = first.Next
			second, err := s.Query(ctx, q)

			Convey("Then the cursor still resumes after the last returned record", func() {
				So(err, ShouldBeNil)
				So(second.Entities[0].Properties["rank"], ShouldEqual, 3)
			})
		})
	})
}
