package batch

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func collect[T any](items []T, n int) [][]T {
	var out [][]T
	for _, c := range Chunks(items, n) {
		out = append(out, c)
	}
	return out
}

func TestChunks(t *testing.T) {
	Convey("Given a sequence of 10 items", t, func() {
		items := make([]int, 10)
		for i := range items {
			items[i] = i
		}

		Convey("When chunking by 3", func() {
			chunks := collect(items, 3)

			Convey("Then all but the last chunk are full", func() {
				So(len(chunks), ShouldEqual, 4)
				So(len(chunks[0]), ShouldEqual, 3)
				So(len(chunks[3]), ShouldEqual, 1)
				So(Count(len(items), 3), ShouldEqual, 4)
			})

			Convey("Then concatenation reproduces the input", func() {
				got := []int{}
				for _, c := range chunks {
					got = append(got, c...)
				}
				So(got, ShouldResemble, items)
			})
		})

		Convey("When the sequence is ranged twice", func() {
			seq := Chunks(items, 4)
			var first, second int
			for range seq {
				first++
			}
			for range seq {
				second++
			}

			Convey("Then it yields the same chunks both times", func() {
				So(first, ShouldEqual, 3)
				So(second, ShouldEqual, first)
			})
		})

		Convey("When the consumer stops early", func() {
			var seen []int
			for i := range Chunks(items, 2) {
				seen = append(seen, i)
				if i == 1 {
					break
				}
			}

			Convey("Then no further chunks are produced", func() {
				So(seen, ShouldResemble, []int{0, 1})
			})
		})

		Convey("When a chunk is appended to", func() {
			chunks := collect(items, 5)
			_ = append(chunks[0], 99)

			Convey("Then the input is untouched", func() {
				So(items[5], ShouldEqual, 5)
			})
		})
	})

	Convey("Given edge cases", t, func() {
		So(collect([]string{}, 3), ShouldBeEmpty)
		So(collect([]string{"a"}, 0), ShouldBeEmpty)
		So(collect([]string{"a", "b"}, 5), ShouldResemble, [][]string{{"a", "b"}})
		So(collect([]string{"a", "b"}, 1), ShouldResemble, [][]string{{"a"}, {"b"}})
		So(Count(0, 480), ShouldEqual, 0)
		So(Count(480, 480), ShouldEqual, 1)
		So(Count(481, 480), ShouldEqual, 2)
		So(Count(5, -1), ShouldEqual, 0)
	})
}

func TestChunksProperty(t *testing.T) {
	Convey("For every length and chunk size", t, func() {
		for l := 0; l <= 25; l++ {
			items := make([]int, l)
			for i := range items {
				items[i] = i * 7
			}
			for n := 1; n <= 8; n++ {
				chunks := collect(items, n)
				So(len(chunks), ShouldEqual, Count(l, n))
				for i, c := range chunks {
					if i < len(chunks)-1 {
						So(len(c), ShouldEqual, n)
					}
				}
				got := []int{}
				for _, c := range chunks {
					got = append(got, c...)
				}
				So(got, ShouldResemble, items)
			}
		}
	})
}
