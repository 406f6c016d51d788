// Package batch splits ordered slices into contiguous chunks sized to a
// storage transaction limit.
package batch

import "iter"

// Chunks yields consecutive sub-slices of items of length n, the last one
// possibly shorter, together with their zero-based index. The sequence is a
// pure function of its inputs and may be ranged over any number of times.
// Sub-slices alias items. A non-positive n yields nothing.
func Chunks[T any](items []T, n int) iter.Seq2[int, []T] {
	return func(yield func(int, []T) bool) {
		if n <= 0 {
			return
		}
		for i, start := 0, 0; start < len(items); i, start = i+1, start+n {
			end := min(start+n, len(items))
			if !yield(i, items[start:end:end]) {
				return
			}
		}
	}
}

// Count returns the number of chunks Chunks yields for length l.
func Count(l, n int) int {
	if n <= 0 || l <= 0 {
		return 0
	}
	return (l + n - 1) / n
}
