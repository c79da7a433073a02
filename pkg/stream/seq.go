// Package stream provides the lazy pull-based sequence type used between
// pipeline stages and the per-stream record transforms that operate on it.
package stream

import (
	"iter"
	"sort"
)

// Seq is a finite, single-pass, pull-based sequence. Every stage is a
// synchronous producer; an element paired with a non-nil error terminates
// consumption and the error propagates to the caller.
type Seq[T any] = iter.Seq2[T, error]

// FromSlice wraps a slice as a Seq.
func FromSlice[T any](items []T) Seq[T] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Fail returns a Seq that immediately yields the given error.
func Fail[T any](err error) Seq[T] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}

// Collect drains a Seq into a slice, returning the first error encountered.
func Collect[T any](seq Seq[T]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Sorted materializes a Seq, sorts it with the given less function and
// re-emits it lazily. The sort is stable so equal elements keep arrival order.
func Sorted[T any](seq Seq[T], less func(a, b T) bool) Seq[T] {
	return func(yield func(T, error) bool) {
		items, err := Collect(seq)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
