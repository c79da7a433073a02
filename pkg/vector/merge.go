package vector

import (
	"container/heap"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/stream"
)

var (
	// ErrMixedSequence is returned when a windowed record co-occurs with other
	// records for the same feature id in one group. That is a modeling error,
	// never silently coerced.
	ErrMixedSequence = errors.New("sequence feature mixed with other records in one group")
)

type mergeEntry struct {
	record feature.Record
	source int
	pull   func() (feature.Record, error, bool)
}

type mergeHeap []mergeEntry

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	if c := h[i].record.Key.Compare(h[j].record.Key); c != 0 {
		return c < 0
	}
	return h[i].source < h[j].source
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(mergeEntry)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeRecords k-way-merges N per-feature streams, each sorted by group key,
// into one sequence ordered by increasing group key. Ties preserve stream
// declaration order.
func mergeRecords(streams []stream.Seq[feature.Record]) stream.Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		h := make(mergeHeap, 0, len(streams))
		stops := make([]func(), 0, len(streams))
		defer func() {
			for _, stop := range stops {
				stop()
			}
		}()

		for i, s := range streams {
			next, stop := iter.Pull2(iter.Seq2[feature.Record, error](s))
			stops = append(stops, stop)
			pull := func() (feature.Record, error, bool) {
				r, err, ok := pullOnce(next)
				return r, err, ok
			}
			r, err, ok := pull()
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if ok {
				h = append(h, mergeEntry{record: r, source: i, pull: pull})
			}
		}
		heap.Init(&h)

		for h.Len() > 0 {
			entry := heap.Pop(&h).(mergeEntry)
			if !yield(entry.record, nil) {
				return
			}
			r, err, ok := entry.pull()
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if ok {
				entry.record = r
				heap.Push(&h, entry)
			}
		}
	}
}

func pullOnce(next func() (feature.Record, error, bool)) (feature.Record, error, bool) {
	r, err, ok := next()
	if !ok {
		return feature.Record{}, nil, false
	}
	return r, err, true
}

// Merge produces a lazy, finite, single-pass sequence of Samples ordered by
// increasing group key. Records sharing a key are coalesced into one Vector:
// exactly one record for an id becomes a scalar; several become an ordered
// list preserving arrival order; a windowed record becomes the list of its
// window values.
func Merge(streams []stream.Seq[feature.Record]) stream.Seq[Sample] {
	return func(yield func(Sample, error) bool) {
		var (
			haveGroup bool
			key       feature.GroupKey
			order     []string
			group     map[string][]feature.Record
		)

		flush := func() (Sample, error) {
			v, err := vectorize(order, group)
			if err != nil {
				return Sample{}, err
			}
			return Sample{Key: key, Features: v}, nil
		}

		for fr, err := range mergeRecords(streams) {
			if err != nil {
				yield(Sample{}, err)
				return
			}
			if haveGroup && !fr.Key.Equal(key) {
				s, ferr := flush()
				if ferr != nil {
					yield(Sample{}, ferr)
					return
				}
				if !yield(s, nil) {
					return
				}
				haveGroup = false
			}
			if !haveGroup {
				haveGroup = true
				key = fr.Key
				order = order[:0]
				group = make(map[string][]feature.Record)
			}
			if _, seen := group[fr.ID]; !seen {
				order = append(order, fr.ID)
			}
			group[fr.ID] = append(group[fr.ID], fr)
		}

		if haveGroup {
			s, ferr := flush()
			if ferr != nil {
				yield(Sample{}, ferr)
				return
			}
			yield(s, nil)
		}
	}
}

// MergeRectangular walks every cadence bucket in [start, end] (inclusive),
// emitting a Sample for each bucket even where no stream contributes data, so
// gaps become missing features rather than absent Samples. Merged samples
// outside the window are discarded.
func MergeRectangular(streams []stream.Seq[feature.Record], start, end time.Time, step time.Duration) stream.Seq[Sample] {
	return func(yield func(Sample, error) bool) {
		expect := start.UTC()
		endUTC := end.UTC()

		emitEmptyUntil := func(bucket time.Time) bool {
			for !expect.After(endUTC) && expect.Before(bucket) {
				if !yield(Sample{Key: feature.GroupKey{Bucket: expect}, Features: Vector{}}, nil) {
					return false
				}
				expect = expect.Add(step)
			}
			return true
		}

		for s, err := range Merge(streams) {
			if err != nil {
				yield(Sample{}, err)
				return
			}
			bucket := s.Key.Bucket
			if bucket.Before(expect) || bucket.After(endUTC) {
				continue
			}
			if !emitEmptyUntil(bucket) {
				return
			}
			if !yield(s, nil) {
				return
			}
			expect = bucket.Add(step)
		}

		// Trailing buckets after the last contributing stream.
		if !emitEmptyUntil(endUTC.Add(step)) {
			return
		}
	}
}

func vectorize(order []string, group map[string][]feature.Record) (Vector, error) {
	v := make(Vector, len(order))
	for _, id := range order {
		records := group[id]
		sequence := false
		for _, fr := range records {
			if fr.IsSequence() {
				sequence = true
				break
			}
		}
		if sequence {
			if len(records) != 1 {
				return nil, fmt.Errorf("%w: feature %s has %d records in one bucket", ErrMixedSequence, id, len(records))
			}
			window := records[0].Window
			values := make([]any, 0, len(window))
			for _, point := range window {
				values = append(values, point.Value)
			}
			v[id] = values
			continue
		}
		if len(records) == 1 {
			v[id] = records[0].Point.Value
			continue
		}
		values := make([]any, 0, len(records))
		for _, fr := range records {
			values = append(values, fr.Point.Value)
		}
		v[id] = values
	}
	return v, nil
}
