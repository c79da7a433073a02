package feature

import (
	"strings"
	"time"

	"github.com/vectormill/vectormill/pkg/temporal"
)

// GroupKey identifies the time bucket (and optional extra dimensions) shared
// by every feature value coalesced into one Sample. Comparison uses numeric
// timestamp semantics for the bucket, never lexicographic string ordering.
type GroupKey struct {
	Bucket time.Time
	Dims   []string
}

// KeyFor builds the group key for a record by flooring its timestamp to the
// grouping resolution.
func KeyFor(record temporal.Record, resolution time.Duration) GroupKey {
	return GroupKey{Bucket: temporal.Floor(record.Time, resolution)}
}

// Compare orders group keys by bucket time, then by extra dimensions.
func (k GroupKey) Compare(other GroupKey) int {
	if c := k.Bucket.Compare(other.Bucket); c != 0 {
		return c
	}
	for i := 0; i < len(k.Dims) && i < len(other.Dims); i++ {
		if k.Dims[i] < other.Dims[i] {
			return -1
		}
		if k.Dims[i] > other.Dims[i] {
			return 1
		}
	}
	switch {
	case len(k.Dims) < len(other.Dims):
		return -1
	case len(k.Dims) > len(other.Dims):
		return 1
	default:
		return 0
	}
}

// Equal reports whether two group keys identify the same bucket.
func (k GroupKey) Equal(other GroupKey) bool {
	return k.Compare(other) == 0
}

// String renders the key as a stable token: the RFC 3339 bucket timestamp
// followed by any extra dimensions. Equal keys always render identically,
// which deterministic hashing (sample splitting) relies on.
func (k GroupKey) String() string {
	token := k.Bucket.UTC().Format(time.RFC3339Nano)
	if len(k.Dims) == 0 {
		return token
	}
	return token + "|" + strings.Join(k.Dims, "|")
}

// Record is a feature-labeled temporal record. Scalar features carry a single
// Point; windowed features carry an ordered Window of points instead.
// Within one feature id, records are monotonically sorted by time before the
// merge stage.
type Record struct {
	ID     string
	Key    GroupKey
	Point  temporal.Record
	Window []temporal.Record
}

// IsSequence reports whether the record carries a windowed sequence payload.
func (r Record) IsSequence() bool {
	return r.Window != nil
}

// Time returns the record's effective timestamp: the point time for scalars,
// the last window element's time for sequences.
func (r Record) Time() time.Time {
	if r.IsSequence() {
		if len(r.Window) == 0 {
			return time.Time{}
		}
		return r.Window[len(r.Window)-1].Time
	}
	return r.Point.Time
}

// WithPoint returns a copy of the record with its scalar point replaced.
func (r Record) WithPoint(point temporal.Record) Record {
	r.Point = point
	return r
}
