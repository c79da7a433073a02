// Package temporal defines the canonical time-stamped record type shared by
// every pipeline stage.
package temporal

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrZeroTime is returned when a record is constructed without a timestamp
	ErrZeroTime = errors.New("record time must be set")
)

// Record is an immutable time-stamped value with optional partition
// attributes. The timestamp is normalized to UTC at construction.
type Record struct {
	Time  time.Time
	Value any
	Attrs map[string]string
}

// NewRecord constructs a Record, normalizing the timestamp to UTC.
func NewRecord(t time.Time, value any) (Record, error) {
	if t.IsZero() {
		return Record{}, ErrZeroTime
	}
	return Record{Time: t.UTC(), Value: value}, nil
}

// MustRecord is NewRecord for fixtures and tests; it panics on a zero time.
func MustRecord(t time.Time, value any) Record {
	r, err := NewRecord(t, value)
	if err != nil {
		panic(err)
	}
	return r
}

// WithTime returns a copy of the record with its timestamp replaced.
func (r Record) WithTime(t time.Time) Record {
	r.Time = t.UTC()
	return r
}

// WithValue returns a copy of the record with its value replaced.
func (r Record) WithValue(value any) Record {
	r.Value = value
	return r
}

// WithAttr returns a copy of the record with one attribute set. The attribute
// map is copied so the receiver is never mutated.
func (r Record) WithAttr(key, value string) Record {
	attrs := make(map[string]string, len(r.Attrs)+1)
	for k, v := range r.Attrs {
		attrs[k] = v
	}
	attrs[key] = value
	r.Attrs = attrs
	return r
}

// Attr returns the named partition attribute and whether it is set.
func (r Record) Attr(key string) (string, bool) {
	v, ok := r.Attrs[key]
	return v, ok
}

// Missing reports whether the record carries no usable value.
func (r Record) Missing() bool {
	return IsMissing(r.Value)
}

// Equal compares timestamp, value and all partition attributes.
func (r Record) Equal(other Record) bool {
	if !r.Time.Equal(other.Time) {
		return false
	}
	if !valueEqual(r.Value, other.Value) {
		return false
	}
	if len(r.Attrs) != len(other.Attrs) {
		return false
	}
	for k, v := range r.Attrs {
		if ov, ok := other.Attrs[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// IsMissing reports whether a value counts as missing: nil or NaN.
func IsMissing(value any) bool {
	if value == nil {
		return true
	}
	if f, ok := value.(float64); ok {
		return math.IsNaN(f)
	}
	return false
}

// AsFloat converts a record value to float64 when it is numeric.
func AsFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func valueEqual(a, b any) bool {
	if IsMissing(a) && IsMissing(b) {
		return true
	}
	af, aok := AsFloat(a)
	bf, bok := AsFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}
