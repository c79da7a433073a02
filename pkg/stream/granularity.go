package stream

import (
	"fmt"
	"time"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

func init() {
	Register("granularity", newGranularity)
}

// granularityTransform collapses same-timestamp duplicates within one feature
// id via first/last/mean/median, preserving first-appearance order of
// distinct timestamps. Requires input grouped by feature id.
type granularityTransform struct {
	mode string
}

func newGranularity(params any) (Transform, error) {
	p := struct {
		Mode string `mapstructure:"mode"`
	}{Mode: "first"}
	if s, ok := params.(string); ok {
		p.Mode = s
	} else if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	switch p.Mode {
	case "first", "last", "mean", "median":
	default:
		return nil, fmt.Errorf("%w: unsupported granularity mode %q", ErrInvalidParams, p.Mode)
	}
	return &granularityTransform{mode: p.Mode}, nil
}

type timeBucket struct {
	at      time.Time
	records []feature.Record
}

func (t *granularityTransform) Apply(seq Seq[feature.Record]) Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		currentID := ""
		var buckets []timeBucket
		index := make(map[time.Time]int)

		flush := func() bool {
			for _, bucket := range buckets {
				out, err := t.collapse(bucket.records)
				if err != nil {
					yield(feature.Record{}, err)
					return false
				}
				if !yield(out, nil) {
					return false
				}
			}
			buckets = buckets[:0]
			index = make(map[time.Time]int)
			return true
		}

		for fr, err := range seq {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if serr := scalarOnly(fr, "granularity"); serr != nil {
				yield(feature.Record{}, serr)
				return
			}

			if fr.ID != currentID {
				if currentID != "" && !flush() {
					return
				}
				currentID = fr.ID
			}

			at := fr.Point.Time
			if i, ok := index[at]; ok {
				buckets[i].records = append(buckets[i].records, fr)
				continue
			}
			index[at] = len(buckets)
			buckets = append(buckets, timeBucket{at: at, records: []feature.Record{fr}})
		}

		if currentID != "" {
			flush()
		}
	}
}

func (t *granularityTransform) collapse(records []feature.Record) (feature.Record, error) {
	switch t.mode {
	case "first":
		return records[0], nil
	case "last":
		return records[len(records)-1], nil
	}

	values := make([]float64, 0, len(records))
	for _, fr := range records {
		v, ok := temporal.AsFloat(fr.Point.Value)
		if !ok {
			return feature.Record{}, fmt.Errorf("%w: granularity %s requires numeric values (feature %s)",
				ErrInvalidParams, t.mode, fr.ID)
		}
		values = append(values, v)
	}
	agg, err := aggregate(t.mode, values)
	if err != nil {
		return feature.Record{}, err
	}

	last := records[len(records)-1]
	return last.WithPoint(last.Point.WithValue(agg)), nil
}
