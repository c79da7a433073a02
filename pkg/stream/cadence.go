package stream

import (
	"time"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

func init() {
	Register("ensure_cadence", newEnsureCadence)
}

// ensureCadence inserts null-valued placeholders so consecutive timestamps
// within one feature id are exactly one cadence step apart. It fires only
// after the first real record per id and never backfills before it.
// Requires input sorted by (feature id, record time).
type ensureCadence struct {
	step time.Duration
}

func newEnsureCadence(params any) (Transform, error) {
	var p struct {
		Cadence string `mapstructure:"cadence"`
	}
	if s, ok := params.(string); ok {
		p.Cadence = s
	} else if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	d, err := temporal.ParseCadence(p.Cadence)
	if err != nil {
		return nil, err
	}
	return &ensureCadence{step: d}, nil
}

func (t *ensureCadence) Apply(seq Seq[feature.Record]) Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		var last *feature.Record
		for fr, err := range seq {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if serr := scalarOnly(fr, "ensure_cadence"); serr != nil {
				yield(feature.Record{}, serr)
				return
			}

			if last == nil || last.ID != fr.ID {
				if !yield(fr, nil) {
					return
				}
				keep := fr
				last = &keep
				continue
			}

			for expect := last.Point.Time.Add(t.step); expect.Before(fr.Point.Time); expect = expect.Add(t.step) {
				placeholder := feature.Record{
					ID:    fr.ID,
					Key:   feature.GroupKey{Bucket: expect, Dims: fr.Key.Dims},
					Point: temporal.Record{Time: expect, Value: nil},
				}
				if !yield(placeholder, nil) {
					return
				}
			}

			if !yield(fr, nil) {
				return
			}
			keep := fr
			last = &keep
		}
	}
}
