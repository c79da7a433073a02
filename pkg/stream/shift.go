package stream

import (
	"time"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

func init() {
	Register("lag", newLag)
	Register("floor_time", newFloor)
}

func mapPoints(seq Seq[feature.Record], stage string, fn func(temporal.Record) temporal.Record) Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		for fr, err := range seq {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if serr := scalarOnly(fr, stage); serr != nil {
				yield(feature.Record{}, serr)
				return
			}
			if !yield(fr.WithPoint(fn(fr.Point)), nil) {
				return
			}
		}
	}
}

// lagTransform shifts feature record timestamps backwards by a fixed lag.
type lagTransform struct {
	lag time.Duration
}

func newLag(params any) (Transform, error) {
	var p struct {
		Lag string `mapstructure:"lag"`
	}
	if s, ok := params.(string); ok {
		p.Lag = s
	} else if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	d, err := temporal.ParseCadence(p.Lag)
	if err != nil {
		return nil, err
	}
	return &lagTransform{lag: d}, nil
}

func (t *lagTransform) Apply(seq Seq[feature.Record]) Seq[feature.Record] {
	return mapPoints(seq, "lag", func(r temporal.Record) temporal.Record {
		return r.WithTime(r.Time.Add(-t.lag))
	})
}

// floorTransform floors feature record timestamps to a cadence bucket.
type floorTransform struct {
	step time.Duration
}

func newFloor(params any) (Transform, error) {
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
	return &floorTransform{step: d}, nil
}

func (t *floorTransform) Apply(seq Seq[feature.Record]) Seq[feature.Record] {
	return mapPoints(seq, "floor_time", func(r temporal.Record) temporal.Record {
		return r.WithTime(temporal.Floor(r.Time, t.step))
	})
}
