package stream

import (
	"fmt"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

func init() {
	Register("fill", newFill)
}

// fillTransform replaces missing values with a running statistic over the
// last K non-missing values of the same feature id. A missing value passes
// through unmodified until min_samples prior observations exist.
type fillTransform struct {
	statistic  string
	window     int
	minSamples int
}

func newFill(params any) (Transform, error) {
	p := struct {
		Statistic  string `mapstructure:"statistic"`
		Window     int    `mapstructure:"window"`
		MinSamples int    `mapstructure:"min_samples"`
	}{Statistic: "median", MinSamples: 1}
	if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := validStatistic(p.Statistic); err != nil {
		return nil, err
	}
	if p.Window < 0 {
		return nil, fmt.Errorf("%w: window must be positive when provided", ErrInvalidParams)
	}
	if p.MinSamples <= 0 {
		return nil, fmt.Errorf("%w: min_samples must be positive", ErrInvalidParams)
	}
	return &fillTransform{statistic: p.Statistic, window: p.Window, minSamples: p.MinSamples}, nil
}

func (t *fillTransform) Apply(seq Seq[feature.Record]) Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		currentID := ""
		var history []float64

		for fr, err := range seq {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if serr := scalarOnly(fr, "fill"); serr != nil {
				yield(feature.Record{}, serr)
				return
			}

			if fr.ID != currentID {
				currentID = fr.ID
				history = history[:0]
			}

			if fr.Point.Missing() {
				if len(history) >= t.minSamples {
					filled, aerr := aggregate(t.statistic, history)
					if aerr != nil {
						yield(feature.Record{}, aerr)
						return
					}
					if !yield(fr.WithPoint(fr.Point.WithValue(filled)), nil) {
						return
					}
					continue
				}
				if !yield(fr, nil) {
					return
				}
				continue
			}

			if v, ok := temporal.AsFloat(fr.Point.Value); ok {
				history = append(history, v)
				if t.window > 0 && len(history) > t.window {
					history = history[1:]
				}
			}
			if !yield(fr, nil) {
				return
			}
		}
	}
}
