package stream

import (
	"fmt"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

func init() {
	Register("rolling", newRolling)
}

// rollingTransform computes a fixed-size rolling statistic per feature id.
// Missing inputs occupy a window slot without contributing a value; the
// output is null until min_samples valid values are in the window.
type rollingTransform struct {
	window     int
	minSamples int
	statistic  string
}

func newRolling(params any) (Transform, error) {
	p := struct {
		Window     int    `mapstructure:"window"`
		MinSamples int    `mapstructure:"min_samples"`
		Statistic  string `mapstructure:"statistic"`
	}{Statistic: "mean"}
	if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Window <= 0 {
		return nil, fmt.Errorf("%w: window must be a positive integer", ErrInvalidParams)
	}
	if p.MinSamples == 0 {
		p.MinSamples = p.Window
	}
	if p.MinSamples < 0 {
		return nil, fmt.Errorf("%w: min_samples must be positive", ErrInvalidParams)
	}
	if err := validStatistic(p.Statistic); err != nil {
		return nil, err
	}
	return &rollingTransform{window: p.Window, minSamples: p.MinSamples, statistic: p.Statistic}, nil
}

func (t *rollingTransform) Apply(seq Seq[feature.Record]) Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		currentID := ""
		var slots []*float64

		for fr, err := range seq {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if serr := scalarOnly(fr, "rolling"); serr != nil {
				yield(feature.Record{}, serr)
				return
			}

			if fr.ID != currentID {
				currentID = fr.ID
				slots = slots[:0]
			}

			if v, ok := temporal.AsFloat(fr.Point.Value); ok {
				slots = append(slots, &v)
			} else {
				slots = append(slots, nil)
			}
			if len(slots) > t.window {
				slots = slots[1:]
			}

			valid := make([]float64, 0, len(slots))
			for _, s := range slots {
				if s != nil {
					valid = append(valid, *s)
				}
			}

			var rolled any
			if len(valid) >= t.minSamples {
				v, aerr := aggregate(t.statistic, valid)
				if aerr != nil {
					yield(feature.Record{}, aerr)
					return
				}
				rolled = v
			}

			if !yield(fr.WithPoint(fr.Point.WithValue(rolled)), nil) {
				return
			}
		}
	}
}
