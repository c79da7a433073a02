package stream

import (
	"fmt"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

func init() {
	Register("window", newWindow)
}

// windowTransform emits sliding fixed-size windows per feature id. Each
// output record carries the window's points in arrival order and the group
// key of the newest point. Requires input sorted by (feature id, time).
type windowTransform struct {
	size   int
	stride int
}

func newWindow(params any) (Transform, error) {
	p := struct {
		Size   int `mapstructure:"size"`
		Stride int `mapstructure:"stride"`
	}{Stride: 1}
	if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Size <= 0 {
		return nil, fmt.Errorf("%w: window size must be positive", ErrInvalidParams)
	}
	if p.Stride <= 0 {
		return nil, fmt.Errorf("%w: window stride must be positive", ErrInvalidParams)
	}
	return &windowTransform{size: p.Size, stride: p.Stride}, nil
}

func (t *windowTransform) Apply(seq Seq[feature.Record]) Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		currentID := ""
		var window []temporal.Record
		step := 0

		for fr, err := range seq {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if serr := scalarOnly(fr, "window"); serr != nil {
				yield(feature.Record{}, serr)
				return
			}

			if fr.ID != currentID {
				currentID = fr.ID
				window = window[:0]
				step = 0
			}

			window = append(window, fr.Point)
			if len(window) > t.size {
				window = window[1:]
			}
			if len(window) == t.size && step%t.stride == 0 {
				out := feature.Record{
					ID:     fr.ID,
					Key:    fr.Key,
					Window: append([]temporal.Record(nil), window...),
				}
				if !yield(out, nil) {
					return
				}
			}
			step++
		}
	}
}
