package postprocess

import (
	"fmt"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/temporal"
	"github.com/vectormill/vectormill/pkg/vector"
)

//nolint:gochecknoinits // Transform registration
func init() {
	Register("fill_constant", newFillConstant)
	Register("fill_history", newFillHistory)
	Register("fill_across_partitions", newFillAcrossPartitions)
}

type fillConstantParams struct {
	Value   any    `mapstructure:"value"`
	Payload string `mapstructure:"payload"`
}

// fillConstant fills currently-missing baseline ids with a constant value.
// Present values are never overwritten.
type fillConstant struct {
	contextual
	value any
}

func newFillConstant(params any) (Transform, error) {
	var p fillConstantParams
	if err := stream.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	payload, err := validatePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	return &fillConstant{contextual: contextual{payload: payload}, value: p.Value}, nil
}

func (t *fillConstant) Apply(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		for sample, err := range seq {
			if err != nil {
				yield(sample, err)
				return
			}
			baseline, err := t.expectedIDs()
			if err != nil {
				yield(vector.Sample{}, err)
				return
			}
			vec := sample.Payload(t.payload)
			if vec == nil || len(baseline) == 0 {
				if !yield(sample, nil) {
					return
				}
				continue
			}
			var out vector.Vector
			for _, id := range baseline {
				if value, ok := vec[id]; ok && !temporal.IsMissing(value) {
					continue
				}
				if out == nil {
					out = vec.Clone()
				}
				out[id] = t.value
			}
			if out != nil {
				sample = sample.WithPayload(t.payload, out)
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}

type fillHistoryParams struct {
	Statistic  string `mapstructure:"statistic"`
	Window     int    `mapstructure:"window"`
	MinSamples int    `mapstructure:"min_samples"`
	Payload    string `mapstructure:"payload"`
}

// fillHistory fills missing baseline ids from a bounded per-id buffer of
// previously seen numeric values. The buffer is fed after the fill decision
// for the current sample, so a bucket never fills from itself, and filled
// values do feed subsequent buckets.
type fillHistory struct {
	contextual
	statistic  string
	window     int
	minSamples int
	history    map[string][]float64
}

func newFillHistory(params any) (Transform, error) {
	p := fillHistoryParams{Statistic: "median", MinSamples: 1}
	if err := stream.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Statistic != "mean" && p.Statistic != "median" {
		return nil, fmt.Errorf("%w: statistic must be \"mean\" or \"median\", got %q", stream.ErrInvalidParams, p.Statistic)
	}
	if p.Window < 0 {
		return nil, fmt.Errorf("%w: window must be positive when provided", stream.ErrInvalidParams)
	}
	if p.MinSamples <= 0 {
		return nil, fmt.Errorf("%w: min_samples must be positive", stream.ErrInvalidParams)
	}
	payload, err := validatePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	return &fillHistory{
		contextual: contextual{payload: payload},
		statistic:  p.Statistic,
		window:     p.Window,
		minSamples: p.MinSamples,
		history:    make(map[string][]float64),
	}, nil
}

func (t *fillHistory) Apply(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		for sample, err := range seq {
			if err != nil {
				yield(sample, err)
				return
			}
			baseline, err := t.expectedIDs()
			if err != nil {
				yield(vector.Sample{}, err)
				return
			}
			vec := sample.Payload(t.payload)
			if vec == nil {
				if !yield(sample, nil) {
					return
				}
				continue
			}
			var out vector.Vector
			for _, id := range baseline {
				if value, ok := vec[id]; ok && !temporal.IsMissing(value) {
					continue
				}
				fill, ok := t.compute(id)
				if !ok {
					continue
				}
				if out == nil {
					out = vec.Clone()
				}
				out[id] = fill
			}
			current := vec
			if out != nil {
				current = out
				sample = sample.WithPayload(t.payload, out)
			}
			for id, value := range current {
				t.push(id, value)
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}

func (t *fillHistory) compute(id string) (float64, bool) {
	values := t.history[id]
	if len(values) < t.minSamples {
		return 0, false
	}
	result, err := aggregate(t.statistic, values)
	if err != nil {
		return 0, false
	}
	return result, true
}

func (t *fillHistory) push(id string, value any) {
	num, ok := temporal.AsFloat(value)
	if !ok {
		return
	}
	values := append(t.history[id], num)
	if t.window > 0 && len(values) > t.window {
		values = values[len(values)-t.window:]
	}
	t.history[id] = values
}

type fillAcrossParams struct {
	Statistic  string `mapstructure:"statistic"`
	MinSamples int    `mapstructure:"min_samples"`
	Payload    string `mapstructure:"payload"`
}

// fillAcrossPartitions fills a missing partitioned id from the sibling
// partitions sharing its base id within the same sample.
type fillAcrossPartitions struct {
	contextual
	statistic  string
	minSamples int
}

func newFillAcrossPartitions(params any) (Transform, error) {
	p := fillAcrossParams{Statistic: "median", MinSamples: 1}
	if err := stream.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Statistic != "mean" && p.Statistic != "median" {
		return nil, fmt.Errorf("%w: statistic must be \"mean\" or \"median\", got %q", stream.ErrInvalidParams, p.Statistic)
	}
	if p.MinSamples <= 0 {
		return nil, fmt.Errorf("%w: min_samples must be positive", stream.ErrInvalidParams)
	}
	payload, err := validatePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	return &fillAcrossPartitions{
		contextual: contextual{payload: payload},
		statistic:  p.Statistic,
		minSamples: p.MinSamples,
	}, nil
}

func (t *fillAcrossPartitions) Apply(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		for sample, err := range seq {
			if err != nil {
				yield(sample, err)
				return
			}
			baseline, err := t.expectedIDs()
			if err != nil {
				yield(vector.Sample{}, err)
				return
			}
			vec := sample.Payload(t.payload)
			if vec == nil || len(baseline) == 0 {
				if !yield(sample, nil) {
					return
				}
				continue
			}

			siblings := make(map[string][]float64)
			for id, value := range vec {
				if num, ok := temporal.AsFloat(value); ok {
					base := feature.BaseID(id)
					siblings[base] = append(siblings[base], num)
				}
			}

			var out vector.Vector
			for _, id := range baseline {
				if value, ok := vec[id]; ok && !temporal.IsMissing(value) {
					continue
				}
				candidates := siblings[feature.BaseID(id)]
				if len(candidates) < t.minSamples {
					continue
				}
				fill, err := aggregate(t.statistic, candidates)
				if err != nil {
					continue
				}
				if out == nil {
					out = vec.Clone()
				}
				out[id] = fill
			}
			if out != nil {
				sample = sample.WithPayload(t.payload, out)
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}
