// Package vector assembles per-feature record streams into time-bucketed
// feature vectors and the Samples the postprocess stage operates on.
package vector

import (
	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

// Vector maps feature ids to a scalar value or an ordered list of values.
type Vector map[string]any

// Clone returns a shallow copy of the vector. Transforms never mutate an
// input vector in place; they copy, update, and emit a new Sample.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Coverage returns the coverage contribution of a single vector cell.
// Scalars contribute 1 when present and non-missing, 0 otherwise. Lists
// contribute the fraction of non-missing elements, 0 for an empty list.
func Coverage(value any) float64 {
	if list, ok := value.([]any); ok {
		if len(list) == 0 {
			return 0
		}
		present := 0
		for _, item := range list {
			if !temporal.IsMissing(item) {
				present++
			}
		}
		return float64(present) / float64(len(list))
	}
	if temporal.IsMissing(value) {
		return 0
	}
	return 1
}

// Sample is one assembled group: a group key, the feature vector, and an
// optional target vector.
type Sample struct {
	Key      feature.GroupKey
	Features Vector
	Targets  Vector
}

// Payload selects the features or targets vector by name.
func (s Sample) Payload(payload string) Vector {
	if payload == "targets" {
		return s.Targets
	}
	return s.Features
}

// WithPayload returns a copy of the sample with the named vector replaced.
func (s Sample) WithPayload(payload string, v Vector) Sample {
	if payload == "targets" {
		s.Targets = v
		return s
	}
	s.Features = v
	return s
}

// WithFeatures returns a copy of the sample with its feature vector replaced.
func (s Sample) WithFeatures(v Vector) Sample {
	s.Features = v
	return s
}

// WithTargets returns a copy of the sample with its target vector replaced.
func (s Sample) WithTargets(v Vector) Sample {
	s.Targets = v
	return s
}
