package postprocess

import (
	"fmt"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/observability"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/vector"
)

//nolint:gochecknoinits // Transform registration
func init() {
	Register("drop", newDropTransform)
}

type dropParams struct {
	Axis      string   `mapstructure:"axis"`
	Threshold *float64 `mapstructure:"threshold"`
	Payload   string   `mapstructure:"payload"`
	Only      []string `mapstructure:"only"`
	Exclude   []string `mapstructure:"exclude"`
}

// dropTransform removes whole samples (horizontal) or whole feature ids
// (vertical) whose coverage falls below a threshold.
type dropTransform struct {
	contextual
	axis      string
	threshold float64
	only      map[string]struct{}
	exclude   map[string]struct{}
}

func newDropTransform(params any) (Transform, error) {
	var p dropParams
	if err := stream.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Axis == "" {
		p.Axis = "horizontal"
	}
	if p.Axis != "horizontal" && p.Axis != "vertical" {
		return nil, fmt.Errorf("%w: axis must be \"horizontal\" or \"vertical\", got %q", stream.ErrInvalidParams, p.Axis)
	}
	if p.Threshold == nil {
		return nil, fmt.Errorf("%w: drop requires a threshold", stream.ErrInvalidParams)
	}
	if *p.Threshold < 0 || *p.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be between 0 and 1, got %v", stream.ErrInvalidParams, *p.Threshold)
	}
	payload, err := validatePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	return &dropTransform{
		contextual: contextual{payload: payload},
		axis:       p.Axis,
		threshold:  *p.Threshold,
		only:       toSet(p.Only),
		exclude:    toSet(p.Exclude),
	}, nil
}

func (t *dropTransform) Apply(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	if t.axis == "vertical" {
		return t.applyVertical(seq)
	}
	return t.applyHorizontal(seq)
}

// applyHorizontal drops individual samples whose averaged per-id coverage
// over the baseline falls below the threshold. Without a baseline there is
// nothing to evaluate against and the stream passes through.
func (t *dropTransform) applyHorizontal(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		baseline, err := t.expectedIDs()
		if err != nil {
			yield(vector.Sample{}, err)
			return
		}
		baseline = t.scope(baseline)
		if len(baseline) == 0 {
			for sample, err := range seq {
				if !yield(sample, err) || err != nil {
					return
				}
			}
			return
		}

		for sample, err := range seq {
			if err != nil {
				yield(sample, err)
				return
			}
			vec := sample.Payload(t.payload)
			if vec == nil {
				if !yield(sample, nil) {
					return
				}
				continue
			}
			total := 0.0
			for _, id := range baseline {
				total += vector.Coverage(vec[id])
			}
			if total/float64(len(baseline)) < t.threshold {
				observability.SamplesDropped.Inc()
				continue
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}

// applyVertical removes every feature id whose global coverage, computed
// from the vector metadata artifact, falls below the threshold. Running it
// without a metadata artifact is a fatal configuration error: global
// coverage cannot be approximated from the stream itself.
func (t *dropTransform) applyVertical(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		dropped, err := t.resolveDroppedIDs()
		if err != nil {
			yield(vector.Sample{}, err)
			return
		}

		for sample, err := range seq {
			if err != nil {
				yield(sample, err)
				return
			}
			vec := sample.Payload(t.payload)
			var out vector.Vector
			for id := range dropped {
				if _, ok := vec[id]; !ok {
					continue
				}
				if out == nil {
					out = vec.Clone()
				}
				delete(out, id)
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

func (t *dropTransform) resolveDroppedIDs() (map[string]struct{}, error) {
	if t.ctx == nil {
		return nil, ErrNoMetadata
	}
	doc, err := t.ctx.Metadata()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNoMetadata
	}

	opportunity := opportunityCount(doc, t.payload)
	dropped := make(map[string]struct{})
	for _, entry := range doc.Payload(t.payload) {
		if !t.inScope(entry.ID) {
			continue
		}
		if globalCoverage(entry, opportunity) < t.threshold {
			dropped[entry.ID] = struct{}{}
		}
	}
	return dropped, nil
}

// opportunityCount is the effective denominator for global coverage: the
// declared window size in buckets when present, otherwise the raw vector
// count observed while building the metadata document.
func opportunityCount(doc *artifacts.Document, payload string) int {
	if doc.Window != nil && doc.Window.Size > 0 {
		return doc.Window.Size
	}
	if payload == "targets" {
		return doc.Counts.TargetVectors
	}
	return doc.Counts.FeatureVectors
}

// globalCoverage computes one id's coverage across the whole window.
// List-valued ids measure element coverage against their declared cadence
// target; scalar ids measure bucket presence against the opportunity count.
func globalCoverage(entry artifacts.Entry, opportunity int) float64 {
	if entry.Kind == "list" && entry.Cadence != nil && entry.Cadence.Target > 0 {
		if entry.PresentCount <= 0 {
			return 0
		}
		return float64(entry.ObservedElements) / float64(entry.Cadence.Target*entry.PresentCount)
	}
	if opportunity <= 0 {
		return 0
	}
	return float64(entry.PresentCount) / float64(opportunity)
}

// scope filters a baseline through the only/exclude lists, preserving order.
func (t *dropTransform) scope(ids []string) []string {
	if len(t.only) == 0 && len(t.exclude) == 0 {
		return ids
	}
	scoped := make([]string, 0, len(ids))
	for _, id := range ids {
		if t.inScope(id) {
			scoped = append(scoped, id)
		}
	}
	return scoped
}

func (t *dropTransform) inScope(id string) bool {
	if len(t.only) > 0 {
		if _, ok := t.only[id]; !ok {
			return false
		}
	}
	_, excluded := t.exclude[id]
	return !excluded
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
