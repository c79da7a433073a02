package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/config"
	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/observability"
	"github.com/vectormill/vectormill/pkg/postprocess"
	"github.com/vectormill/vectormill/pkg/scaler"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/temporal"
	"github.com/vectormill/vectormill/pkg/vector"
)

// Options tunes how a pipeline run is assembled.
type Options struct {
	// IncludeTargets attaches the dataset targets to each sample.
	IncludeTargets bool

	// Rectangular walks every grouping bucket of the declared window,
	// emitting empty samples for gaps. Requires window bounds.
	Rectangular bool

	// DisableScaling drops the scale step from every feature pipeline.
	// Artifact builds use it to fit statistics without consuming them.
	DisableScaling bool

	// SkipPostprocess bypasses the vector transform chain and the sample
	// split. Artifact builds observe the raw merged stream.
	SkipPostprocess bool

	// SplitKeep overrides the split declaration's kept label, so one
	// project can serve train and evaluation datasets from the same
	// descriptor. Empty keeps the declared label.
	SplitKeep string
}

// FeatureStream builds the full per-feature stage chain for one configured
// feature: record filters and transforms, feature labeling, sorting, stream
// transforms, group-key assignment, optional scaling, sequence transforms
// and the final canonical sort the merge stage requires.
func (r *Runtime) FeatureStream(ctx context.Context, feat config.Feature, opts Options) (stream.Seq[feature.Record], error) {
	records, err := r.OpenStream(ctx, feat.Stream)
	if err != nil {
		return nil, err
	}

	recordTransforms, err := resolveRecordTransforms(feat)
	if err != nil {
		return nil, err
	}
	records = stream.ChainRecords(records, recordTransforms)
	records = countRecords(records, feat.Stream)

	labeled := labelRecords(records, feature.NewIDGenerator(feat.FeatureID, feat.PartitionBy))
	labeled = stream.Sorted(labeled, func(a, b feature.Record) bool {
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Time().Before(b.Time())
	})

	streamTransforms, err := resolveTransforms(feat.StreamTransforms)
	if err != nil {
		return nil, err
	}
	labeled = stream.Chain(labeled, streamTransforms)
	labeled = assignKeys(labeled, r.Resolution)

	if feat.ShouldScale() && !opts.DisableScaling {
		scaled, err := r.scaleStream(labeled, feat)
		if err != nil {
			return nil, err
		}
		labeled = scaled
	}

	sequenceTransforms, err := resolveTransforms(feat.SequenceTransforms)
	if err != nil {
		return nil, err
	}
	labeled = stream.Chain(labeled, sequenceTransforms)

	return stream.Sorted(labeled, func(a, b feature.Record) bool {
		if c := a.Key.Compare(b.Key); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	}), nil
}

// Samples assembles the full dataset: every feature stream merged into
// key-ordered samples, targets attached when requested, and the vector
// transform chain applied with the pipeline context bound.
func (r *Runtime) Samples(ctx context.Context, pctx *Context, opts Options) (stream.Seq[vector.Sample], error) {
	merged, err := r.mergePayload(ctx, r.Dataset.Features, opts)
	if err != nil {
		return nil, err
	}

	if opts.IncludeTargets && len(r.Dataset.Targets) > 0 {
		targets, err := r.mergePayload(ctx, r.Dataset.Targets, opts)
		if err != nil {
			return nil, err
		}
		merged = joinTargets(merged, targets)
	}

	if opts.SkipPostprocess {
		return merged, nil
	}

	clauses := append(append([]stream.Clause{}, r.Dataset.VectorTransforms...), r.Postprocess.Transforms...)
	transforms := make([]postprocess.Transform, 0, len(clauses))
	for _, clause := range clauses {
		t, err := postprocess.New(clause)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, t)
	}
	postprocess.BindAll(transforms, pctx)
	out := postprocess.Chain(merged, transforms)

	if split := r.Project.Globals.Split; split != nil {
		keep := split.Keep
		if opts.SplitKeep != "" {
			keep = opts.SplitKeep
		}
		// Without a kept label the split only describes how the dataset
		// could be divided; the stream passes through whole.
		if keep != "" {
			labeler, err := NewLabeler(split)
			if err != nil {
				return nil, err
			}
			out = splitSamples(out, labeler, keep)
		}
	}

	return countSamples(out), nil
}

func (r *Runtime) mergePayload(ctx context.Context, feats []config.Feature, opts Options) (stream.Seq[vector.Sample], error) {
	streams := make([]stream.Seq[feature.Record], 0, len(feats))
	for _, feat := range feats {
		s, err := r.FeatureStream(ctx, feat, opts)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}

	if opts.Rectangular {
		if start, end, ok := r.Window(); ok {
			return vector.MergeRectangular(streams, start, end, r.Resolution), nil
		}
	}
	return vector.Merge(streams), nil
}

func (r *Runtime) scaleStream(seq stream.Seq[feature.Record], feat config.Feature) (stream.Seq[feature.Record], error) {
	path, err := r.Artifacts.ResolvePath(artifacts.KeyScalerStatistics)
	if err != nil {
		return nil, err
	}
	sc, err := scaler.Load(path)
	if err != nil {
		return nil, err
	}
	if feat.Scale.WithMean != nil {
		sc.WithMean = *feat.Scale.WithMean
	}
	if feat.Scale.WithStd != nil {
		sc.WithStd = *feat.Scale.WithStd
	}
	return sc.Transform(seq), nil
}

func resolveRecordTransforms(feat config.Feature) ([]stream.RecordTransform, error) {
	clauses := append(append([]stream.Clause{}, feat.RecordFilters...), feat.RecordTransforms...)
	transforms := make([]stream.RecordTransform, 0, len(clauses))
	for _, clause := range clauses {
		t, err := stream.NewRecordTransform(clause)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, t)
	}
	return transforms, nil
}

func resolveTransforms(clauses []stream.Clause) ([]stream.Transform, error) {
	transforms := make([]stream.Transform, 0, len(clauses))
	for _, clause := range clauses {
		t, err := stream.NewTransform(clause)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, t)
	}
	return transforms, nil
}

// labelRecords stamps each temporal record with its (possibly partitioned)
// feature id.
func labelRecords(records stream.Seq[temporal.Record], gen *feature.IDGenerator) stream.Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		for record, err := range records {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			id, err := gen.Generate(record)
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			if !yield(feature.Record{ID: id, Point: record}, nil) {
				return
			}
		}
	}
}

// assignKeys buckets each record into the grouping resolution. Records that
// already carry a key (cadence placeholders) keep it.
func assignKeys(seq stream.Seq[feature.Record], resolution time.Duration) stream.Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		for fr, err := range seq {
			if err != nil {
				yield(fr, err)
				return
			}
			if fr.Key.Bucket.IsZero() {
				fr.Key = feature.KeyFor(temporal.Record{Time: fr.Time()}, resolution)
			}
			if !yield(fr, nil) {
				return
			}
		}
	}
}

// joinTargets attaches target vectors to feature samples by group key. Both
// inputs are key-ordered; target keys without a matching feature sample are
// discarded.
func joinTargets(features, targets stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		next, stop := iter.Pull2(iter.Seq2[vector.Sample, error](targets))
		defer stop()

		target, terr, tok := next()
		for s, err := range features {
			if err != nil {
				yield(s, err)
				return
			}
			for tok && terr == nil && target.Key.Compare(s.Key) < 0 {
				target, terr, tok = next()
			}
			if tok && terr != nil {
				yield(vector.Sample{}, terr)
				return
			}
			if tok && target.Key.Equal(s.Key) {
				s.Targets = target.Features
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

func countRecords(seq stream.Seq[temporal.Record], streamName string) stream.Seq[temporal.Record] {
	return func(yield func(temporal.Record, error) bool) {
		counter := observability.RecordsProcessed.WithLabelValues(streamName)
		for record, err := range seq {
			if err == nil {
				counter.Inc()
			}
			if !yield(record, err) || err != nil {
				return
			}
		}
	}
}

func countSamples(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		for s, err := range seq {
			if err == nil {
				observability.SamplesEmitted.Inc()
			}
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}
