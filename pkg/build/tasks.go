package build

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"time"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/config"
	"github.com/vectormill/vectormill/pkg/scaler"
)

// ErrNoScalableValues is returned when the scaler fit observes no numeric
// values. Persisting empty statistics would make every later scale step fail.
var ErrNoScalableValues = errors.New("scaler fit observed no numeric values")

// definitions lists every buildable artifact in declaration order. The
// scaler task only runs when some feature opts into scaling; the metadata
// document builds on top of the schema document.
func definitions() []Definition {
	return []Definition{
		{
			Key:         artifacts.KeyPartitionedIDs,
			TaskKind:    "partitioned_ids",
			Materialize: materializePartitionedIDs,
		},
		{
			Key:         artifacts.KeyVectorSchema,
			TaskKind:    "vector_schema",
			Materialize: materializeSchema,
		},
		{
			Key:          artifacts.KeyVectorMetadata,
			TaskKind:     "vector_metadata",
			Dependencies: []string{artifacts.KeyVectorSchema},
			Materialize:  materializeMetadata,
		},
		{
			Key:         artifacts.KeyScalerStatistics,
			TaskKind:    "scaler_statistics",
			RequiredIf:  func(dataset *config.Dataset) bool { return dataset.RequiresScaling() },
			Materialize: materializeScaler,
		},
	}
}

// materializePartitionedIDs writes the sorted union of every feature id that
// actually occurs in the assembled vectors, one per line.
func materializePartitionedIDs(ctx context.Context, run *Run) (string, map[string]any, error) {
	cfg := run.runtime.Build.PartitionedIDs

	p, err := run.Profile(ctx)
	if err != nil {
		return "", nil, err
	}
	ids := p.features.ids()
	if cfg.IncludeTargets {
		ids = sortedUnique(append(ids, p.targets.ids()...))
	}

	path := filepath.Join(run.runtime.Artifacts.Root(), cfg.Output)
	if err := artifacts.WritePartitionedIDs(path, ids); err != nil {
		return "", nil, err
	}
	return cfg.Output, map[string]any{"ids": len(ids)}, nil
}

// materializeSchema persists the structural view of the assembled vectors:
// per-id kind, value types and list cadence, without observation counters.
func materializeSchema(ctx context.Context, run *Run) (string, map[string]any, error) {
	cfg := run.runtime.Build.Schema

	p, err := run.Profile(ctx)
	if err != nil {
		return "", nil, err
	}
	doc := &artifacts.Document{
		Version:     artifacts.BuildStateVersion,
		GeneratedAt: time.Now().UTC(),
		Features:    structural(p.features.document()),
		Targets:     structural(p.targets.document()),
	}

	path := filepath.Join(run.runtime.Artifacts.Root(), cfg.Output)
	if err := artifacts.SaveDocument(path, doc); err != nil {
		return "", nil, err
	}
	return cfg.Output, nil, nil
}

// materializeMetadata persists the full observation counters plus the window
// the counters are judged against. The declared mode uses the project
// globals; without bounds it degrades to the observed window.
func materializeMetadata(ctx context.Context, run *Run) (string, map[string]any, error) {
	cfg := run.runtime.Build.Metadata

	p, err := run.Profile(ctx)
	if err != nil {
		return "", nil, err
	}
	doc := &artifacts.Document{
		Version:     artifacts.BuildStateVersion,
		GeneratedAt: time.Now().UTC(),
		Features:    p.features.document(),
		Targets:     p.targets.document(),
		Counts:      p.counts,
		Window:      run.window(cfg.WindowMode, p),
	}

	path := filepath.Join(run.runtime.Artifacts.Root(), cfg.Output)
	if err := artifacts.SaveDocument(path, doc); err != nil {
		return "", nil, err
	}
	return cfg.Output, map[string]any{"window_mode": cfg.WindowMode}, nil
}

// materializeScaler fits standard-scaling statistics over the raw stream and
// persists them for the scale step of later runs.
func materializeScaler(ctx context.Context, run *Run) (string, map[string]any, error) {
	cfg := run.runtime.Build.Scaler

	samples, err := run.Samples(ctx)
	if err != nil {
		return "", nil, err
	}
	sc := scaler.New()
	observed, err := sc.Fit(samples)
	if err != nil {
		return "", nil, err
	}
	if observed == 0 {
		return "", nil, ErrNoScalableValues
	}

	path := filepath.Join(run.runtime.Artifacts.Root(), cfg.Output)
	if err := sc.Save(path); err != nil {
		return "", nil, err
	}
	return cfg.Output, map[string]any{"values": observed}, nil
}

func (r *Run) window(mode string, p *profile) *artifacts.Window {
	if mode == "declared" {
		if start, end, ok := r.runtime.Window(); ok {
			size, _ := r.runtime.WindowSize()
			return &artifacts.Window{Start: start, End: end, Mode: "declared", Size: size}
		}
		r.runtime.Log().Warn("No window bounds declared, recording observed window instead")
	}
	return p.observedWindow(r.runtime.Resolution)
}

// sortedUnique sorts and deduplicates an id list.
func sortedUnique(ids []string) []string {
	sort.Strings(ids)
	out := make([]string, 0, len(ids))
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}

// structural strips observation counters from profiled entries, leaving the
// schema-level fields.
func structural(entries []artifacts.Entry) []artifacts.Entry {
	out := make([]artifacts.Entry, len(entries))
	for i, entry := range entries {
		out[i] = artifacts.Entry{
			ID:           entry.ID,
			BaseID:       entry.BaseID,
			Kind:         entry.Kind,
			ValueTypes:   entry.ValueTypes,
			ElementTypes: entry.ElementTypes,
			Cadence:      entry.Cadence,
		}
	}
	return out
}
