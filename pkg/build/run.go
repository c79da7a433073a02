package build

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/pipeline"
	"github.com/vectormill/vectormill/pkg/spool"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/temporal"
	"github.com/vectormill/vectormill/pkg/vector"
)

// Run is the shared state of one build invocation. Every task observes the
// same raw sample stream: it is assembled once, spooled to disk and fanned
// out to as many readers as the plan needs, so the sources are decoded and
// merged exactly once per build.
type Run struct {
	runtime *pipeline.Runtime

	cache   *spool.Cache[vector.Sample]
	profile *profile
}

func newRun(runtime *pipeline.Runtime) *Run {
	return &Run{runtime: runtime}
}

// Samples returns a fresh cursor over the raw merged sample stream: targets
// attached, scaling and postprocess disabled so tasks see the data the
// artifacts must describe, not data shaped by the artifacts themselves.
func (r *Run) Samples(ctx context.Context) (stream.Seq[vector.Sample], error) {
	if r.cache == nil {
		merged, err := r.runtime.Samples(ctx, pipeline.NewContext(r.runtime), pipeline.Options{
			IncludeTargets:  true,
			DisableScaling:  true,
			SkipPostprocess: true,
		})
		if err != nil {
			return nil, err
		}
		cache, err := spool.New(ctx, r.runtime.Log(), "build-samples", merged)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r.cache.Reader(), nil
}

// Profile scans the sample stream once and caches the result for every task
// that needs per-id structure or counters.
func (r *Run) Profile(ctx context.Context) (*profile, error) {
	if r.profile != nil {
		return r.profile, nil
	}
	samples, err := r.Samples(ctx)
	if err != nil {
		return nil, err
	}
	p := newProfile()
	for sample, err := range samples {
		if err != nil {
			return nil, err
		}
		p.observe(sample)
	}
	r.profile = p
	return p, nil
}

// Close releases the spool backing file.
func (r *Run) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}

// profile accumulates per-id structure and observation counters over one
// pass of the sample stream.
type profile struct {
	features *entrySet
	targets  *entrySet
	counts   artifacts.Counts

	firstBucket time.Time
	lastBucket  time.Time
}

func newProfile() *profile {
	return &profile{
		features: newEntrySet(),
		targets:  newEntrySet(),
	}
}

func (p *profile) observe(sample vector.Sample) {
	bucket := sample.Key.Bucket
	if p.counts.FeatureVectors == 0 || bucket.Before(p.firstBucket) {
		p.firstBucket = bucket
	}
	if bucket.After(p.lastBucket) {
		p.lastBucket = bucket
	}

	p.counts.FeatureVectors++
	p.features.observe(sample.Features, bucket)
	if sample.Targets != nil {
		p.counts.TargetVectors++
		p.targets.observe(sample.Targets, bucket)
	}
}

// observedWindow derives window bounds from the buckets actually seen.
func (p *profile) observedWindow(resolution time.Duration) *artifacts.Window {
	if p.counts.FeatureVectors == 0 {
		return nil
	}
	return &artifacts.Window{
		Start: p.firstBucket,
		End:   p.lastBucket,
		Mode:  "observed",
		Size:  int(p.lastBucket.Sub(p.firstBucket)/resolution) + 1,
	}
}

type entrySet struct {
	entries map[string]*entryStats
}

func newEntrySet() *entrySet {
	return &entrySet{entries: make(map[string]*entryStats)}
}

type entryStats struct {
	kind             string
	presentCount     int
	nullCount        int
	valueTypes       map[string]struct{}
	elementTypes     map[string]struct{}
	observedElements int
	maxLen           int
	firstSeen        time.Time
	lastSeen         time.Time
}

func (s *entrySet) stats(id string) *entryStats {
	stats, ok := s.entries[id]
	if !ok {
		stats = &entryStats{
			valueTypes:   make(map[string]struct{}),
			elementTypes: make(map[string]struct{}),
		}
		s.entries[id] = stats
	}
	return stats
}

func (s *entrySet) observe(vec vector.Vector, bucket time.Time) {
	for id, raw := range vec {
		stats := s.stats(id)
		if temporal.IsMissing(raw) {
			stats.nullCount++
			continue
		}
		stats.presentCount++
		if stats.firstSeen.IsZero() || bucket.Before(stats.firstSeen) {
			stats.firstSeen = bucket
		}
		if bucket.After(stats.lastSeen) {
			stats.lastSeen = bucket
		}

		if list, ok := raw.([]any); ok {
			stats.kind = "list"
			if len(list) > stats.maxLen {
				stats.maxLen = len(list)
			}
			for _, element := range list {
				if temporal.IsMissing(element) {
					continue
				}
				stats.observedElements++
				stats.elementTypes[typeName(element)] = struct{}{}
			}
			continue
		}
		if stats.kind == "" {
			stats.kind = "scalar"
		}
		stats.valueTypes[typeName(raw)] = struct{}{}
	}
}

// ids returns every observed id in lexical order.
func (s *entrySet) ids() []string {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// document renders the set as artifact entries, counters included.
func (s *entrySet) document() []artifacts.Entry {
	entries := make([]artifacts.Entry, 0, len(s.entries))
	for _, id := range s.ids() {
		stats := s.entries[id]
		kind := stats.kind
		if kind == "" {
			kind = "scalar"
		}
		entry := artifacts.Entry{
			ID:           id,
			BaseID:       feature.BaseID(id),
			Kind:         kind,
			PresentCount: stats.presentCount,
			NullCount:    stats.nullCount,
			ValueTypes:   sortedKeys(stats.valueTypes),
			ElementTypes: sortedKeys(stats.elementTypes),
		}
		if kind == "list" && stats.maxLen > 0 {
			entry.Cadence = &artifacts.CadenceSpec{Strategy: "observed", Target: stats.maxLen}
		}
		if !stats.firstSeen.IsZero() {
			first, last := stats.firstSeen, stats.lastSeen
			entry.FirstSeen = &first
			entry.LastSeen = &last
			entry.ObservedElements = stats.observedElements
		}
		entries = append(entries, entry)
	}
	return entries
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func typeName(value any) string {
	switch value.(type) {
	case float64, float32:
		return "float"
	case int, int32, int64, uint, uint32, uint64:
		return "int"
	case string:
		return "str"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", value)
	}
}
