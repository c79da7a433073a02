package pipeline

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vectormill/vectormill/pkg/config"
	"github.com/vectormill/vectormill/pkg/observability"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/vector"
)

// Labeler assigns a split label to one assembled sample. Labels are a pure
// function of the sample, so the same dataset always splits the same way.
type Labeler interface {
	Label(sample vector.Sample) string
}

// NewLabeler builds the labeler for a validated split declaration.
func NewLabeler(cfg *config.Split) (Labeler, error) {
	switch cfg.Mode {
	case "time":
		return newTimeLabeler(cfg)
	case "hash":
		return newHashLabeler(cfg)
	}
	return nil, fmt.Errorf("%w, got %q", config.ErrInvalidSplitMode, cfg.Mode)
}

type splitThreshold struct {
	upper float64
	label string
}

// hashLabeler buckets samples by a stable content hash against cumulative
// label ratios. The hash key is the group key, or a named feature's value
// with the group key as fallback when the feature is absent.
type hashLabeler struct {
	thresholds []splitThreshold
	seed       int64
	key        string
}

func newHashLabeler(cfg *config.Split) (*hashLabeler, error) {
	if len(cfg.Ratios) == 0 {
		return nil, fmt.Errorf("%w: hash split requires ratios", config.ErrInvalidSplitRatio)
	}

	// Ratios arrive as a map; accumulate in sorted label order so the
	// threshold layout does not depend on map iteration order.
	labels := make([]string, 0, len(cfg.Ratios))
	for label := range cfg.Ratios {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	thresholds := make([]splitThreshold, 0, len(labels))
	total := 0.0
	for _, label := range labels {
		total += cfg.Ratios[label]
		thresholds = append(thresholds, splitThreshold{upper: total, label: label})
	}

	return &hashLabeler{
		thresholds: thresholds,
		seed:       cfg.Seed,
		key:        cfg.Key,
	}, nil
}

func (l *hashLabeler) Label(sample vector.Sample) string {
	r := hashToken(l.token(sample), l.seed)
	for _, threshold := range l.thresholds {
		if r < threshold.upper {
			return threshold.label
		}
	}
	return l.thresholds[len(l.thresholds)-1].label
}

func (l *hashLabeler) token(sample vector.Sample) string {
	if fid, ok := strings.CutPrefix(l.key, "feature:"); ok {
		if value, present := sample.Features[fid]; present && value != nil {
			return fmt.Sprint(value)
		}
	}
	return sample.Key.String()
}

// hashToken maps a token deterministically onto [0, 1): sha256 over the
// seeded token, first 8 digest bytes reduced to 53 bits so the quotient is
// exactly representable as a float64.
func hashToken(token string, seed int64) float64 {
	digest := sha256.Sum256([]byte(strconv.FormatInt(seed, 10) + "|" + token))
	num := binary.BigEndian.Uint64(digest[:8])
	return float64(num%(1<<53)) / float64(uint64(1)<<53)
}

// timeLabeler assigns labels by bucket timestamp against ascending
// boundaries: n boundaries bracket n+1 labels.
type timeLabeler struct {
	boundaries []time.Time
	labels     []string
}

func newTimeLabeler(cfg *config.Split) (*timeLabeler, error) {
	if len(cfg.Labels) != len(cfg.Boundaries)+1 {
		return nil, fmt.Errorf("%w: %d labels for %d boundaries", config.ErrSplitLabelsMismatch, len(cfg.Labels), len(cfg.Boundaries))
	}
	boundaries := make([]time.Time, 0, len(cfg.Boundaries))
	for _, raw := range cfg.Boundaries {
		boundary, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", config.ErrInvalidSplitBoundary, raw)
		}
		boundaries = append(boundaries, boundary.UTC())
	}
	return &timeLabeler{boundaries: boundaries, labels: cfg.Labels}, nil
}

func (l *timeLabeler) Label(sample vector.Sample) string {
	for i, boundary := range l.boundaries {
		if sample.Key.Bucket.Before(boundary) {
			return l.labels[i]
		}
	}
	return l.labels[len(l.labels)-1]
}

// splitSamples keeps only samples the labeler assigns the kept label.
func splitSamples(seq stream.Seq[vector.Sample], labeler Labeler, keep string) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		for sample, err := range seq {
			if err != nil {
				yield(sample, err)
				return
			}
			if labeler.Label(sample) != keep {
				observability.SamplesDropped.Inc()
				continue
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}
