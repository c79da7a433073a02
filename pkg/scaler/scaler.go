// Package scaler implements per-feature standard scaling with streaming
// statistics, persisted so fit and transform can run in separate build steps.
package scaler

import (
	"errors"
	"fmt"
	"math"
	"os"

	json "github.com/goccy/go-json"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/temporal"
	"github.com/vectormill/vectormill/pkg/vector"
)

var (
	// ErrNotFitted is returned when transform runs before statistics exist
	ErrNotFitted = errors.New("scaler must be fitted before transform")
	// ErrMissingStatistics is returned when an encountered feature id has no
	// fitted statistics. This is a data/config mismatch, never recovered locally.
	ErrMissingStatistics = errors.New("missing scaler statistics for feature")
	// ErrNonNumericValue is returned when a scaled record value is not numeric
	ErrNonNumericValue = errors.New("scaled record value must be numeric")
)

// Stats holds the fitted statistics for one feature id.
type Stats struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int64   `json:"count"`
}

// Document is the persisted scaler-statistics artifact.
type Document struct {
	Version  int              `json:"version"`
	Features map[string]Stats `json:"features"`
}

// StandardScaler fits and applies per-feature-id scaling statistics. Fit uses
// Welford's online algorithm so variance stays numerically stable over long
// streams; std is floored to Epsilon.
type StandardScaler struct {
	WithMean bool
	WithStd  bool
	Epsilon  float64

	statistics map[string]Stats
}

// New creates a scaler with centering and scaling enabled.
func New() *StandardScaler {
	return &StandardScaler{WithMean: true, WithStd: true, Epsilon: 1e-12}
}

// Statistics exposes the fitted per-feature statistics.
func (s *StandardScaler) Statistics() map[string]Stats {
	return s.statistics
}

// SetStatistics installs previously fitted statistics.
func (s *StandardScaler) SetStatistics(stats map[string]Stats) {
	s.statistics = stats
}

type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) update(value float64) {
	w.count++
	delta := value - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (value - w.mean)
}

func (w *welford) finalize(withMean, withStd bool, epsilon float64) Stats {
	mean := 0.0
	if withMean {
		mean = w.mean
	}
	std := 1.0
	if withStd && w.count > 0 {
		std = math.Sqrt(w.m2 / float64(w.count))
		std = math.Max(std, epsilon)
	}
	return Stats{Mean: mean, Std: std, Count: w.count}
}

// Fit computes streaming mean/variance per feature id over every numeric
// scalar encountered in the sample stream; list-valued features are scanned
// element-wise. It returns the total number of values observed.
func (s *StandardScaler) Fit(samples stream.Seq[vector.Sample]) (int64, error) {
	trackers := make(map[string]*welford)
	var total int64

	observe := func(v vector.Vector) {
		for fid, raw := range v {
			for _, value := range numericValues(raw) {
				tracker := trackers[fid]
				if tracker == nil {
					tracker = &welford{}
					trackers[fid] = tracker
				}
				tracker.update(value)
				total++
			}
		}
	}

	for sample, err := range samples {
		if err != nil {
			return total, err
		}
		observe(sample.Features)
		if sample.Targets != nil {
			observe(sample.Targets)
		}
	}

	s.statistics = make(map[string]Stats, len(trackers))
	for fid, tracker := range trackers {
		if tracker.count == 0 {
			continue
		}
		s.statistics[fid] = tracker.finalize(s.WithMean, s.WithStd, s.Epsilon)
	}
	return total, nil
}

// Transform scales a feature stream grouped by feature id. Encountering an
// id without fitted statistics is fatal.
func (s *StandardScaler) Transform(seq stream.Seq[feature.Record]) stream.Seq[feature.Record] {
	return func(yield func(feature.Record, error) bool) {
		if len(s.statistics) == 0 {
			yield(feature.Record{}, ErrNotFitted)
			return
		}
		for fr, err := range seq {
			if err != nil {
				yield(feature.Record{}, err)
				return
			}
			stats, ok := s.statistics[fr.ID]
			if !ok {
				yield(feature.Record{}, fmt.Errorf("%w: %q", ErrMissingStatistics, fr.ID))
				return
			}
			if fr.Point.Missing() {
				if !yield(fr, nil) {
					return
				}
				continue
			}
			raw, numeric := temporal.AsFloat(fr.Point.Value)
			if !numeric {
				yield(feature.Record{}, fmt.Errorf("%w: feature %s got %v", ErrNonNumericValue, fr.ID, fr.Point.Value))
				return
			}
			normalized := raw
			if s.WithMean {
				normalized -= stats.Mean
			}
			if s.WithStd {
				normalized /= stats.Std
			}
			if !yield(fr.WithPoint(fr.Point.WithValue(normalized)), nil) {
				return
			}
		}
	}
}

func numericValues(raw any) []float64 {
	switch v := raw.(type) {
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			out = append(out, numericValues(item)...)
		}
		return out
	default:
		if f, ok := temporal.AsFloat(raw); ok {
			return []float64{f}
		}
		return nil
	}
}

// Save persists fitted statistics as a JSON document.
func (s *StandardScaler) Save(path string) error {
	if len(s.statistics) == 0 {
		return ErrNotFitted
	}
	doc := Document{Version: 1, Features: s.statistics}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scaler statistics: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a persisted statistics document into a fresh scaler.
func Load(path string) (*StandardScaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler statistics: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode scaler statistics: %w", err)
	}
	s := New()
	s.statistics = doc.Features
	return s, nil
}
