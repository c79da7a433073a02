package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidSplitMode is returned when a split declares an unknown mode
	ErrInvalidSplitMode = errors.New("split mode must be \"hash\" or \"time\"")
	// ErrInvalidSplitRatio is returned when a hash-split ratio is out of range
	ErrInvalidSplitRatio = errors.New("split ratios must be in (0, 1] and sum to at most 1")
	// ErrSplitLabelsMismatch is returned when a time split's labels do not
	// bracket its boundaries
	ErrSplitLabelsMismatch = errors.New("split labels length must equal boundaries length plus one")
	// ErrInvalidSplitBoundary is returned when a time-split boundary does not parse
	ErrInvalidSplitBoundary = errors.New("split boundary must be an RFC 3339 timestamp")
)

// Split declares a deterministic train/val/test split over assembled
// samples, applied at the end of the vector pipeline. Hash mode buckets each
// sample by a stable content hash against label ratios; time mode assigns
// labels by bucket timestamp against ascending boundaries.
type Split struct {
	Mode string `yaml:"mode" default:"hash"`
	// Keep selects the label that survives filtering. Empty means label and
	// pass everything through, so a dataset can be built unsplit.
	Keep string `yaml:"keep"`

	// Hash mode.
	Ratios map[string]float64 `yaml:"ratios"`
	Seed   int64              `yaml:"seed" default:"42"`
	Key    string             `yaml:"key" default:"group"`

	// Time mode.
	Boundaries []string `yaml:"boundaries"`
	Labels     []string `yaml:"labels"`
}

// UnmarshalYAML implements yaml.Unmarshaler, applying struct-tag defaults
// before decoding so an omitted seed or key keeps its documented value.
func (s *Split) UnmarshalYAML(node *yaml.Node) error {
	if err := defaults.Set(s); err != nil {
		return err
	}
	type plain Split
	return node.Decode((*plain)(s))
}

// Validate validates the split declaration for its mode.
func (s *Split) Validate() error {
	switch s.Mode {
	case "hash":
		return s.validateHash()
	case "time":
		return s.validateTime()
	}
	return fmt.Errorf("%w, got %q", ErrInvalidSplitMode, s.Mode)
}

func (s *Split) validateHash() error {
	if s.Key != "group" && !strings.HasPrefix(s.Key, "feature:") {
		return fmt.Errorf("split key must be \"group\" or \"feature:<id>\", got %q", s.Key)
	}
	total := 0.0
	for label, ratio := range s.Ratios {
		if math.IsNaN(ratio) || ratio <= 0 || ratio > 1 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidSplitRatio, label, ratio)
		}
		total += ratio
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("%w: sum is %v", ErrInvalidSplitRatio, total)
	}
	if s.Keep != "" && len(s.Ratios) > 0 {
		if _, ok := s.Ratios[s.Keep]; !ok {
			return fmt.Errorf("split keeps unknown label %q", s.Keep)
		}
	}
	return nil
}

func (s *Split) validateTime() error {
	if len(s.Labels) != len(s.Boundaries)+1 {
		return fmt.Errorf("%w: %d labels for %d boundaries", ErrSplitLabelsMismatch, len(s.Labels), len(s.Boundaries))
	}
	for _, boundary := range s.Boundaries {
		if _, err := time.Parse(time.RFC3339, boundary); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidSplitBoundary, boundary)
		}
	}
	return nil
}
