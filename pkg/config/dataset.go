package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vectormill/vectormill/pkg/postprocess"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/temporal"
)

// GroupBy declares the time resolution feature records are bucketed into.
type GroupBy struct {
	Resolution string `yaml:"resolution"`
}

// Validate validates the grouping configuration.
func (g *GroupBy) Validate() error {
	if g.Resolution == "" {
		return ErrResolutionRequired
	}
	if _, err := temporal.ParseCadence(g.Resolution); err != nil {
		return err
	}
	return nil
}

// StringList accepts either a single YAML scalar or a sequence of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// Scale enables standard scaling for one feature. It accepts a plain YAML
// boolean or a mapping with with_mean/with_std toggles.
type Scale struct {
	Enabled  bool
	WithMean *bool
	WithStd  *bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Scale) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var enabled bool
		if err := node.Decode(&enabled); err != nil {
			return err
		}
		s.Enabled = enabled
		return nil
	}
	var params struct {
		WithMean *bool `yaml:"with_mean"`
		WithStd  *bool `yaml:"with_std"`
	}
	if err := node.Decode(&params); err != nil {
		return err
	}
	s.Enabled = true
	s.WithMean = params.WithMean
	s.WithStd = params.WithStd
	return nil
}

// Feature declares one feature pipeline: its source stream, its id, the
// optional partitioning attributes, scaling, and the ordered transform
// clauses applied at each stage.
type Feature struct {
	Stream      string     `yaml:"stream"`
	FeatureID   string     `yaml:"id"`
	PartitionBy StringList `yaml:"partition_by"`
	Scale       *Scale     `yaml:"scale"`

	RecordFilters      []stream.Clause `yaml:"record_filters"`
	RecordTransforms   []stream.Clause `yaml:"record_transforms"`
	StreamTransforms   []stream.Clause `yaml:"stream_transforms"`
	SequenceTransforms []stream.Clause `yaml:"sequence_transforms"`
}

// Validate validates the feature and resolves every transform clause
// against its registry so unknown names are rejected at load time.
func (f *Feature) Validate() error {
	if f.Stream == "" {
		return fmt.Errorf("%w (id %q)", ErrStreamRequired, f.FeatureID)
	}
	if f.FeatureID == "" {
		return fmt.Errorf("%w (stream %q)", ErrFeatureIDRequired, f.Stream)
	}
	for _, clause := range append(append([]stream.Clause{}, f.RecordFilters...), f.RecordTransforms...) {
		if _, err := stream.NewRecordTransform(clause); err != nil {
			return fmt.Errorf("feature %q: %w", f.FeatureID, err)
		}
	}
	for _, clause := range append(append([]stream.Clause{}, f.StreamTransforms...), f.SequenceTransforms...) {
		if _, err := stream.NewTransform(clause); err != nil {
			return fmt.Errorf("feature %q: %w", f.FeatureID, err)
		}
	}
	return nil
}

// ShouldScale reports whether the feature participates in scaler fitting.
func (f *Feature) ShouldScale() bool {
	return f.Scale != nil && f.Scale.Enabled
}

// Dataset declares the features and targets assembled into vectors.
type Dataset struct {
	Version  int       `yaml:"version" default:"1"`
	GroupBy  GroupBy   `yaml:"group_by"`
	Features []Feature `yaml:"features"`
	Targets  []Feature `yaml:"targets"`

	// VectorTransforms run after merge, before the postprocess descriptor's
	// own chain.
	VectorTransforms []stream.Clause `yaml:"vector_transforms"`
}

// LoadDataset reads and validates the dataset descriptor.
func LoadDataset(path string) (*Dataset, error) {
	dataset := &Dataset{}
	if err := loadYAML(path, dataset); err != nil {
		return nil, err
	}
	if err := dataset.Validate(); err != nil {
		return nil, err
	}
	return dataset, nil
}

// Validate validates the dataset and every feature pipeline in it.
func (d *Dataset) Validate() error {
	if d.Version != 1 {
		return ErrUnsupportedVersion
	}
	if err := d.GroupBy.Validate(); err != nil {
		return err
	}
	for i := range d.Features {
		if err := d.Features[i].Validate(); err != nil {
			return err
		}
	}
	for i := range d.Targets {
		if err := d.Targets[i].Validate(); err != nil {
			return err
		}
	}
	for _, clause := range d.VectorTransforms {
		if _, err := postprocess.New(clause); err != nil {
			return err
		}
	}
	return nil
}

// RequiresScaling reports whether any feature or target declares scaling,
// which makes the scaler-statistics artifact required.
func (d *Dataset) RequiresScaling() bool {
	for i := range d.Features {
		if d.Features[i].ShouldScale() {
			return true
		}
	}
	for i := range d.Targets {
		if d.Targets[i].ShouldScale() {
			return true
		}
	}
	return false
}
