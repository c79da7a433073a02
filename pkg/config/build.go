package config

import (
	"os"
)

// PartitionedIDsTask configures the expected-id list artifact.
type PartitionedIDsTask struct {
	Output string `yaml:"output" default:"expected.txt"`
	// IncludeTargets also discovers ids from the dataset targets.
	IncludeTargets bool `yaml:"include_targets"`
}

// SchemaTask configures the vector schema artifact.
type SchemaTask struct {
	Output string `yaml:"output" default:"schema.json"`
}

// MetadataTask configures the vector metadata artifact. WindowMode selects
// whether the persisted window reflects the declared project bounds or the
// observed first/last buckets.
type MetadataTask struct {
	Output     string `yaml:"output" default:"schema.metadata.json"`
	WindowMode string `yaml:"window_mode" default:"declared"`
}

// ScalerTask configures the scaler statistics artifact.
type ScalerTask struct {
	Output string `yaml:"output" default:"scaler.json"`
}

// Build is the optional build descriptor controlling artifact outputs and
// the incremental state file.
type Build struct {
	Version   int    `yaml:"version" default:"1"`
	StateFile string `yaml:"state_file" default:"build_state.json"`

	PartitionedIDs PartitionedIDsTask `yaml:"partitioned_ids"`
	Schema         SchemaTask         `yaml:"schema"`
	Metadata       MetadataTask       `yaml:"metadata"`
	Scaler         ScalerTask         `yaml:"scaler"`
}

// LoadBuild reads the build descriptor. A missing file yields the defaults.
func LoadBuild(path string) (*Build, error) {
	build := &Build{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := applyDefaults(build); err != nil {
			return nil, err
		}
		return build, nil
	}
	if err := loadYAML(path, build); err != nil {
		return nil, err
	}
	if err := build.Validate(); err != nil {
		return nil, err
	}
	return build, nil
}

// Validate validates the build descriptor.
func (b *Build) Validate() error {
	if b.Version != 1 {
		return ErrUnsupportedVersion
	}
	switch b.Metadata.WindowMode {
	case "declared", "observed":
		return nil
	}
	return ErrInvalidWindowMode
}
