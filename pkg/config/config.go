// Package config defines the YAML descriptors a project is declared with:
// the project file, the dataset and its per-feature pipelines, stream and
// source specs, the postprocess chain and the build tasks. Transform names
// are resolved against their registries at load time so configuration
// typos fail fast instead of mid-pipeline.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupportedVersion is returned when a descriptor declares an unknown version
	ErrUnsupportedVersion = errors.New("unsupported config version")
	// ErrArtifactsPathRequired is returned when project.paths.artifacts is empty
	ErrArtifactsPathRequired = errors.New("project paths.artifacts is required")
	// ErrStreamRequired is returned when a feature names no stream
	ErrStreamRequired = errors.New("feature stream is required")
	// ErrFeatureIDRequired is returned when a feature has no id
	ErrFeatureIDRequired = errors.New("feature id is required")
	// ErrResolutionRequired is returned when group_by declares no time resolution
	ErrResolutionRequired = errors.New("group_by resolution is required")
	// ErrInvalidWindowMode is returned when metadata declares an unknown window mode
	ErrInvalidWindowMode = errors.New("metadata window_mode must be \"declared\" or \"observed\"")
)

// applyDefaults fills a descriptor with its declared struct defaults.
func applyDefaults(out any) error {
	if err := defaults.Set(out); err != nil {
		return fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return nil
}

// loadYAML reads one YAML file into out, applying struct defaults first so
// omitted keys keep their declared values.
func loadYAML(path string, out any) error {
	if err := applyDefaults(out); err != nil {
		return err
	}

	data, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}
