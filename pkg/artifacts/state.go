package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// BuildStateVersion is bumped when the persisted layout changes.
const BuildStateVersion = 1

// ArtifactState locates one artifact inside the persisted build state.
type ArtifactState struct {
	RelativePath string         `json:"relative_path"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// BuildState is the persisted cache document gating incremental rebuilds.
// It is rebuilt entirely, never merged, when the config hash differs.
type BuildState struct {
	Version    int                      `json:"version"`
	ConfigHash string                   `json:"config_hash"`
	Artifacts  map[string]ArtifactState `json:"artifacts"`
}

// NewBuildState creates an empty state for the given config hash.
func NewBuildState(configHash string) *BuildState {
	return &BuildState{
		Version:    BuildStateVersion,
		ConfigHash: configHash,
		Artifacts:  make(map[string]ArtifactState),
	}
}

// Register records a materialized artifact in the state.
func (s *BuildState) Register(key, relativePath string, meta map[string]any) {
	s.Artifacts[key] = ArtifactState{RelativePath: relativePath, Meta: meta}
}

// LoadBuildState reads a persisted build state. A missing file returns
// (nil, nil): there is simply no cached build yet.
func LoadBuildState(path string) (*BuildState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read build state: %w", err)
	}
	var state BuildState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode build state: %w", err)
	}
	return &state, nil
}

// SaveBuildState persists the state atomically: it writes a temporary file
// in the target directory and renames it over the destination.
func SaveBuildState(path string, state *BuildState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode build state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".build-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write build state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace build state: %w", err)
	}
	return nil
}

// Restore registers every artifact from a persisted state into the manager.
func (m *Manager) Restore(state *BuildState) {
	for key, artifact := range state.Artifacts {
		m.Register(key, artifact.RelativePath, artifact.Meta)
	}
}
