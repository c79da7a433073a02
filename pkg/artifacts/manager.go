// Package artifacts manages materialized build outputs: their locations,
// metadata, persisted documents and the cached build state.
package artifacts

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known artifact keys.
const (
	KeyPartitionedIDs   = "partitioned_ids"
	KeyVectorSchema     = "vector_schema"
	KeyVectorMetadata   = "vector_schema_metadata"
	KeyScalerStatistics = "scaler_statistics"
)

var (
	// ErrNotRegistered is returned when an artifact key has not been materialized
	ErrNotRegistered = errors.New("artifact is not registered")
	// ErrArtifactMissing is returned when a registered artifact file is absent on disk
	ErrArtifactMissing = errors.New("artifact file not found")
)

// Record locates one materialized artifact relative to the artifacts root.
type Record struct {
	Key          string
	RelativePath string
	Meta         map[string]any
}

// Manager resolves artifact keys to files under a single artifacts root.
type Manager struct {
	root    string
	records map[string]Record
}

// NewManager creates a manager rooted at the artifacts directory.
func NewManager(root string) *Manager {
	return &Manager{root: root, records: make(map[string]Record)}
}

// Root returns the artifacts root directory.
func (m *Manager) Root() string {
	return m.root
}

// Register records the location and metadata of a materialized artifact.
func (m *Manager) Register(key, relativePath string, meta map[string]any) {
	m.records[key] = Record{Key: key, RelativePath: relativePath, Meta: meta}
}

// Has reports whether an artifact key is registered.
func (m *Manager) Has(key string) bool {
	_, ok := m.records[key]
	return ok
}

// Metadata returns the metadata recorded for an artifact.
func (m *Manager) Metadata(key string) (map[string]any, error) {
	record, ok := m.records[key]
	if !ok {
		return nil, notRegistered(key)
	}
	return record.Meta, nil
}

// ResolvePath returns the absolute path of a registered artifact.
func (m *Manager) ResolvePath(key string) (string, error) {
	record, ok := m.records[key]
	if !ok {
		return "", notRegistered(key)
	}
	if filepath.IsAbs(record.RelativePath) {
		return record.RelativePath, nil
	}
	return filepath.Join(m.root, record.RelativePath), nil
}

// Open resolves and opens a registered artifact, mapping a missing file to an
// actionable error naming the producing command.
func (m *Manager) Open(key string) (*os.File, error) {
	path, err := m.ResolvePath(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s; run \"vectormill build\" to regenerate it", ErrArtifactMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %q: %w", key, err)
	}
	return file, nil
}

func notRegistered(key string) error {
	return fmt.Errorf("%w: %q; run \"vectormill build\" first", ErrNotRegistered, key)
}

// LoadPartitionedIDs reads the plain-text partitioned-id list, one id per
// line, skipping blanks.
func (m *Manager) LoadPartitionedIDs() ([]string, error) {
	file, err := m.Open(KeyPartitionedIDs)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			ids = append(ids, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read partitioned ids: %w", err)
	}
	return ids, nil
}

// WritePartitionedIDs writes the id list to a file under the artifacts root.
func WritePartitionedIDs(path string, ids []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
