package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
)

// CadenceSpec declares the expected element count for a list-valued feature.
type CadenceSpec struct {
	Strategy string `json:"strategy"`
	Target   int    `json:"target"`
}

// Entry describes one feature id as observed while assembling vectors.
// Schema documents carry the structural fields; metadata documents
// additionally carry observation counters and first/last timestamps.
type Entry struct {
	ID           string       `json:"id"`
	BaseID       string       `json:"base_id"`
	Kind         string       `json:"kind"` // scalar | list
	PresentCount int          `json:"present_count"`
	NullCount    int          `json:"null_count"`
	ValueTypes   []string     `json:"value_types,omitempty"`
	ElementTypes []string     `json:"element_types,omitempty"`
	Cadence      *CadenceSpec `json:"cadence,omitempty"`

	ObservedElements int        `json:"observed_elements,omitempty"`
	FirstSeen        *time.Time `json:"first_seen,omitempty"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
}

// Window is the declared or observed time window of a document.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Mode  string    `json:"mode,omitempty"`
	// Size is the number of cadence buckets the window spans; consumers
	// prefer it over raw vector counts when judging global coverage.
	Size int `json:"size,omitempty"`
}

// Counts records how many vectors contributed to a document.
type Counts struct {
	FeatureVectors int `json:"feature_vectors"`
	TargetVectors  int `json:"target_vectors"`
}

// Document is the persisted vector schema or metadata artifact.
type Document struct {
	Version     int       `json:"schema_version"`
	GeneratedAt time.Time `json:"generated_at"`
	Features    []Entry   `json:"features"`
	Targets     []Entry   `json:"targets"`
	Counts      Counts    `json:"counts"`
	Window      *Window   `json:"window,omitempty"`
}

// Payload returns the feature or target entries by name.
func (d *Document) Payload(payload string) []Entry {
	if payload == "targets" {
		return d.Targets
	}
	return d.Features
}

// IDs returns the entry ids of one payload, in declared order.
func (d *Document) IDs(payload string) []string {
	entries := d.Payload(payload)
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	return ids
}

// SaveDocument writes a schema/metadata document as indented JSON.
func SaveDocument(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadDocument reads a schema/metadata document registered under key.
func (m *Manager) LoadDocument(key string) (*Document, error) {
	file, err := m.Open(key)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var doc Document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %q: %w", key, err)
	}
	return &doc, nil
}
