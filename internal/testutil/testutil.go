// Package testutil provides shared fixtures for pipeline and build tests:
// a minimal on-disk project (descriptors, stream/source specs and CSV data)
// and record helpers.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vectormill/vectormill/pkg/temporal"
)

// WriteFile writes one fixture file, creating parent directories.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create fixture directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
	return path
}

// Record builds a test record at an hour offset from the fixture epoch.
func Record(hour int, value any) temporal.Record {
	return temporal.Record{
		Time:  Bucket(hour),
		Value: value,
	}
}

// Bucket returns the fixture bucket timestamp at an hour offset.
func Bucket(hour int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(hour) * time.Hour)
}

// ProjectOption customizes the generated fixture project.
type ProjectOption func(*projectFixture)

type projectFixture struct {
	datasetYAML     string
	postprocessYAML string
	buildYAML       string
	globalsYAML     string
	csv             string
}

// WithDataset replaces the fixture dataset descriptor.
func WithDataset(yaml string) ProjectOption {
	return func(f *projectFixture) { f.datasetYAML = yaml }
}

// WithPostprocess adds a postprocess descriptor.
func WithPostprocess(yaml string) ProjectOption {
	return func(f *projectFixture) { f.postprocessYAML = yaml }
}

// WithBuild adds a build descriptor.
func WithBuild(yaml string) ProjectOption {
	return func(f *projectFixture) { f.buildYAML = yaml }
}

// WithGlobals sets the project globals block (window bounds).
func WithGlobals(yaml string) ProjectOption {
	return func(f *projectFixture) { f.globalsYAML = yaml }
}

// WithCSV replaces the fixture weather data.
func WithCSV(csv string) ProjectOption {
	return func(f *projectFixture) { f.csv = csv }
}

// DefaultCSV is the fixture weather data: two stations reporting hourly
// wind speed, with one missing bucket for station B.
const DefaultCSV = `time,value,station
2024-03-01T00:00:00Z,4.0,A
2024-03-01T00:00:00Z,8.0,B
2024-03-01T01:00:00Z,5.0,A
2024-03-01T02:00:00Z,6.0,A
2024-03-01T02:00:00Z,10.0,B
`

const defaultDataset = `group_by:
  resolution: 1h
features:
  - stream: weather
    id: wind_speed
    partition_by: station
`

// Project writes a complete runnable project under a temp directory and
// returns the project.yaml path.
func Project(t *testing.T, opts ...ProjectOption) string {
	t.Helper()

	fixture := &projectFixture{
		datasetYAML: defaultDataset,
		csv:         DefaultCSV,
	}
	for _, opt := range opts {
		opt(fixture)
	}

	dir := t.TempDir()

	projectYAML := "name: fixture\npaths:\n  artifacts: artifacts\n"
	if fixture.globalsYAML != "" {
		projectYAML += "globals:\n" + fixture.globalsYAML
	}
	projectPath := WriteFile(t, dir, "project.yaml", projectYAML)

	WriteFile(t, dir, "dataset.yaml", fixture.datasetYAML)
	WriteFile(t, dir, "sources/weather.yaml", "id: weather_csv\npath: data/weather.csv\nformat: csv\n")
	WriteFile(t, dir, "streams/weather.yaml", `id: weather
source: weather_csv
mapper:
  time_field: time
  value_field: value
  attr_fields: [station]
`)
	WriteFile(t, dir, "data/weather.csv", fixture.csv)

	if fixture.postprocessYAML != "" {
		WriteFile(t, dir, "postprocess.yaml", fixture.postprocessYAML)
	}
	if fixture.buildYAML != "" {
		WriteFile(t, dir, "build.yaml", fixture.buildYAML)
	}

	return projectPath
}
