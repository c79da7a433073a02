package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSplitDefaults(t *testing.T) {
	split := &Split{}
	require.NoError(t, yaml.Unmarshal([]byte("ratios:\n  train: 0.8\n  test: 0.2\n"), split))
	require.NoError(t, split.Validate())

	assert.Equal(t, "hash", split.Mode)
	assert.Equal(t, int64(42), split.Seed)
	assert.Equal(t, "group", split.Key)
	assert.Empty(t, split.Keep)
}

func TestSplitValidation(t *testing.T) {
	tests := []struct {
		name    string
		split   Split
		wantErr error
	}{
		{
			name:    "unknown mode",
			split:   Split{Mode: "random"},
			wantErr: ErrInvalidSplitMode,
		},
		{
			name:    "ratio above one",
			split:   Split{Mode: "hash", Key: "group", Ratios: map[string]float64{"train": 1.5}},
			wantErr: ErrInvalidSplitRatio,
		},
		{
			name:    "ratio not positive",
			split:   Split{Mode: "hash", Key: "group", Ratios: map[string]float64{"train": 0}},
			wantErr: ErrInvalidSplitRatio,
		},
		{
			name:    "ratios exceed one",
			split:   Split{Mode: "hash", Key: "group", Ratios: map[string]float64{"train": 0.8, "test": 0.4}},
			wantErr: ErrInvalidSplitRatio,
		},
		{
			name:    "labels do not bracket boundaries",
			split:   Split{Mode: "time", Boundaries: []string{"2024-03-01T00:00:00Z"}, Labels: []string{"only"}},
			wantErr: ErrSplitLabelsMismatch,
		},
		{
			name:    "boundary does not parse",
			split:   Split{Mode: "time", Boundaries: []string{"yesterday"}, Labels: []string{"train", "test"}},
			wantErr: ErrInvalidSplitBoundary,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.split.Validate(), tt.wantErr)
		})
	}
}

func TestSplitRejectsUnknownKeepLabel(t *testing.T) {
	split := Split{
		Mode:   "hash",
		Key:    "group",
		Keep:   "holdout",
		Ratios: map[string]float64{"train": 0.8, "test": 0.2},
	}
	require.Error(t, split.Validate())
}

func TestSplitRejectsBadKey(t *testing.T) {
	split := Split{
		Mode:   "hash",
		Key:    "station",
		Ratios: map[string]float64{"train": 1.0},
	}
	require.Error(t, split.Validate())
}

func TestLoadProjectWithSplit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "project.yaml", `
name: weather
paths:
  artifacts: out
globals:
  split:
    ratios:
      train: 0.8
      val: 0.1
      test: 0.1
    keep: train
`)

	project, err := LoadProject(path)
	require.NoError(t, err)
	require.NotNil(t, project.Globals.Split)
	assert.Equal(t, "hash", project.Globals.Split.Mode, "mode defaults through the project loader")
	assert.Equal(t, "train", project.Globals.Split.Keep)
}

func TestLoadProjectRejectsInvalidSplit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "project.yaml", `
paths:
  artifacts: out
globals:
  split:
    mode: time
    boundaries: [not-a-time]
    labels: [train, test]
`)
	_, err := LoadProject(path)
	require.ErrorIs(t, err, ErrInvalidSplitBoundary)
}
