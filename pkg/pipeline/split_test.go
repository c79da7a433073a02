package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectormill/vectormill/internal/testutil"
	"github.com/vectormill/vectormill/pkg/config"
	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/vector"
)

func hashSplit() *config.Split {
	return &config.Split{
		Mode:   "hash",
		Ratios: map[string]float64{"train": 0.5, "val": 0.25, "test": 0.25},
		Seed:   42,
		Key:    "group",
	}
}

func splitSample(hour int) vector.Sample {
	return vector.Sample{
		Key:      feature.GroupKey{Bucket: testutil.Bucket(hour)},
		Features: vector.Vector{"x": float64(hour)},
	}
}

func TestHashLabelerIsDeterministic(t *testing.T) {
	first, err := NewLabeler(hashSplit())
	require.NoError(t, err)
	second, err := NewLabeler(hashSplit())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for hour := 0; hour < 50; hour++ {
		sample := splitSample(hour)
		label := first.Label(sample)
		assert.Equal(t, label, second.Label(sample), "hour %d", hour)
		assert.Contains(t, []string{"train", "val", "test"}, label)
		seen[label] = true
	}
	assert.Greater(t, len(seen), 1, "50 distinct keys spread over more than one label")
}

func TestHashLabelerSeedMovesAssignments(t *testing.T) {
	base, err := NewLabeler(hashSplit())
	require.NoError(t, err)

	reseeded := hashSplit()
	reseeded.Seed = 7
	other, err := NewLabeler(reseeded)
	require.NoError(t, err)

	moved := false
	for hour := 0; hour < 50 && !moved; hour++ {
		moved = base.Label(splitSample(hour)) != other.Label(splitSample(hour))
	}
	assert.True(t, moved, "changing the seed reassigns at least one of 50 keys")
}

func TestSplitPartitionsEverySample(t *testing.T) {
	labeler, err := NewLabeler(hashSplit())
	require.NoError(t, err)

	samples := make([]vector.Sample, 0, 20)
	for hour := 0; hour < 20; hour++ {
		samples = append(samples, splitSample(hour))
	}

	total := 0
	for _, keep := range []string{"train", "val", "test"} {
		kept, err := stream.Collect(splitSamples(stream.FromSlice(samples), labeler, keep))
		require.NoError(t, err)
		total += len(kept)
	}
	assert.Equal(t, len(samples), total, "labels partition the stream")
}

func TestHashLabelerFeatureKeyFallsBackToGroup(t *testing.T) {
	byFeature := hashSplit()
	byFeature.Key = "feature:absent"
	featureLabeler, err := NewLabeler(byFeature)
	require.NoError(t, err)
	groupLabeler, err := NewLabeler(hashSplit())
	require.NoError(t, err)

	sample := splitSample(3)
	assert.Equal(t, groupLabeler.Label(sample), featureLabeler.Label(sample))
}

func TestHashLabelerGroupsByFeatureValue(t *testing.T) {
	cfg := hashSplit()
	cfg.Key = "feature:station"
	labeler, err := NewLabeler(cfg)
	require.NoError(t, err)

	a := splitSample(0)
	a.Features["station"] = "A"
	b := splitSample(9)
	b.Features["station"] = "A"
	assert.Equal(t, labeler.Label(a), labeler.Label(b), "same feature value, same label regardless of key")
}

func TestHashLabelerRequiresRatios(t *testing.T) {
	_, err := NewLabeler(&config.Split{Mode: "hash"})
	require.ErrorIs(t, err, config.ErrInvalidSplitRatio)
}

func TestTimeLabelerBrackets(t *testing.T) {
	labeler, err := NewLabeler(&config.Split{
		Mode:       "time",
		Boundaries: []string{"2024-03-01T01:00:00Z"},
		Labels:     []string{"train", "test"},
	})
	require.NoError(t, err)

	assert.Equal(t, "train", labeler.Label(splitSample(0)))
	assert.Equal(t, "test", labeler.Label(splitSample(1)), "boundary bucket falls on the right side")
	assert.Equal(t, "test", labeler.Label(splitSample(2)))
}

func TestTimeLabelerRejectsLabelMismatch(t *testing.T) {
	_, err := NewLabeler(&config.Split{
		Mode:       "time",
		Boundaries: []string{"2024-03-01T01:00:00Z"},
		Labels:     []string{"only"},
	})
	require.ErrorIs(t, err, config.ErrSplitLabelsMismatch)
}

const timeSplitGlobals = `  split:
    mode: time
    keep: train
    boundaries: ["2024-03-01T01:00:00Z"]
    labels: [train, test]
`

func TestSamplesAppliesDeclaredSplit(t *testing.T) {
	runtime := newRuntime(t, testutil.WithGlobals(timeSplitGlobals))

	samples, err := runtime.Samples(context.Background(), NewContext(runtime), Options{})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	require.Len(t, out, 1, "only the pre-boundary bucket survives keep: train")
	assert.Equal(t, testutil.Bucket(0), out[0].Key.Bucket)
}

func TestSamplesSplitKeepOverride(t *testing.T) {
	runtime := newRuntime(t, testutil.WithGlobals(timeSplitGlobals))

	samples, err := runtime.Samples(context.Background(), NewContext(runtime), Options{SplitKeep: "test"})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, testutil.Bucket(1), out[0].Key.Bucket)
}

func TestSamplesSplitWithoutKeepPassesThrough(t *testing.T) {
	runtime := newRuntime(t, testutil.WithGlobals(`  split:
    mode: time
    boundaries: ["2024-03-01T01:00:00Z"]
    labels: [train, test]
`))

	samples, err := runtime.Samples(context.Background(), NewContext(runtime), Options{})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	assert.Len(t, out, 3, "an unkept split only describes the division")
}
