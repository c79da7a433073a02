package pipeline

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectormill/vectormill/internal/testutil"
	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/vector"
)

func newRuntime(t *testing.T, opts ...testutil.ProjectOption) *Runtime {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	runtime, err := NewRuntime(log, testutil.Project(t, opts...))
	require.NoError(t, err)
	return runtime
}

func TestNewRuntimeLoadsProject(t *testing.T) {
	runtime := newRuntime(t)
	assert.Equal(t, "fixture", runtime.Project.Name)
	assert.Equal(t, "1h0m0s", runtime.Resolution.String())
	assert.Contains(t, runtime.Streams, "weather")
}

func TestFeatureStreamPartitionsAndSorts(t *testing.T) {
	runtime := newRuntime(t)
	records, err := runtime.FeatureStream(context.Background(), runtime.Dataset.Features[0], Options{})
	require.NoError(t, err)

	out, err := stream.Collect(records)
	require.NoError(t, err)
	require.Len(t, out, 5)

	// Key-ordered, ties broken by feature id.
	assert.Equal(t, "wind_speed__@station:A", out[0].ID)
	assert.Equal(t, "wind_speed__@station:B", out[1].ID)
	assert.Equal(t, testutil.Bucket(0), out[0].Key.Bucket)
	assert.Equal(t, testutil.Bucket(1), out[2].Key.Bucket)

	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1].Key.Compare(out[i].Key), 0, "merge precondition: key-sorted")
	}
}

func TestSamplesMergesBuckets(t *testing.T) {
	runtime := newRuntime(t)
	pctx := NewContext(runtime)

	samples, err := runtime.Samples(context.Background(), pctx, Options{})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, vector.Vector{
		"wind_speed__@station:A": 4.0,
		"wind_speed__@station:B": 8.0,
	}, out[0].Features)
	assert.Equal(t, vector.Vector{"wind_speed__@station:A": 5.0}, out[1].Features)
}

func TestSamplesWithTargets(t *testing.T) {
	runtime := newRuntime(t, testutil.WithDataset(`group_by:
  resolution: 1h
features:
  - stream: weather
    id: wind_speed
    partition_by: station
targets:
  - stream: weather
    id: wind_target
    partition_by: station
`))
	pctx := NewContext(runtime)

	samples, err := runtime.Samples(context.Background(), pctx, Options{IncludeTargets: true})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, 8.0, out[0].Targets["wind_target__@station:B"])
	assert.Nil(t, out[1].Targets["wind_target__@station:B"], "no target observation in that bucket")
}

func TestSamplesRectangularWalksWindow(t *testing.T) {
	runtime := newRuntime(t, testutil.WithGlobals(
		"  start_time: 2024-03-01T00:00:00Z\n  end_time: 2024-03-01T04:00:00Z\n"))
	pctx := NewContext(runtime)

	samples, err := runtime.Samples(context.Background(), pctx, Options{Rectangular: true})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	require.Len(t, out, 5, "every bucket of the inclusive window appears")
	assert.Empty(t, out[3].Features, "gap buckets carry empty vectors")
	assert.Equal(t, testutil.Bucket(4), out[4].Key.Bucket)
}

func TestSamplesAppliesPostprocessChain(t *testing.T) {
	runtime := newRuntime(t, testutil.WithPostprocess("transforms:\n  - fill_constant: {value: 0.0}\n"))

	// Without a baseline artifact the fill has nothing to enumerate, so
	// materialize an expected-id list first.
	root := runtime.Project.ArtifactsRoot()
	require.NoError(t, artifacts.WritePartitionedIDs(root+"/expected.txt", []string{
		"wind_speed__@station:A",
		"wind_speed__@station:B",
	}))
	runtime.Artifacts.Register(artifacts.KeyPartitionedIDs, "expected.txt", nil)

	pctx := NewContext(runtime)
	samples, err := runtime.Samples(context.Background(), pctx, Options{})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 0.0, out[1].Features["wind_speed__@station:B"], "missing id filled")
}

func TestSamplesSkipPostprocess(t *testing.T) {
	runtime := newRuntime(t, testutil.WithPostprocess("transforms:\n  - drop: {threshold: 1.0}\n"))
	pctx := NewContext(runtime)

	samples, err := runtime.Samples(context.Background(), pctx, Options{SkipPostprocess: true})
	require.NoError(t, err)
	out, err := stream.Collect(samples)
	require.NoError(t, err)
	assert.Len(t, out, 3, "raw merged stream bypasses the drop")
}

func TestContextExpectedIDsPrefersPartitionedArtifact(t *testing.T) {
	runtime := newRuntime(t)
	root := runtime.Project.ArtifactsRoot()

	require.NoError(t, artifacts.WritePartitionedIDs(root+"/expected.txt", []string{"a", "b"}))
	runtime.Artifacts.Register(artifacts.KeyPartitionedIDs, "expected.txt", nil)

	pctx := NewContext(runtime)
	ids, err := pctx.ExpectedIDs("features")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestContextFallsBackToSchema(t *testing.T) {
	runtime := newRuntime(t)
	root := runtime.Project.ArtifactsRoot()

	doc := &artifacts.Document{
		Version:  1,
		Features: []artifacts.Entry{{ID: "x", Kind: "scalar"}},
		Targets:  []artifacts.Entry{{ID: "y", Kind: "scalar"}},
	}
	require.NoError(t, artifacts.SaveDocument(root+"/schema.json", doc))
	runtime.Artifacts.Register(artifacts.KeyVectorSchema, "schema.json", nil)

	pctx := NewContext(runtime)
	ids, err := pctx.ExpectedIDs("features")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids)

	targetIDs, err := pctx.ExpectedIDs("targets")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, targetIDs)
}

func TestContextWithoutArtifactsIsEmpty(t *testing.T) {
	pctx := NewContext(newRuntime(t))

	ids, err := pctx.ExpectedIDs("features")
	require.NoError(t, err)
	assert.Empty(t, ids)

	meta, err := pctx.Metadata()
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestContextScopeClearsCache(t *testing.T) {
	runtime := newRuntime(t)
	pctx := NewContext(runtime)

	err := pctx.Scope(func(c *Context) error {
		_, err := c.ExpectedIDs("features")
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, pctx.expected, "cache cleared on scope exit")
}

func TestOpenStreamUnknownAlias(t *testing.T) {
	runtime := newRuntime(t)
	_, err := runtime.OpenStream(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownStream)
}

func TestWindowSize(t *testing.T) {
	runtime := newRuntime(t, testutil.WithGlobals(
		"  start_time: 2024-03-01T00:00:00Z\n  end_time: 2024-03-01T04:00:00Z\n"))
	size, ok := runtime.WindowSize()
	require.True(t, ok)
	assert.Equal(t, 5, size)

	_, ok = newRuntime(t).WindowSize()
	assert.False(t, ok)
}
