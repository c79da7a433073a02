package postprocess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/vector"
)

type stubContext struct {
	ids      map[string][]string
	schema   map[string][]artifacts.Entry
	metadata *artifacts.Document
}

func (c *stubContext) ExpectedIDs(payload string) ([]string, error) {
	return c.ids[payload], nil
}

func (c *stubContext) Schema(payload string) ([]artifacts.Entry, error) {
	return c.schema[payload], nil
}

func (c *stubContext) Metadata() (*artifacts.Document, error) {
	return c.metadata, nil
}

func sampleAt(hour int, features vector.Vector) vector.Sample {
	bucket := time.Date(2024, 3, 1, hour, 0, 0, 0, time.UTC)
	return vector.Sample{Key: feature.GroupKey{Bucket: bucket}, Features: features}
}

func mustTransform(t *testing.T, clause stream.Clause, ctx Context) Transform {
	t.Helper()
	transform, err := New(clause)
	require.NoError(t, err)
	if ctx != nil {
		BindAll([]Transform{transform}, ctx)
	}
	return transform
}

func TestNewUnknownTransform(t *testing.T) {
	_, err := New(stream.Clause{"nope": nil})
	require.ErrorIs(t, err, ErrUnknownTransform)
}

func TestDropValidation(t *testing.T) {
	_, err := New(stream.Clause{"drop": map[string]any{}})
	require.ErrorIs(t, err, stream.ErrInvalidParams)

	_, err = New(stream.Clause{"drop": map[string]any{"threshold": 0.5, "axis": "diagonal"}})
	require.ErrorIs(t, err, stream.ErrInvalidParams)

	_, err = New(stream.Clause{"drop": map[string]any{"threshold": 1.5}})
	require.ErrorIs(t, err, stream.ErrInvalidParams)

	_, err = New(stream.Clause{"drop": map[string]any{"threshold": 0.5, "payload": "labels"}})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDropHorizontalThresholds(t *testing.T) {
	ctx := &stubContext{ids: map[string][]string{"features": {"a", "b"}}}
	samples := []vector.Sample{
		sampleAt(0, vector.Vector{"a": 1.0, "b": 2.0}),
		sampleAt(1, vector.Vector{"a": 1.0, "b": nil}),
		sampleAt(2, vector.Vector{}),
	}

	tests := []struct {
		name      string
		threshold float64
		survivors int
	}{
		{"strict keeps only full coverage", 1.0, 1},
		{"zero keeps everything", 0.0, 3},
		{"half keeps partially covered", 0.5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transform := mustTransform(t, stream.Clause{"drop": map[string]any{"threshold": tt.threshold}}, ctx)
			out, err := stream.Collect(transform.Apply(stream.FromSlice(samples)))
			require.NoError(t, err)
			assert.Len(t, out, tt.survivors)
		})
	}
}

func TestDropHorizontalScoping(t *testing.T) {
	ctx := &stubContext{ids: map[string][]string{"features": {"a", "b"}}}
	samples := []vector.Sample{
		sampleAt(0, vector.Vector{"a": 1.0}),
	}

	scoped := mustTransform(t, stream.Clause{"drop": map[string]any{"threshold": 1.0, "only": []string{"a"}}}, ctx)
	out, err := stream.Collect(scoped.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	assert.Len(t, out, 1, "b is out of scope, so a alone satisfies full coverage")

	excluded := mustTransform(t, stream.Clause{"drop": map[string]any{"threshold": 1.0, "exclude": []string{"b"}}}, ctx)
	out, err = stream.Collect(excluded.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestDropHorizontalListCoverage(t *testing.T) {
	ctx := &stubContext{ids: map[string][]string{"features": {"seq"}}}
	samples := []vector.Sample{
		sampleAt(0, vector.Vector{"seq": []any{1.0, 2.0, nil, nil}}),
	}

	transform := mustTransform(t, stream.Clause{"drop": map[string]any{"threshold": 0.75}}, ctx)
	out, err := stream.Collect(transform.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	assert.Empty(t, out, "half-covered list is below the 0.75 threshold")
}

func TestDropHorizontalNoBaselinePassesThrough(t *testing.T) {
	transform := mustTransform(t, stream.Clause{"drop": map[string]any{"threshold": 1.0}}, &stubContext{})
	samples := []vector.Sample{sampleAt(0, vector.Vector{})}
	out, err := stream.Collect(transform.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestDropVertical(t *testing.T) {
	metadata := &artifacts.Document{
		Features: []artifacts.Entry{
			{ID: "good", Kind: "scalar", PresentCount: 9},
			{ID: "sparse", Kind: "scalar", PresentCount: 2},
			{ID: "seq", Kind: "list", PresentCount: 5, ObservedElements: 10, Cadence: &artifacts.CadenceSpec{Target: 4}},
		},
		Counts: artifacts.Counts{FeatureVectors: 12},
		Window: &artifacts.Window{Size: 10},
	}
	ctx := &stubContext{metadata: metadata}

	samples := []vector.Sample{
		sampleAt(0, vector.Vector{"good": 1.0, "sparse": 2.0, "seq": []any{1.0}}),
		sampleAt(1, vector.Vector{"good": 3.0}),
	}

	// good: 9/10, sparse: 2/10, seq: 10/(4*5) = 0.5; threshold 0.6 keeps only good.
	transform := mustTransform(t, stream.Clause{"drop": map[string]any{"axis": "vertical", "threshold": 0.6}}, ctx)
	out, err := stream.Collect(transform.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, vector.Vector{"good": 1.0}, out[0].Features)
	assert.Equal(t, vector.Vector{"good": 3.0}, out[1].Features)

	// Input vectors are untouched.
	assert.Contains(t, samples[0].Features, "sparse")

	// Idempotent: a second application keeps the surviving id set unchanged.
	again := mustTransform(t, stream.Clause{"drop": map[string]any{"axis": "vertical", "threshold": 0.6}}, ctx)
	twice, err := stream.Collect(again.Apply(stream.FromSlice(out)))
	require.NoError(t, err)
	assert.Equal(t, out, twice)
}

func TestDropVerticalPrefersWindowSize(t *testing.T) {
	// present_count 6 of 12 vectors, but the declared window spans 10 buckets:
	// coverage is 6/10, above a 0.55 threshold that 6/12 would fail.
	metadata := &artifacts.Document{
		Features: []artifacts.Entry{{ID: "x", Kind: "scalar", PresentCount: 6}},
		Counts:   artifacts.Counts{FeatureVectors: 12},
		Window:   &artifacts.Window{Size: 10},
	}
	transform := mustTransform(t, stream.Clause{"drop": map[string]any{"axis": "vertical", "threshold": 0.55}}, &stubContext{metadata: metadata})
	out, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{
		sampleAt(0, vector.Vector{"x": 1.0}),
	})))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Features, "x")
}

func TestDropVerticalWithoutMetadataIsFatal(t *testing.T) {
	transform := mustTransform(t, stream.Clause{"drop": map[string]any{"axis": "vertical", "threshold": 0.5}}, &stubContext{})
	_, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{
		sampleAt(0, vector.Vector{"x": 1.0}),
	})))
	require.ErrorIs(t, err, ErrNoMetadata)
}

func TestFillConstant(t *testing.T) {
	ctx := &stubContext{ids: map[string][]string{"features": {"a", "b", "c"}}}
	transform := mustTransform(t, stream.Clause{"fill_constant": map[string]any{"value": 0.0}}, ctx)

	input := vector.Vector{"a": 1.0, "b": nil}
	out, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{sampleAt(0, input)})))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, vector.Vector{"a": 1.0, "b": 0.0, "c": 0.0}, out[0].Features)

	// The input vector is never mutated in place.
	assert.Equal(t, vector.Vector{"a": 1.0, "b": nil}, input)
}

func TestFillHistoryFillsFromPriorBuckets(t *testing.T) {
	ctx := &stubContext{ids: map[string][]string{"features": {"a"}}}
	transform := mustTransform(t, stream.Clause{"fill_history": map[string]any{}}, ctx)

	samples := []vector.Sample{
		sampleAt(0, vector.Vector{"a": nil}),
		sampleAt(1, vector.Vector{"a": 1.0}),
		sampleAt(2, vector.Vector{"a": 2.0}),
		sampleAt(3, vector.Vector{"a": nil}),
	}
	out, err := stream.Collect(transform.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Nil(t, out[0].Features["a"], "no history yet, stays missing")
	assert.Equal(t, 1.0, out[1].Features["a"], "present values are never overwritten")
	assert.Equal(t, 2.0, out[2].Features["a"])
	assert.Equal(t, 1.5, out[3].Features["a"], "median of prior values")
}

func TestFillHistoryMinSamplesAndWindow(t *testing.T) {
	ctx := &stubContext{ids: map[string][]string{"features": {"a"}}}
	transform := mustTransform(t, stream.Clause{"fill_history": map[string]any{
		"statistic":   "mean",
		"window":      2,
		"min_samples": 2,
	}}, ctx)

	samples := []vector.Sample{
		sampleAt(0, vector.Vector{"a": 1.0}),
		sampleAt(1, vector.Vector{"a": nil}), // one observation < min_samples
		sampleAt(2, vector.Vector{"a": 5.0}),
		sampleAt(3, vector.Vector{"a": 7.0}),
		sampleAt(4, vector.Vector{"a": nil}), // window of 2 keeps {5, 7}
	}
	out, err := stream.Collect(transform.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	assert.Nil(t, out[1].Features["a"])
	assert.Equal(t, 6.0, out[4].Features["a"])
}

func TestFillAcrossPartitions(t *testing.T) {
	ctx := &stubContext{ids: map[string][]string{"features": {
		"temp__@station:A", "temp__@station:B", "wind__@station:A",
	}}}
	transform := mustTransform(t, stream.Clause{"fill_across_partitions": map[string]any{"statistic": "mean"}}, ctx)

	samples := []vector.Sample{
		sampleAt(0, vector.Vector{
			"temp__@station:A": 10.0,
			"temp__@station:B": nil,
			"wind__@station:A": nil,
		}),
	}
	out, err := stream.Collect(transform.Apply(stream.FromSlice(samples)))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 10.0, out[0].Features["temp__@station:B"], "borrowed from the sibling partition")
	assert.Nil(t, out[0].Features["wind__@station:A"], "no sibling with the same base id")
}

func TestEnsureSchemaRoundTrip(t *testing.T) {
	ctx := &stubContext{schema: map[string][]artifacts.Entry{"features": {
		{ID: "a", Kind: "scalar"},
		{ID: "b", Kind: "scalar"},
	}}}
	transform := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{"on_extra": "drop"}}, ctx)

	out, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{
		sampleAt(0, vector.Vector{"a": 1.0, "b": 2.0, "extra": 3.0}),
	})))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, vector.Vector{"a": 1.0, "b": 2.0}, out[0].Features)
}

func TestEnsureSchemaCompliantSamplePassesUnchanged(t *testing.T) {
	ctx := &stubContext{schema: map[string][]artifacts.Entry{"features": {
		{ID: "a", Kind: "scalar"},
	}}}
	transform := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{}}, ctx)

	input := sampleAt(0, vector.Vector{"a": 1.0})
	out, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{input})))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, input, out[0])
}

func TestEnsureSchemaOnMissingPolicies(t *testing.T) {
	schema := map[string][]artifacts.Entry{"features": {
		{ID: "a", Kind: "scalar"},
		{ID: "b", Kind: "scalar"},
	}}
	input := []vector.Sample{sampleAt(0, vector.Vector{"a": 1.0})}

	errorT := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{}}, &stubContext{schema: schema})
	_, err := stream.Collect(errorT.Apply(stream.FromSlice(input)))
	require.ErrorIs(t, err, ErrSchemaViolation)

	dropT := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{"on_missing": "drop_sample"}}, &stubContext{schema: schema})
	out, err := stream.Collect(dropT.Apply(stream.FromSlice(input)))
	require.NoError(t, err)
	assert.Empty(t, out)

	fillT := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{"on_missing": "fill", "fill_value": 0.0}}, &stubContext{schema: schema})
	out, err = stream.Collect(fillT.Apply(stream.FromSlice(input)))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, vector.Vector{"a": 1.0, "b": 0.0}, out[0].Features)
}

func TestEnsureSchemaOnExtraError(t *testing.T) {
	ctx := &stubContext{schema: map[string][]artifacts.Entry{"features": {
		{ID: "a", Kind: "scalar"},
	}}}
	transform := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{}}, ctx)
	_, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{
		sampleAt(0, vector.Vector{"a": 1.0, "extra": 2.0}),
	})))
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestEnsureSchemaCadenceLength(t *testing.T) {
	ctx := &stubContext{schema: map[string][]artifacts.Entry{"features": {
		{ID: "seq", Kind: "list", Cadence: &artifacts.CadenceSpec{Target: 4}},
	}}}

	transform := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{"on_missing": "fill"}}, ctx)
	out, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{
		sampleAt(0, vector.Vector{"seq": []any{1.0, 2.0}}),
		sampleAt(1, vector.Vector{"seq": []any{1.0, 2.0, 3.0, 4.0, 5.0, 6.0}}),
		sampleAt(2, vector.Vector{}),
	})))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []any{1.0, 2.0, nil, nil}, out[0].Features["seq"], "short lists are padded")
	assert.Equal(t, []any{1.0, 2.0, 3.0, 4.0}, out[1].Features["seq"], "long lists are truncated")
	assert.Equal(t, []any{nil, nil, nil, nil}, out[2].Features["seq"], "absent list is filled to full length")
}

func TestEnsureSchemaCadenceKindMismatch(t *testing.T) {
	ctx := &stubContext{schema: map[string][]artifacts.Entry{"features": {
		{ID: "seq", Kind: "list", Cadence: &artifacts.CadenceSpec{Target: 4}},
	}}}
	transform := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{}}, ctx)
	_, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{
		sampleAt(0, vector.Vector{"seq": 1.0}),
	})))
	require.ErrorIs(t, err, ErrSchemaViolation)
}

func TestEnsureSchemaWithoutSchemaIsFatal(t *testing.T) {
	transform := mustTransform(t, stream.Clause{"ensure_schema": map[string]any{}}, &stubContext{})
	_, err := stream.Collect(transform.Apply(stream.FromSlice([]vector.Sample{
		sampleAt(0, vector.Vector{}),
	})))
	require.ErrorIs(t, err, ErrNoSchema)
}
