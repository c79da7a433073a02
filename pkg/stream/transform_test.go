package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

func hourRecord(id string, hour int, value any) feature.Record {
	ts := time.Date(2024, 3, 1, hour, 0, 0, 0, time.UTC)
	return feature.Record{
		ID:    id,
		Key:   feature.GroupKey{Bucket: ts},
		Point: temporal.MustRecord(ts, value),
	}
}

func TestClauseName(t *testing.T) {
	name, params, err := Clause{"fill": map[string]any{"statistic": "mean"}}.Name()
	require.NoError(t, err)
	assert.Equal(t, "fill", name)
	assert.NotNil(t, params)

	_, _, err = Clause{"a": nil, "b": nil}.Name()
	require.ErrorIs(t, err, ErrInvalidClause)
}

func TestNewTransformUnknownName(t *testing.T) {
	_, err := NewTransform(Clause{"does_not_exist": nil})
	require.ErrorIs(t, err, ErrUnknownTransform)

	_, err = NewRecordTransform(Clause{"does_not_exist": nil})
	require.ErrorIs(t, err, ErrUnknownTransform)
}

func TestEnsureCadenceFillsGaps(t *testing.T) {
	tr, err := NewTransform(Clause{"ensure_cadence": map[string]any{"cadence": "1h"}})
	require.NoError(t, err)

	in := []feature.Record{
		hourRecord("temp", 0, 1.0),
		hourRecord("temp", 2, 3.0),
	}
	out, err := Collect(tr.Apply(FromSlice(in)))
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, 1.0, out[0].Point.Value)
	assert.True(t, out[1].Point.Missing())
	assert.Equal(t, time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC), out[1].Point.Time)
	assert.Equal(t, 3.0, out[2].Point.Value)
}

func TestEnsureCadenceNeverBackfillsAndResetsPerID(t *testing.T) {
	tr, err := NewTransform(Clause{"ensure_cadence": map[string]any{"cadence": "1h"}})
	require.NoError(t, err)

	in := []feature.Record{
		hourRecord("a", 5, 1.0),
		hourRecord("a", 6, 2.0),
		hourRecord("b", 0, 3.0),
		hourRecord("b", 2, 4.0),
	}
	out, err := Collect(tr.Apply(FromSlice(in)))
	require.NoError(t, err)

	// No placeholders before the first real record of either id.
	require.Len(t, out, 5)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[2].ID)
	assert.True(t, out[3].Point.Missing())
}

func TestFillReplacesMissingAfterMinSamples(t *testing.T) {
	tr, err := NewTransform(Clause{"fill": map[string]any{"statistic": "mean", "min_samples": 2}})
	require.NoError(t, err)

	in := []feature.Record{
		hourRecord("x", 0, nil), // before min_samples: passes through
		hourRecord("x", 1, 1.0),
		hourRecord("x", 2, 3.0),
		hourRecord("x", 3, nil), // filled with mean(1, 3) = 2
	}
	out, err := Collect(tr.Apply(FromSlice(in)))
	require.NoError(t, err)

	require.Len(t, out, 4)
	assert.True(t, out[0].Point.Missing())
	assert.Equal(t, 2.0, out[3].Point.Value)
}

func TestFillWindowBoundsHistory(t *testing.T) {
	tr, err := NewTransform(Clause{"fill": map[string]any{"statistic": "mean", "window": 2}})
	require.NoError(t, err)

	in := []feature.Record{
		hourRecord("x", 0, 10.0),
		hourRecord("x", 1, 2.0),
		hourRecord("x", 2, 4.0),
		hourRecord("x", 3, nil), // mean over last 2 values only
	}
	out, err := Collect(tr.Apply(FromSlice(in)))
	require.NoError(t, err)
	assert.Equal(t, 3.0, out[3].Point.Value)
}

func TestGranularityModes(t *testing.T) {
	in := []feature.Record{
		hourRecord("x", 0, 1.0),
		hourRecord("x", 0, 3.0),
		hourRecord("x", 1, 5.0),
	}

	tests := []struct {
		mode     string
		expected float64
	}{
		{mode: "first", expected: 1.0},
		{mode: "last", expected: 3.0},
		{mode: "mean", expected: 2.0},
		{mode: "median", expected: 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			tr, err := NewTransform(Clause{"granularity": tt.mode})
			require.NoError(t, err)

			out, err := Collect(tr.Apply(FromSlice(in)))
			require.NoError(t, err)

			require.Len(t, out, 2)
			assert.Equal(t, tt.expected, out[0].Point.Value)
			assert.Equal(t, 5.0, out[1].Point.Value)
		})
	}
}

func TestRollingMeanWithMissingSlots(t *testing.T) {
	tr, err := NewTransform(Clause{"rolling": map[string]any{
		"window": 3, "min_samples": 2, "statistic": "mean",
	}})
	require.NoError(t, err)

	in := []feature.Record{
		hourRecord("x", 0, 2.0),
		hourRecord("x", 1, nil),
		hourRecord("x", 2, 4.0),
		hourRecord("x", 3, 6.0),
	}
	out, err := Collect(tr.Apply(FromSlice(in)))
	require.NoError(t, err)

	require.Len(t, out, 4)
	assert.True(t, out[0].Point.Missing()) // only one valid sample
	assert.True(t, out[1].Point.Missing()) // missing occupies a slot
	assert.Equal(t, 3.0, out[2].Point.Value)
	assert.Equal(t, 5.0, out[3].Point.Value) // window slid past hour 0
}

func TestSequenceRecordIsStructuralError(t *testing.T) {
	tr, err := NewTransform(Clause{"fill": nil})
	require.NoError(t, err)

	windowed := feature.Record{
		ID:     "x",
		Window: []temporal.Record{hourRecord("x", 0, 1.0).Point},
	}
	_, err = Collect(tr.Apply(FromSlice([]feature.Record{windowed})))
	require.ErrorIs(t, err, ErrSequenceInput)
}

func TestRecordDedupeDropsConsecutiveEquals(t *testing.T) {
	tr, err := NewRecordTransform(Clause{"dedupe": nil})
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in := []temporal.Record{
		temporal.MustRecord(ts, 1.0),
		temporal.MustRecord(ts, 1.0),
		temporal.MustRecord(ts, 2.0),
		temporal.MustRecord(ts, 1.0),
	}
	out, err := Collect(tr.Apply(FromSlice(in)))
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestRecordLagAndFloor(t *testing.T) {
	lag, err := NewRecordTransform(Clause{"lag": "1h"})
	require.NoError(t, err)
	floor, err := NewRecordTransform(Clause{"floor_time": "1h"})
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	out, err := Collect(ChainRecords(
		FromSlice([]temporal.Record{temporal.MustRecord(ts, 1.0)}),
		[]RecordTransform{lag, floor},
	))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), out[0].Time)
}

func TestFilterOperators(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	records := []temporal.Record{
		temporal.MustRecord(ts, 1.0).WithAttr("station", "A"),
		temporal.MustRecord(ts, 5.0).WithAttr("station", "B"),
		temporal.MustRecord(ts, 9.0).WithAttr("station", "C"),
	}

	tests := []struct {
		name   string
		params map[string]any
		want   int
	}{
		{
			name:   "eq on attribute",
			params: map[string]any{"field": "station", "op": "eq", "value": "A"},
			want:   1,
		},
		{
			name:   "gt on value",
			params: map[string]any{"field": "value", "op": "gt", "value": 2.0},
			want:   2,
		},
		{
			name:   "in on attribute",
			params: map[string]any{"field": "station", "op": "in", "values": []any{"A", "C"}},
			want:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewRecordTransform(Clause{"filter": tt.params})
			require.NoError(t, err)
			out, err := Collect(tr.Apply(FromSlice(records)))
			require.NoError(t, err)
			assert.Len(t, out, tt.want)
		})
	}
}

func TestFilterRejectsUnknownOperator(t *testing.T) {
	_, err := NewRecordTransform(Clause{"filter": map[string]any{
		"field": "value", "op": "like", "value": "x",
	}})
	require.ErrorIs(t, err, ErrInvalidParams)
}
