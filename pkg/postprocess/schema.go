package postprocess

import (
	"errors"
	"fmt"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/vector"
)

//nolint:gochecknoinits // Transform registration
func init() {
	Register("ensure_schema", newEnsureSchema)
}

var (
	// ErrSchemaViolation is returned when a sample cannot satisfy the declared schema
	ErrSchemaViolation = errors.New("sample violates the declared vector schema")
)

type ensureSchemaParams struct {
	Payload   string `mapstructure:"payload"`
	OnMissing string `mapstructure:"on_missing"`
	OnExtra   string `mapstructure:"on_extra"`
	FillValue any    `mapstructure:"fill_value"`
}

// ensureSchema validates and normalizes a sample's vector against the
// declared schema document: missing and extra ids follow the configured
// policies and list-valued entries are brought to their declared cadence
// target length.
type ensureSchema struct {
	contextual
	onMissing string
	onExtra   string
	fillValue any

	entries []artifacts.Entry
	loaded  bool
}

func newEnsureSchema(params any) (Transform, error) {
	p := ensureSchemaParams{OnMissing: "error", OnExtra: "error"}
	if err := stream.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	switch p.OnMissing {
	case "error", "fill", "drop_sample":
	default:
		return nil, fmt.Errorf("%w: on_missing must be \"error\", \"fill\" or \"drop_sample\", got %q", stream.ErrInvalidParams, p.OnMissing)
	}
	switch p.OnExtra {
	case "error", "drop", "keep":
	default:
		return nil, fmt.Errorf("%w: on_extra must be \"error\", \"drop\" or \"keep\", got %q", stream.ErrInvalidParams, p.OnExtra)
	}
	payload, err := validatePayload(p.Payload)
	if err != nil {
		return nil, err
	}
	return &ensureSchema{
		contextual: contextual{payload: payload},
		onMissing:  p.OnMissing,
		onExtra:    p.OnExtra,
		fillValue:  p.FillValue,
	}, nil
}

func (t *ensureSchema) schema() ([]artifacts.Entry, error) {
	if t.loaded {
		return t.entries, nil
	}
	if t.ctx == nil {
		return nil, ErrNoSchema
	}
	entries, err := t.ctx.Schema(t.payload)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoSchema
	}
	t.entries = entries
	t.loaded = true
	return t.entries, nil
}

func (t *ensureSchema) Apply(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample] {
	return func(yield func(vector.Sample, error) bool) {
		entries, err := t.schema()
		if err != nil {
			yield(vector.Sample{}, err)
			return
		}
		declared := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			declared[entry.ID] = struct{}{}
		}

		for sample, err := range seq {
			if err != nil {
				yield(sample, err)
				return
			}
			normalized, drop, err := t.normalize(sample, entries, declared)
			if err != nil {
				yield(vector.Sample{}, err)
				return
			}
			if drop {
				continue
			}
			if !yield(normalized, nil) {
				return
			}
		}
	}
}

// normalize returns the schema-compliant sample, a drop marker, or an error.
// A compliant input passes through unchanged.
func (t *ensureSchema) normalize(sample vector.Sample, entries []artifacts.Entry, declared map[string]struct{}) (vector.Sample, bool, error) {
	vec := sample.Payload(t.payload)
	var out vector.Vector
	mutate := func() vector.Vector {
		if out == nil {
			out = vec.Clone()
		}
		return out
	}

	for _, entry := range entries {
		value, present := vec[entry.ID]
		if !present {
			switch t.onMissing {
			case "error":
				return vector.Sample{}, false, fmt.Errorf("%w: missing id %q at %s", ErrSchemaViolation, entry.ID, sample.Key.Bucket)
			case "drop_sample":
				return vector.Sample{}, true, nil
			case "fill":
				value = t.missingValue(entry)
				mutate()[entry.ID] = value
			}
		}
		normalized, changed, err := normalizeCadence(entry, value)
		if err != nil {
			return vector.Sample{}, false, fmt.Errorf("%w: id %q at %s: %v", ErrSchemaViolation, entry.ID, sample.Key.Bucket, err)
		}
		if changed {
			mutate()[entry.ID] = normalized
		}
	}

	for id := range vec {
		if _, ok := declared[id]; ok {
			continue
		}
		switch t.onExtra {
		case "error":
			return vector.Sample{}, false, fmt.Errorf("%w: undeclared id %q at %s", ErrSchemaViolation, id, sample.Key.Bucket)
		case "drop":
			delete(mutate(), id)
		case "keep":
		}
	}

	if out == nil {
		return sample, false, nil
	}
	return sample.WithPayload(t.payload, out), false, nil
}

// missingValue is the fill used for an absent id: list entries with a
// declared cadence get a full-length list of missing elements, everything
// else gets the configured constant.
func (t *ensureSchema) missingValue(entry artifacts.Entry) any {
	if entry.Kind == "list" && entry.Cadence != nil && entry.Cadence.Target > 0 {
		return make([]any, entry.Cadence.Target)
	}
	return t.fillValue
}

// normalizeCadence pads or truncates a list value to its declared cadence
// target. A scalar value under a list entry with a declared target is a
// structural mismatch.
func normalizeCadence(entry artifacts.Entry, value any) (any, bool, error) {
	if entry.Cadence == nil || entry.Cadence.Target <= 0 {
		return value, false, nil
	}
	if value == nil {
		return value, false, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, false, fmt.Errorf("expected a list of %d elements, got %T", entry.Cadence.Target, value)
	}
	target := entry.Cadence.Target
	switch {
	case len(list) == target:
		return value, false, nil
	case len(list) > target:
		trimmed := make([]any, target)
		copy(trimmed, list[:target])
		return trimmed, true, nil
	default:
		padded := make([]any, target)
		copy(padded, list)
		return padded, true, nil
	}
}
