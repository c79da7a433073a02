package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/vectormill/vectormill/pkg/feature"
	"github.com/vectormill/vectormill/pkg/temporal"
)

var (
	// ErrUnknownTransform is returned when a clause names an unregistered transform
	ErrUnknownTransform = errors.New("unknown transform")
	// ErrInvalidClause is returned when a transform clause is not a one-key mapping
	ErrInvalidClause = errors.New("transform clause must be a one-key mapping")
	// ErrInvalidParams is returned when clause parameters fail validation
	ErrInvalidParams = errors.New("invalid transform parameters")
	// ErrSequenceInput is returned when a windowed record reaches a scalar-only stage
	ErrSequenceInput = errors.New("sequence record reached a scalar-only transform")
)

// Clause is a one-key configuration mapping {transform_name: params}.
type Clause map[string]any

// Name returns the single transform name and its raw parameters.
func (c Clause) Name() (string, any, error) {
	if len(c) != 1 {
		return "", nil, fmt.Errorf("%w, got %d keys", ErrInvalidClause, len(c))
	}
	for name, params := range c {
		return name, params, nil
	}
	return "", nil, ErrInvalidClause
}

// RecordTransform rewrites an ordered temporal-record sequence.
type RecordTransform interface {
	Apply(seq Seq[temporal.Record]) Seq[temporal.Record]
}

// Transform rewrites an ordered feature-record sequence. Several transforms
// require input pre-sorted by (feature id, record time).
type Transform interface {
	Apply(seq Seq[feature.Record]) Seq[feature.Record]
}

// RecordFactory builds a record-level transform from clause parameters.
type RecordFactory func(params any) (RecordTransform, error)

// Factory builds a stream-level transform from clause parameters.
type Factory func(params any) (Transform, error)

type registry struct {
	mu      sync.RWMutex
	record  map[string]RecordFactory
	stream  map[string]Factory
}

//nolint:gochecknoglobals // Required for the factory registration pattern
var transforms = &registry{
	record: make(map[string]RecordFactory),
	stream: make(map[string]Factory),
}

// RegisterRecord registers a record-level transform factory under a name.
func RegisterRecord(name string, factory RecordFactory) {
	transforms.mu.Lock()
	defer transforms.mu.Unlock()
	transforms.record[name] = factory
}

// Register registers a stream-level transform factory under a name.
func Register(name string, factory Factory) {
	transforms.mu.Lock()
	defer transforms.mu.Unlock()
	transforms.stream[name] = factory
}

// NewRecordTransform resolves a record-level clause. Unknown names are
// configuration errors surfaced at load time.
func NewRecordTransform(clause Clause) (RecordTransform, error) {
	name, params, err := clause.Name()
	if err != nil {
		return nil, err
	}
	transforms.mu.RLock()
	factory, ok := transforms.record[name]
	transforms.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (record stage)", ErrUnknownTransform, name)
	}
	return factory(params)
}

// NewTransform resolves a stream-level clause. Unknown names are
// configuration errors surfaced at load time.
func NewTransform(clause Clause) (Transform, error) {
	name, params, err := clause.Name()
	if err != nil {
		return nil, err
	}
	transforms.mu.RLock()
	factory, ok := transforms.stream[name]
	transforms.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (stream stage)", ErrUnknownTransform, name)
	}
	return factory(params)
}

// DecodeParams decodes raw clause parameters into a typed params struct.
// Unused keys are rejected so config typos fail fast.
func DecodeParams(params any, out any) error {
	if params == nil {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Chain applies stream transforms in declaration order.
func Chain(seq Seq[feature.Record], ts []Transform) Seq[feature.Record] {
	for _, t := range ts {
		seq = t.Apply(seq)
	}
	return seq
}

// ChainRecords applies record transforms in declaration order.
func ChainRecords(seq Seq[temporal.Record], ts []RecordTransform) Seq[temporal.Record] {
	for _, t := range ts {
		seq = t.Apply(seq)
	}
	return seq
}
