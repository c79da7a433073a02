// Package postprocess provides the vector-level transforms applied to
// assembled Samples: coverage-driven drops, fills and schema enforcement.
// Transforms resolve expected-id baselines from a bound pipeline context
// and never mutate an input vector in place.
package postprocess

import (
	"errors"
	"fmt"
	"sync"

	"github.com/montanaflynn/stats"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/vector"
)

var (
	// ErrUnknownTransform is returned when a clause names an unregistered vector transform
	ErrUnknownTransform = errors.New("unknown vector transform")
	// ErrInvalidPayload is returned when a payload is neither "features" nor "targets"
	ErrInvalidPayload = errors.New("payload must be \"features\" or \"targets\"")
	// ErrNoMetadata is returned when vertical drop runs without a metadata artifact
	ErrNoMetadata = errors.New("vertical drop requires a vector metadata artifact")
	// ErrNoSchema is returned when schema enforcement runs without a schema artifact
	ErrNoSchema = errors.New("schema enforcement requires a vector schema artifact")
)

// Context supplies transforms with expected-id baselines and precomputed
// artifact documents. It is bound for the scope of one pipeline run and
// cleared when the run exits.
type Context interface {
	// ExpectedIDs returns the expected feature-id baseline for a payload,
	// resolved from the partitioned-id artifact or the schema document.
	// An empty baseline is not an error; coverage transforms pass through.
	ExpectedIDs(payload string) ([]string, error)

	// Schema returns the declared schema entries for a payload, or nil when
	// no schema artifact has been materialized.
	Schema(payload string) ([]artifacts.Entry, error)

	// Metadata returns the vector metadata document, or nil when absent.
	Metadata() (*artifacts.Document, error)
}

// Transform rewrites a Sample sequence. Implementations are idempotent on
// already-compliant samples.
type Transform interface {
	Apply(seq stream.Seq[vector.Sample]) stream.Seq[vector.Sample]
}

// ContextBinder is implemented by transforms needing a pipeline context.
type ContextBinder interface {
	BindContext(ctx Context)
}

// Factory builds a vector transform from clause parameters.
type Factory func(params any) (Transform, error)

//nolint:gochecknoglobals // Required for the factory registration pattern
var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register registers a vector transform factory under a name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New resolves a vector-stage clause. Unknown names are configuration
// errors surfaced at load time.
func New(clause stream.Clause) (Transform, error) {
	name, params, err := clause.Name()
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}
	return factory(params)
}

// Chain applies vector transforms in declaration order.
func Chain(seq stream.Seq[vector.Sample], ts []Transform) stream.Seq[vector.Sample] {
	for _, t := range ts {
		seq = t.Apply(seq)
	}
	return seq
}

// BindAll binds a pipeline context into every transform that accepts one.
func BindAll(ts []Transform, ctx Context) {
	for _, t := range ts {
		if binder, ok := t.(ContextBinder); ok {
			binder.BindContext(ctx)
		}
	}
}

// contextual carries the bound context and payload selection shared by all
// baseline-aware transforms.
type contextual struct {
	payload string
	ctx     Context
}

// BindContext attaches the active pipeline context.
func (c *contextual) BindContext(ctx Context) {
	c.ctx = ctx
}

func (c *contextual) expectedIDs() ([]string, error) {
	if c.ctx == nil {
		return nil, nil
	}
	return c.ctx.ExpectedIDs(c.payload)
}

func validatePayload(payload string) (string, error) {
	switch payload {
	case "":
		return "features", nil
	case "features", "targets":
		return payload, nil
	}
	return "", fmt.Errorf("%w, got %q", ErrInvalidPayload, payload)
}

func aggregate(statistic string, values []float64) (float64, error) {
	switch statistic {
	case "mean":
		return stats.Mean(values)
	case "median":
		return stats.Median(values)
	}
	return 0, fmt.Errorf("%w: unsupported statistic %q", stream.ErrInvalidParams, statistic)
}
