// Package build materializes the dataset artifacts: the partitioned-id list,
// the vector schema and metadata documents and the scaler statistics. Tasks
// are declared with explicit dependencies, ordered through a DAG and gated by
// a content hash over the project descriptors so unchanged projects skip the
// whole build.
package build

import (
	"context"
	"errors"
	"fmt"

	"github.com/heimdalr/dag"

	"github.com/vectormill/vectormill/pkg/config"
)

var (
	// ErrUnknownDependency is returned when a task depends on an undeclared task
	ErrUnknownDependency = errors.New("task depends on an unknown task")
	// ErrUnknownArtifact is returned when a requested artifact key is not declared
	ErrUnknownArtifact = errors.New("unknown artifact key")
	// ErrDependencyCycle is returned when the task graph is not acyclic
	ErrDependencyCycle = errors.New("task dependency cycle")
)

// MaterializeFunc builds one artifact and returns its path relative to the
// artifacts root, plus optional metadata recorded in the build state.
type MaterializeFunc func(ctx context.Context, run *Run) (string, map[string]any, error)

// Definition declares one buildable artifact.
type Definition struct {
	// Key is the artifact registry key.
	Key string
	// TaskKind labels the task in logs.
	TaskKind string
	// Dependencies are artifact keys that must be materialized first.
	Dependencies []string
	// RequiredIf decides whether the dataset needs this artifact at all.
	// A nil predicate means always required.
	RequiredIf func(*config.Dataset) bool
	// Materialize builds the artifact.
	Materialize MaterializeFunc
}

// Plan resolves the task set a dataset requires, validates the dependency
// graph and returns the definitions in materialization order. When specific
// keys are requested only their dependency closure is planned; otherwise
// every definition whose predicate accepts the dataset is. Dependencies of a
// required task are pulled in even when their own predicate says no.
func Plan(dataset *config.Dataset, only ...string) ([]Definition, error) {
	declared := definitions()
	byKey := make(map[string]Definition, len(declared))
	for _, def := range declared {
		byKey[def.Key] = def
	}

	required := make(map[string]bool)
	var include func(def Definition) error
	include = func(def Definition) error {
		if required[def.Key] {
			return nil
		}
		required[def.Key] = true
		for _, depKey := range def.Dependencies {
			dep, ok := byKey[depKey]
			if !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, def.Key, depKey)
			}
			if err := include(dep); err != nil {
				return err
			}
		}
		return nil
	}
	if len(only) > 0 {
		for _, key := range only {
			def, ok := byKey[key]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownArtifact, key)
			}
			if err := include(def); err != nil {
				return nil, err
			}
		}
	} else {
		for _, def := range declared {
			if def.RequiredIf != nil && !def.RequiredIf(dataset) {
				continue
			}
			if err := include(def); err != nil {
				return nil, err
			}
		}
	}

	if err := validateGraph(declared, byKey, required); err != nil {
		return nil, err
	}

	return order(declared, required), nil
}

// validateGraph rebuilds the required subgraph in a DAG; AddEdge rejects any
// edge that would close a cycle.
func validateGraph(declared []Definition, byKey map[string]Definition, required map[string]bool) error {
	graph := dag.NewDAG()
	for _, def := range declared {
		if !required[def.Key] {
			continue
		}
		if err := graph.AddVertexByID(def.Key, def.Key); err != nil {
			return fmt.Errorf("failed to add task %s: %w", def.Key, err)
		}
	}
	for _, def := range declared {
		if !required[def.Key] {
			continue
		}
		for _, depKey := range def.Dependencies {
			if err := graph.AddEdge(depKey, def.Key); err != nil {
				return fmt.Errorf("%w: %s -> %s: %v", ErrDependencyCycle, depKey, def.Key, err)
			}
		}
	}
	return nil
}

// order performs a stable topological sort: repeated passes over the
// declaration list place every task whose dependencies are already placed,
// so independent tasks keep their declaration order.
func order(declared []Definition, required map[string]bool) []Definition {
	placed := make(map[string]bool, len(required))
	ordered := make([]Definition, 0, len(required))
	for len(ordered) < len(required) {
		progressed := false
		for _, def := range declared {
			if !required[def.Key] || placed[def.Key] {
				continue
			}
			ready := true
			for _, depKey := range def.Dependencies {
				if !placed[depKey] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			placed[def.Key] = true
			ordered = append(ordered, def)
			progressed = true
		}
		if !progressed {
			// Unreachable after validateGraph, kept as a loop guard.
			break
		}
	}
	return ordered
}
