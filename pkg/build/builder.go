package build

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/observability"
	"github.com/vectormill/vectormill/pkg/pipeline"
)

// Options tunes one build invocation.
type Options struct {
	// Force rebuilds every artifact even when the config hash is unchanged.
	Force bool

	// Only restricts the plan to these artifact keys plus their dependency
	// closure. Empty means everything the dataset requires.
	Only []string
}

// Builder materializes the artifact plan for one project.
type Builder struct {
	log     logrus.FieldLogger
	runtime *pipeline.Runtime
}

// NewBuilder creates a builder over a loaded runtime.
func NewBuilder(runtime *pipeline.Runtime) *Builder {
	return &Builder{
		log:     runtime.Log().WithField("component", "build"),
		runtime: runtime,
	}
}

// Run materializes every required artifact in dependency order and persists
// a fresh build state. When the config hash matches the persisted state the
// build is skipped entirely, unless forced. The state is replaced as a
// whole: artifacts from earlier hashes never leak into the new registry.
func (b *Builder) Run(ctx context.Context, opts Options) error {
	hash, err := b.runtime.ConfigHash()
	if err != nil {
		return err
	}

	prior, err := artifacts.LoadBuildState(b.runtime.StatePath())
	if err != nil {
		return err
	}
	if prior != nil && prior.ConfigHash == hash && !opts.Force {
		observability.BuildsSkipped.Inc()
		b.log.WithField("config_hash", hash).Info("Artifacts up to date, skipping build")
		return nil
	}

	plan, err := Plan(b.runtime.Dataset, opts.Only...)
	if err != nil {
		return err
	}

	run := newRun(b.runtime)
	defer run.Close()

	state := artifacts.NewBuildState(hash)
	for _, def := range plan {
		started := time.Now()
		relativePath, meta, err := def.Materialize(ctx, run)
		if err != nil {
			return fmt.Errorf("failed to build artifact %q: %w", def.Key, err)
		}
		observability.BuildDuration.WithLabelValues(def.Key).Observe(time.Since(started).Seconds())
		observability.ArtifactsBuilt.WithLabelValues(def.Key).Inc()

		state.Register(def.Key, relativePath, meta)
		// Registered immediately so downstream tasks in the same plan can
		// resolve it.
		b.runtime.Artifacts.Register(def.Key, relativePath, meta)

		b.log.WithFields(logrus.Fields{
			"artifact": def.Key,
			"task":     def.TaskKind,
			"path":     relativePath,
			"duration": time.Since(started).Round(time.Millisecond),
		}).Info("Built artifact")
	}

	if err := artifacts.SaveBuildState(b.runtime.StatePath(), state); err != nil {
		return err
	}
	b.log.WithFields(logrus.Fields{
		"artifacts":   len(plan),
		"config_hash": hash,
	}).Info("Build complete")
	return nil
}
