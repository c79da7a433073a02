// Package pipeline composes sources, transforms, merge and postprocess into
// runnable dataset pipelines, and carries the per-run context transforms
// resolve artifact baselines from.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vectormill/vectormill/pkg/artifacts"
	"github.com/vectormill/vectormill/pkg/config"
	"github.com/vectormill/vectormill/pkg/sources"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/temporal"
)

var (
	// ErrUnknownStream is returned when a feature references an undeclared stream
	ErrUnknownStream = errors.New("feature references an unknown stream")
)

// Runtime holds everything a project run needs: the loaded descriptors, the
// artifact manager restored from the persisted build state, and the grouping
// resolution.
type Runtime struct {
	log logrus.FieldLogger

	Project     *config.Project
	Dataset     *config.Dataset
	Postprocess *config.Postprocess
	Build       *config.Build
	Sources     map[string]config.Source
	Streams     map[string]config.Stream

	Artifacts  *artifacts.Manager
	Resolution time.Duration

	projectPath string
}

// NewRuntime loads every descriptor referenced by a project file and
// restores the artifact registry from the persisted build state, if any.
func NewRuntime(log logrus.FieldLogger, projectPath string) (*Runtime, error) {
	project, err := config.LoadProject(projectPath)
	if err != nil {
		return nil, err
	}

	dataset, err := config.LoadDataset(project.DatasetPath())
	if err != nil {
		return nil, err
	}

	postprocess, err := config.LoadPostprocess(project.PostprocessPath())
	if err != nil {
		return nil, err
	}

	build, err := config.LoadBuild(project.BuildPath())
	if err != nil {
		return nil, err
	}

	srcs, err := config.LoadSources(project.SourcesDir())
	if err != nil {
		return nil, err
	}

	streams, err := config.LoadStreams(project.StreamsDir(), srcs)
	if err != nil {
		return nil, err
	}

	resolution, err := temporal.ParseCadence(dataset.GroupBy.Resolution)
	if err != nil {
		return nil, err
	}

	runtime := &Runtime{
		log:         log,
		Project:     project,
		Dataset:     dataset,
		Postprocess: postprocess,
		Build:       build,
		Sources:     srcs,
		Streams:     streams,
		Artifacts:   artifacts.NewManager(project.ArtifactsRoot()),
		Resolution:  resolution,
		projectPath: projectPath,
	}

	state, err := artifacts.LoadBuildState(runtime.StatePath())
	if err != nil {
		return nil, err
	}
	if state != nil {
		runtime.Artifacts.Restore(state)
		log.WithField("config_hash", state.ConfigHash).Debug("Restored build state")
	}

	return runtime, nil
}

// Log returns the runtime logger.
func (r *Runtime) Log() logrus.FieldLogger {
	return r.log
}

// StatePath returns the location of the persisted build state document.
func (r *Runtime) StatePath() string {
	return filepath.Join(r.Project.ArtifactsRoot(), r.Build.StateFile)
}

// ConfigHash computes the content hash gating incremental rebuilds.
func (r *Runtime) ConfigHash() (string, error) {
	required, dirs := r.Project.HashInputs(r.projectPath)
	return artifacts.ConfigHash(r.Project.Dir(), required, dirs)
}

// Window returns the declared dataset window bounds when both are set.
func (r *Runtime) Window() (start, end time.Time, ok bool) {
	g := r.Project.Globals
	if g.StartTime == nil || g.EndTime == nil {
		return time.Time{}, time.Time{}, false
	}
	return g.StartTime.UTC(), g.EndTime.UTC(), true
}

// WindowSize returns the number of grouping buckets the declared window
// spans, inclusive of both bounds.
func (r *Runtime) WindowSize() (int, bool) {
	start, end, ok := r.Window()
	if !ok || end.Before(start) {
		return 0, false
	}
	return int(end.Sub(start)/r.Resolution) + 1, true
}

// OpenStream opens a declared stream as a lazy temporal-record sequence.
// Sources resolve relative to the project directory.
func (r *Runtime) OpenStream(ctx context.Context, alias string) (stream.Seq[temporal.Record], error) {
	spec, ok := r.Streams[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, alias)
	}

	srcSpec := r.Sources[spec.Source]
	if srcSpec.Type == "file" && !filepath.IsAbs(srcSpec.Path) {
		srcSpec.Path = r.Project.Resolve(srcSpec.Path)
	}

	source, decoder, err := sources.New(srcSpec)
	if err != nil {
		return nil, err
	}

	return sources.Records(ctx, source, decoder, sources.NewMapper(spec.Mapper)), nil
}
