package config

import (
	"os"
	"path/filepath"
	"time"
)

// Paths locates the other descriptors relative to the project file.
type Paths struct {
	Streams     string `yaml:"streams" default:"streams"`
	Sources     string `yaml:"sources" default:"sources"`
	Dataset     string `yaml:"dataset" default:"dataset.yaml"`
	Postprocess string `yaml:"postprocess" default:"postprocess.yaml"`
	Artifacts   string `yaml:"artifacts" default:"artifacts"`
	Build       string `yaml:"build" default:"build.yaml"`
}

// Globals carries project-wide settings, most importantly the dataset
// window bounds used by rectangular assembly and metadata generation, and
// the optional sample split applied at the end of the vector pipeline.
type Globals struct {
	StartTime *time.Time `yaml:"start_time"`
	EndTime   *time.Time `yaml:"end_time"`
	Split     *Split     `yaml:"split"`
}

// Project is the top-level descriptor tying a project together.
type Project struct {
	Version int     `yaml:"version" default:"1"`
	Name    string  `yaml:"name"`
	Paths   Paths   `yaml:"paths"`
	Globals Globals `yaml:"globals"`

	dir string
}

// LoadProject reads and validates a project file. Relative paths inside the
// descriptor resolve against the directory containing it.
func LoadProject(path string) (*Project, error) {
	project := &Project{}
	if err := loadYAML(path, project); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	project.dir = filepath.Dir(abs)

	if err := project.Validate(); err != nil {
		return nil, err
	}
	return project, nil
}

// Validate validates the project descriptor.
func (p *Project) Validate() error {
	if p.Version != 1 {
		return ErrUnsupportedVersion
	}
	if p.Paths.Artifacts == "" {
		return ErrArtifactsPathRequired
	}
	if p.Globals.Split != nil {
		return p.Globals.Split.Validate()
	}
	return nil
}

// Dir returns the directory containing the project file.
func (p *Project) Dir() string {
	return p.dir
}

// Resolve resolves a descriptor path against the project directory.
func (p *Project) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.dir, path)
}

// StreamsDir returns the directory holding stream specs.
func (p *Project) StreamsDir() string { return p.Resolve(p.Paths.Streams) }

// SourcesDir returns the directory holding source specs.
func (p *Project) SourcesDir() string { return p.Resolve(p.Paths.Sources) }

// DatasetPath returns the dataset descriptor path.
func (p *Project) DatasetPath() string { return p.Resolve(p.Paths.Dataset) }

// PostprocessPath returns the postprocess descriptor path.
func (p *Project) PostprocessPath() string { return p.Resolve(p.Paths.Postprocess) }

// ArtifactsRoot returns the directory artifacts are materialized under.
func (p *Project) ArtifactsRoot() string { return p.Resolve(p.Paths.Artifacts) }

// BuildPath returns the build descriptor path.
func (p *Project) BuildPath() string { return p.Resolve(p.Paths.Build) }

// HashInputs returns the config files and directories whose contents gate
// incremental rebuilds: the project and dataset descriptors, the optional
// descriptors when present, and the stream/source spec directories.
func (p *Project) HashInputs(projectPath string) (required, dirs []string) {
	required = []string{projectPath, p.DatasetPath()}
	for _, optional := range []string{p.PostprocessPath(), p.BuildPath()} {
		if _, err := os.Stat(optional); err == nil {
			required = append(required, optional)
		}
	}
	dirs = []string{p.StreamsDir(), p.SourcesDir()}
	return required, dirs
}
