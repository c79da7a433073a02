package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

var (
	// ErrSourceIDRequired is returned when a source spec has no id
	ErrSourceIDRequired = errors.New("source id is required")
	// ErrSourcePathRequired is returned when a file source has no path
	ErrSourcePathRequired = errors.New("source path is required")
	// ErrInvalidSourceFormat is returned when a source declares an unknown format
	ErrInvalidSourceFormat = errors.New("source format must be csv, json or json_lines")
	// ErrStreamIDRequired is returned when a stream spec has no id
	ErrStreamIDRequired = errors.New("stream id is required")
	// ErrStreamSourceRequired is returned when a stream references no source
	ErrStreamSourceRequired = errors.New("stream source is required")
	// ErrUnknownSource is returned when a stream references an undeclared source
	ErrUnknownSource = errors.New("stream references an unknown source")
	// ErrDuplicateSpec is returned when two specs share an id
	ErrDuplicateSpec = errors.New("duplicate spec id")
)

// Source declares where raw items come from and how they are decoded.
type Source struct {
	ID     string `yaml:"id"`
	Type   string `yaml:"type" default:"file"`
	Path   string `yaml:"path"`
	Format string `yaml:"format" default:"csv"`
}

// Validate validates the source spec.
func (s *Source) Validate() error {
	if s.ID == "" {
		return ErrSourceIDRequired
	}
	if s.Type == "file" && s.Path == "" {
		return fmt.Errorf("%w (source %q)", ErrSourcePathRequired, s.ID)
	}
	switch s.Format {
	case "csv", "json", "json_lines":
		return nil
	}
	return fmt.Errorf("%w, got %q (source %q)", ErrInvalidSourceFormat, s.Format, s.ID)
}

// Mapper declares how a decoded row becomes a temporal record.
type Mapper struct {
	TimeField  string     `yaml:"time_field" default:"time"`
	TimeLayout string     `yaml:"time_layout"`
	ValueField string     `yaml:"value_field" default:"value"`
	AttrFields StringList `yaml:"attr_fields"`
}

// Stream binds a source to a record mapper under a referenceable alias.
type Stream struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source"`
	Mapper Mapper `yaml:"mapper"`
}

// Validate validates the stream spec.
func (s *Stream) Validate() error {
	if s.ID == "" {
		return ErrStreamIDRequired
	}
	if s.Source == "" {
		return fmt.Errorf("%w (stream %q)", ErrStreamSourceRequired, s.ID)
	}
	return nil
}

// LoadSources aggregates every source spec found under dir, one per file.
func LoadSources(dir string) (map[string]Source, error) {
	sources := make(map[string]Source)
	err := eachSpecFile(dir, func(path string) error {
		var source Source
		if err := loadYAML(path, &source); err != nil {
			return err
		}
		if err := source.Validate(); err != nil {
			return err
		}
		if _, exists := sources[source.ID]; exists {
			return fmt.Errorf("%w: source %q", ErrDuplicateSpec, source.ID)
		}
		sources[source.ID] = source
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// LoadStreams aggregates every stream spec under dir and checks each one
// against the declared sources.
func LoadStreams(dir string, sources map[string]Source) (map[string]Stream, error) {
	streams := make(map[string]Stream)
	err := eachSpecFile(dir, func(path string) error {
		var spec Stream
		if err := loadYAML(path, &spec); err != nil {
			return err
		}
		if err := spec.Validate(); err != nil {
			return err
		}
		if _, exists := streams[spec.ID]; exists {
			return fmt.Errorf("%w: stream %q", ErrDuplicateSpec, spec.ID)
		}
		if _, ok := sources[spec.Source]; !ok {
			return fmt.Errorf("%w: %q (stream %q)", ErrUnknownSource, spec.Source, spec.ID)
		}
		streams[spec.ID] = spec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return streams, nil
}

// eachSpecFile walks a spec directory (subfolders included) and invokes fn
// for every yaml file in sorted order. A missing directory is not an error.
func eachSpecFile(dir string, fn func(path string) error) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to walk spec directory %s: %w", dir, err)
	}
	sort.Strings(files)
	for _, path := range files {
		if err := fn(path); err != nil {
			return err
		}
	}
	return nil
}
