// Package sources defines the collaborator boundary raw data enters the
// pipeline through: a Source yields bytes, a Decoder turns them into
// structured rows, and a Mapper turns rows into temporal records.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vectormill/vectormill/pkg/config"
	"github.com/vectormill/vectormill/pkg/stream"
	"github.com/vectormill/vectormill/pkg/temporal"
)

var (
	// ErrUnknownSourceType is returned when a source spec declares an unsupported type
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrUnknownFormat is returned when a source spec declares an unsupported format
	ErrUnknownFormat = errors.New("unknown source format")
)

// Row is one decoded structured row.
type Row map[string]any

// Source yields the raw bytes of one dataset input.
type Source interface {
	// Open starts a new read of the underlying data.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Count returns the number of items when cheaply known.
	Count() (int, bool)
}

// Decoder turns a byte stream into a lazy sequence of structured rows.
type Decoder interface {
	Decode(r io.Reader) stream.Seq[Row]
}

// Mapper turns one decoded row into a temporal record, or rejects it.
// Rejected rows are dropped, not errors.
type Mapper interface {
	Map(row Row) (temporal.Record, bool, error)
}

// FileSource reads one local file.
type FileSource struct {
	Path string
}

// Open opens the backing file.
func (s *FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	return file, nil
}

// Count reports an unknown item count; files are sized in bytes, not rows.
func (s *FileSource) Count() (int, bool) {
	return 0, false
}

// New builds a source and its decoder from a spec.
func New(spec config.Source) (Source, Decoder, error) {
	if spec.Type != "file" {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, spec.Type)
	}
	decoder, err := NewDecoder(spec.Format)
	if err != nil {
		return nil, nil, err
	}
	return &FileSource{Path: spec.Path}, decoder, nil
}

// NewDecoder builds a decoder for a declared format.
func NewDecoder(format string) (Decoder, error) {
	switch format {
	case "csv":
		return &CSVDecoder{}, nil
	case "json":
		return &JSONDecoder{}, nil
	case "json_lines":
		return &JSONLinesDecoder{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Records composes source, decoder and mapper into a lazy record sequence.
// The reader is closed when the sequence finishes or is abandoned.
func Records(ctx context.Context, source Source, decoder Decoder, mapper Mapper) stream.Seq[temporal.Record] {
	return func(yield func(temporal.Record, error) bool) {
		reader, err := source.Open(ctx)
		if err != nil {
			yield(temporal.Record{}, err)
			return
		}
		defer reader.Close()

		for row, err := range decoder.Decode(reader) {
			if err != nil {
				yield(temporal.Record{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(temporal.Record{}, err)
				return
			}
			record, ok, err := mapper.Map(row)
			if err != nil {
				yield(temporal.Record{}, err)
				return
			}
			if !ok {
				continue
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}
