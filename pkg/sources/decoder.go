package sources

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/vectormill/vectormill/pkg/stream"
)

// CSVDecoder decodes a headered CSV stream; the first row names the fields.
type CSVDecoder struct{}

// Decode implements Decoder.
func (d *CSVDecoder) Decode(r io.Reader) stream.Seq[Row] {
	return func(yield func(Row, error) bool) {
		reader := csv.NewReader(r)
		reader.ReuseRecord = false

		header, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			yield(nil, fmt.Errorf("failed to read csv header: %w", err))
			return
		}

		for {
			fields, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("failed to read csv row: %w", err))
				return
			}
			row := make(Row, len(header))
			for i, name := range header {
				if i < len(fields) {
					row[name] = fields[i]
				}
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// JSONDecoder decodes a single top-level JSON array of objects.
type JSONDecoder struct{}

// Decode implements Decoder.
func (d *JSONDecoder) Decode(r io.Reader) stream.Seq[Row] {
	return func(yield func(Row, error) bool) {
		var rows []Row
		if err := json.NewDecoder(r).Decode(&rows); err != nil {
			yield(nil, fmt.Errorf("failed to decode json array: %w", err))
			return
		}
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

// JSONLinesDecoder decodes one JSON object per line, skipping blank lines.
type JSONLinesDecoder struct{}

// Decode implements Decoder.
func (d *JSONLinesDecoder) Decode(r io.Reader) stream.Seq[Row] {
	return func(yield func(Row, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var row Row
			if err := json.Unmarshal([]byte(line), &row); err != nil {
				yield(nil, fmt.Errorf("failed to decode json line: %w", err))
				return
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to read json lines: %w", err))
		}
	}
}
