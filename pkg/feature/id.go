// Package feature defines feature identifiers, group keys and the
// feature-labeled record type flowing between the assembly stages.
package feature

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vectormill/vectormill/pkg/temporal"
)

const partitionSeparator = "__"

// ErrMissingPartitionAttr is returned when a record lacks a declared partition field
var ErrMissingPartitionAttr = errors.New("record is missing partition attribute")

// PartitionedID builds a partitioned feature id by appending one
// "@{field}:{value}" segment per partition field, in declared order.
// With no partition fields the base id is returned unchanged.
func PartitionedID(baseID string, partitionBy []string, record temporal.Record) (string, error) {
	if len(partitionBy) == 0 {
		return baseID, nil
	}

	var suffix strings.Builder
	for _, field := range partitionBy {
		value, ok := record.Attr(field)
		if !ok {
			return "", fmt.Errorf("%w: %q (feature %s)", ErrMissingPartitionAttr, field, baseID)
		}
		suffix.WriteString("@")
		suffix.WriteString(field)
		suffix.WriteString(":")
		suffix.WriteString(value)
	}

	return baseID + partitionSeparator + suffix.String(), nil
}

// BaseID recovers the base feature id by splitting on the first "__".
func BaseID(id string) string {
	if idx := strings.Index(id, partitionSeparator); idx >= 0 {
		return id[:idx]
	}
	return id
}

// IDGenerator stamps partition suffixes onto a base feature id.
type IDGenerator struct {
	baseID      string
	partitionBy []string
}

// NewIDGenerator creates a generator for one configured feature.
func NewIDGenerator(baseID string, partitionBy []string) *IDGenerator {
	return &IDGenerator{baseID: baseID, partitionBy: partitionBy}
}

// Generate returns the feature id for a record, partitioned when configured.
func (g *IDGenerator) Generate(record temporal.Record) (string, error) {
	return PartitionedID(g.baseID, g.partitionBy, record)
}
