package stream

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/vectormill/vectormill/pkg/feature"
)

// aggregate computes the named statistic over a non-empty value set.
func aggregate(statistic string, values []float64) (float64, error) {
	switch statistic {
	case "mean":
		return stats.Mean(values)
	case "median":
		return stats.Median(values)
	default:
		return 0, fmt.Errorf("%w: unsupported statistic %q", ErrInvalidParams, statistic)
	}
}

func validStatistic(statistic string) error {
	if statistic != "mean" && statistic != "median" {
		return fmt.Errorf("%w: unsupported statistic %q", ErrInvalidParams, statistic)
	}
	return nil
}

// scalarOnly returns a structural error when a windowed record reaches a
// stage that expects scalar points.
func scalarOnly(fr feature.Record, stage string) error {
	if fr.IsSequence() {
		return fmt.Errorf("%w: %s (feature %s)", ErrSequenceInput, stage, fr.ID)
	}
	return nil
}
