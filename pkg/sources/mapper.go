package sources

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vectormill/vectormill/pkg/config"
	"github.com/vectormill/vectormill/pkg/temporal"
)

// RecordMapper maps decoded rows onto temporal records using the field
// bindings of a stream spec. Rows without a parseable timestamp are
// rejected rather than failing the run.
type RecordMapper struct {
	timeField  string
	timeLayout string
	valueField string
	attrFields []string
}

// NewMapper builds a mapper from a stream spec's field bindings.
func NewMapper(spec config.Mapper) *RecordMapper {
	layout := spec.TimeLayout
	if layout == "" {
		layout = time.RFC3339
	}
	return &RecordMapper{
		timeField:  spec.TimeField,
		timeLayout: layout,
		valueField: spec.ValueField,
		attrFields: spec.AttrFields,
	}
}

// Map implements Mapper.
func (m *RecordMapper) Map(row Row) (temporal.Record, bool, error) {
	ts, ok := m.parseTime(row[m.timeField])
	if !ok {
		return temporal.Record{}, false, nil
	}

	var attrs map[string]string
	for _, field := range m.attrFields {
		value, present := row[field]
		if !present {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string, len(m.attrFields))
		}
		attrs[field] = fmt.Sprint(value)
	}

	record, err := temporal.NewRecord(ts, parseValue(row[m.valueField]))
	if err != nil {
		return temporal.Record{}, false, nil
	}
	record.Attrs = attrs
	return record, true, nil
}

func (m *RecordMapper) parseTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case string:
		if ts, err := time.Parse(m.timeLayout, v); err == nil {
			return ts, true
		}
		return time.Time{}, false
	case time.Time:
		return v, true
	case float64:
		// JSON numbers arrive as float64; treat them as unix seconds.
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec), true
	case int64:
		return time.Unix(v, 0), true
	}
	return time.Time{}, false
}

// parseValue keeps numeric values numeric: CSV fields arrive as strings, so
// anything that parses as a float becomes one.
func parseValue(raw any) any {
	if s, ok := raw.(string); ok {
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
	}
	return raw
}
