package stream

import (
	"fmt"
	"time"

	"github.com/vectormill/vectormill/pkg/temporal"
)

func init() {
	RegisterRecord("filter", newFilter)
	RegisterRecord("lag", newRecordLag)
	RegisterRecord("floor_time", newRecordFloor)
	RegisterRecord("dedupe", newRecordDedupe)
}

// mapRecords applies fn to every record in the sequence.
func mapRecords(seq Seq[temporal.Record], fn func(temporal.Record) temporal.Record) Seq[temporal.Record] {
	return func(yield func(temporal.Record, error) bool) {
		for r, err := range seq {
			if err != nil {
				yield(temporal.Record{}, err)
				return
			}
			if !yield(fn(r), nil) {
				return
			}
		}
	}
}

// recordLag shifts record timestamps backwards by a fixed duration.
type recordLag struct {
	lag time.Duration
}

func newRecordLag(params any) (RecordTransform, error) {
	var p struct {
		Lag string `mapstructure:"lag"`
	}
	if s, ok := params.(string); ok {
		p.Lag = s
	} else if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	d, err := temporal.ParseCadence(p.Lag)
	if err != nil {
		return nil, err
	}
	return &recordLag{lag: d}, nil
}

func (t *recordLag) Apply(seq Seq[temporal.Record]) Seq[temporal.Record] {
	return mapRecords(seq, func(r temporal.Record) temporal.Record {
		return r.WithTime(r.Time.Add(-t.lag))
	})
}

// recordFloor floors record timestamps to a cadence bucket.
type recordFloor struct {
	step time.Duration
}

func newRecordFloor(params any) (RecordTransform, error) {
	var p struct {
		Cadence string `mapstructure:"cadence"`
	}
	if s, ok := params.(string); ok {
		p.Cadence = s
	} else if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	d, err := temporal.ParseCadence(p.Cadence)
	if err != nil {
		return nil, err
	}
	return &recordFloor{step: d}, nil
}

func (t *recordFloor) Apply(seq Seq[temporal.Record]) Seq[temporal.Record] {
	return mapRecords(seq, func(r temporal.Record) temporal.Record {
		return r.WithTime(temporal.Floor(r.Time, t.step))
	})
}

// recordDedupe drops a record equal (time + value + attributes) to the
// immediately preceding one.
type recordDedupe struct{}

func newRecordDedupe(_ any) (RecordTransform, error) {
	return recordDedupe{}, nil
}

func (recordDedupe) Apply(seq Seq[temporal.Record]) Seq[temporal.Record] {
	return func(yield func(temporal.Record, error) bool) {
		var last *temporal.Record
		for r, err := range seq {
			if err != nil {
				yield(temporal.Record{}, err)
				return
			}
			if last != nil && r.Equal(*last) {
				continue
			}
			keep := r
			last = &keep
			if !yield(r, nil) {
				return
			}
		}
	}
}

// filterTransform keeps records matching a field/operator/value predicate.
// The field "value" tests the record value; any other field tests a
// partition attribute. Records failing the predicate are dropped.
type filterTransform struct {
	field string
	op    string
	value any
	in    map[string]struct{}
}

func newFilter(params any) (RecordTransform, error) {
	var p struct {
		Field  string `mapstructure:"field"`
		Op     string `mapstructure:"op"`
		Value  any    `mapstructure:"value"`
		Values []any  `mapstructure:"values"`
	}
	if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Field == "" {
		return nil, fmt.Errorf("%w: filter requires a field", ErrInvalidParams)
	}
	switch p.Op {
	case "eq", "ne", "gt", "lt", "gte", "lte":
		if p.Value == nil {
			return nil, fmt.Errorf("%w: filter %q requires a value", ErrInvalidParams, p.Op)
		}
	case "in":
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("%w: filter \"in\" requires values", ErrInvalidParams)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported filter operator %q", ErrInvalidParams, p.Op)
	}

	f := &filterTransform{field: p.Field, op: p.Op, value: p.Value}
	if p.Op == "in" {
		f.in = make(map[string]struct{}, len(p.Values))
		for _, v := range p.Values {
			f.in[fmt.Sprint(v)] = struct{}{}
		}
	}
	return f, nil
}

func (t *filterTransform) Apply(seq Seq[temporal.Record]) Seq[temporal.Record] {
	return func(yield func(temporal.Record, error) bool) {
		for r, err := range seq {
			if err != nil {
				yield(temporal.Record{}, err)
				return
			}
			if t.match(r) {
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

func (t *filterTransform) match(r temporal.Record) bool {
	var actual any
	if t.field == "value" {
		actual = r.Value
	} else {
		v, ok := r.Attr(t.field)
		if !ok {
			return false
		}
		actual = v
	}

	if t.op == "in" {
		_, ok := t.in[fmt.Sprint(actual)]
		return ok
	}

	af, aok := temporal.AsFloat(actual)
	ef, eok := temporal.AsFloat(t.value)
	if aok && eok {
		switch t.op {
		case "eq":
			return af == ef
		case "ne":
			return af != ef
		case "gt":
			return af > ef
		case "lt":
			return af < ef
		case "gte":
			return af >= ef
		case "lte":
			return af <= ef
		}
	}

	as, es := fmt.Sprint(actual), fmt.Sprint(t.value)
	switch t.op {
	case "eq":
		return as == es
	case "ne":
		return as != es
	case "gt":
		return as > es
	case "lt":
		return as < es
	case "gte":
		return as >= es
	case "lte":
		return as <= es
	}
	return false
}
