package audit

import (
	"strconv"
)

// Metric is a statistic that may be undefined, for example the precision of
// a subgroup with too few samples.
type Metric struct {
	Value   float64
	Defined bool
}

// Undefined returns a metric with no value.
func Undefined() Metric { return Metric{} }

// Defined returns a metric holding v.
func Defined(v float64) Metric { return Metric{Value: v, Defined: true} }

// String formats the value with four decimals, or "undefined".
func (m Metric) String() string {
	if !m.Defined {
		return "undefined"
	}
	return strconv.FormatFloat(m.Value, 'f', 4, 64)
}

// MarshalJSON encodes undefined metrics as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, m.Value, 'g', -1, 64), nil
}

// Range returns max - min over the defined metrics. It is undefined when
// fewer than two metrics are defined.
func Range(metrics []Metric) Metric {
	var lo, hi float64
	n := 0
	for _, m := range metrics {
		if !m.Defined {
			continue
		}
		if n == 0 || m.Value < lo {
			lo = m.Value
		}
		if n == 0 || m.Value > hi {
			hi = m.Value
		}
		n++
	}
	if n < 2 {
		return Undefined()
	}
	return Defined(hi - lo)
}
