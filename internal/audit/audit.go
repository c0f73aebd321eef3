// Package audit measures how the precision of search authorizations varies
// across stations and demographic subgroups.
//
// Precision answers "when the model authorized a search, how often was it
// successful". The auditor computes it per subgroup and reports the range
// (max - min) across subgroups as the discrepancy.
package audit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrLengthMismatch  = errors.New("predictions, truths and keys differ in length")
	ErrNoGrouping      = errors.New("at least one grouping variable is required")
	ErrUnknownVariable = errors.New("unknown grouping variable")
)

// Variable names a grouping dimension.
type Variable string

const (
	Station   Variable = "station"
	Ethnicity Variable = "ethnicity"
	Gender    Variable = "gender"
)

// GroupKeys are the grouping attributes of one observation.
type GroupKeys struct {
	Station   string `json:"station"`
	Ethnicity string `json:"ethnicity"`
	Gender    string `json:"gender"`
}

func (k GroupKeys) value(v Variable) (string, error) {
	switch v {
	case Station:
		return k.Station, nil
	case Ethnicity:
		return k.Ethnicity, nil
	case Gender:
		return k.Gender, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariable, v)
}

// Sample pairs a predicted and an observed outcome with the grouping keys of
// the observation. true means authorize / successful search.
type Sample struct {
	GroupKeys
	Predicted bool `json:"predicted"`
	Actual    bool `json:"actual"`
}

// NewSamples zips parallel prediction, truth and key slices.
func NewSamples(preds, truths []bool, keys []GroupKeys) ([]Sample, error) {
	if len(preds) != len(truths) || len(preds) != len(keys) {
		return nil, fmt.Errorf("%w: %d predictions, %d truths, %d keys", ErrLengthMismatch, len(preds), len(truths), len(keys))
	}
	out := make([]Sample, len(preds))
	for i := range preds {
		out[i] = Sample{GroupKeys: keys[i], Predicted: preds[i], Actual: truths[i]}
	}
	return out, nil
}

// Policy holds the statistical floor and exclusion rules of an audit.
type Policy struct {
	// MinSample is the smallest partition whose precision is reported.
	MinSample int `json:"min_sample"`
	// ExcludedGenders are dropped before partitioning.
	ExcludedGenders []string `json:"excluded_genders"`
}

func DefaultPolicy() Policy {
	return Policy{MinSample: 30, ExcludedGenders: []string{"Other"}}
}

// Auditor computes subgroup precisions and discrepancies under a Policy.
type Auditor struct {
	policy   Policy
	excluded map[string]struct{}
}

// NewAuditor returns an Auditor for p. It fails when p.MinSample is below 1.
func NewAuditor(p Policy) (*Auditor, error) {
	if p.MinSample < 1 {
		return nil, fmt.Errorf("min sample must be at least 1, got %d", p.MinSample)
	}
	excluded := make(map[string]struct{}, len(p.ExcludedGenders))
	for _, g := range p.ExcludedGenders {
		excluded[g] = struct{}{}
	}
	return &Auditor{policy: p, excluded: excluded}, nil
}

func (a *Auditor) Policy() Policy { return a.policy }

// SubgroupPrecision is the precision of one partition.
type SubgroupPrecision struct {
	// Values holds the partition's value for each grouping variable, in
	// the order the variables were given.
	Values         []string `json:"values"`
	Count          int      `json:"count"`
	TruePositives  int      `json:"true_positives"`
	FalsePositives int      `json:"false_positives"`
	Precision      Metric   `json:"precision"`
}

// Key joins the partition values with "/".
func (s SubgroupPrecision) Key() string { return strings.Join(s.Values, "/") }

// filter drops samples whose gender is excluded by the policy.
func (a *Auditor) filter(samples []Sample) []Sample {
	if len(a.excluded) == 0 {
		return samples
	}
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if _, skip := a.excluded[s.Gender]; skip {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SubgroupPrecision partitions samples by the Cartesian product of vars
// and computes TP / (TP + FP) in each partition. A partition's precision is
// undefined when it holds fewer than MinSample samples or no positive
// predictions. Results are ordered by partition values.
func (a *Auditor) SubgroupPrecision(samples []Sample, vars ...Variable) ([]SubgroupPrecision, error) {
	if len(vars) == 0 {
		return nil, ErrNoGrouping
	}

	type counts struct {
		values    []string
		n, tp, fp int
	}
	groups := make(map[string]*counts)

	for _, s := range a.filter(samples) {
		values := make([]string, len(vars))
		for i, v := range vars {
			val, err := s.value(v)
			if err != nil {
				return nil, err
			}
			values[i] = val
		}

		key := strings.Join(values, "\x1f")
		c, ok := groups[key]
		if !ok {
			c = &counts{values: values}
			groups[key] = c
		}
		c.n++
		if s.Predicted {
			if s.Actual {
				c.tp++
			} else {
				c.fp++
			}
		}
	}

	out := make([]SubgroupPrecision, 0, len(groups))
	for _, c := range groups {
		sp := SubgroupPrecision{
			Values:         c.values,
			Count:          c.n,
			TruePositives:  c.tp,
			FalsePositives: c.fp,
		}
		if c.n >= a.policy.MinSample && c.tp+c.fp > 0 {
			sp.Precision = Defined(float64(c.tp) / float64(c.tp+c.fp))
		}
		out = append(out, sp)
	}

	sort.Slice(out, func(i, j int) bool {
		return lessValues(out[i].Values, out[j].Values)
	})
	return out, nil
}

func lessValues(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// StationDiscrepancy is the precision range across the ethnicity x gender
// subgroups of one station.
type StationDiscrepancy struct {
	Station          string              `json:"station"`
	Discrepancy      Metric              `json:"discrepancy"`
	DefinedSubgroups int                 `json:"defined_subgroups"`
	Subgroups        []SubgroupPrecision `json:"subgroups"`
}

// WithinStationDiscrepancy returns one discrepancy per station, ordered by
// station. Undefined subgroups are ignored; a station with fewer than two
// defined subgroups has an undefined discrepancy.
func (a *Auditor) WithinStationDiscrepancy(samples []Sample) ([]StationDiscrepancy, error) {
	subgroups, err := a.SubgroupPrecision(samples, Station, Ethnicity, Gender)
	if err != nil {
		return nil, err
	}

	var out []StationDiscrepancy
	for _, sg := range subgroups {
		station := sg.Values[0]
		if len(out) == 0 || out[len(out)-1].Station != station {
			out = append(out, StationDiscrepancy{Station: station})
		}
		cur := &out[len(out)-1]
		cur.Subgroups = append(cur.Subgroups, SubgroupPrecision{
			Values:         sg.Values[1:],
			Count:          sg.Count,
			TruePositives:  sg.TruePositives,
			FalsePositives: sg.FalsePositives,
			Precision:      sg.Precision,
		})
		if sg.Precision.Defined {
			cur.DefinedSubgroups++
		}
	}

	for i := range out {
		out[i].Discrepancy = Range(precisions(out[i].Subgroups))
	}
	return out, nil
}

// AcrossStationDiscrepancy is the precision range across stations.
func (a *Auditor) AcrossStationDiscrepancy(samples []Sample) (Metric, error) {
	stations, err := a.SubgroupPrecision(samples, Station)
	if err != nil {
		return Undefined(), err
	}
	return Range(precisions(stations)), nil
}

// AcrossSubgroupDiscrepancy is the precision range across ethnicity x gender
// subgroups pooled over all stations.
func (a *Auditor) AcrossSubgroupDiscrepancy(samples []Sample) (Metric, error) {
	subgroups, err := a.SubgroupPrecision(samples, Ethnicity, Gender)
	if err != nil {
		return Undefined(), err
	}
	return Range(precisions(subgroups)), nil
}

func precisions(sg []SubgroupPrecision) []Metric {
	out := make([]Metric, len(sg))
	for i, s := range sg {
		out[i] = s.Precision
	}
	return out
}
