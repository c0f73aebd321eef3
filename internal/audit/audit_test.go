package audit

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// group returns n samples for one partition with predPos positive
// predictions of which tp were successful searches.
func group(station, ethnicity, gender string, n, predPos, tp int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{
			GroupKeys: GroupKeys{Station: station, Ethnicity: ethnicity, Gender: gender},
			Predicted: i < predPos,
			Actual:    i < tp,
		}
	}
	return out
}

// syntheticTable has 3 stations x 2 ethnicities x 2 genders with 30 samples
// each and 10 positive predictions per subgroup.
func syntheticTable() []Sample {
	var out []Sample
	stations := []string{"avon", "kent", "surrey"}
	ethnicities := []string{"Asian", "White"}
	genders := []string{"Female", "Male"}
	for s, st := range stations {
		for e, eth := range ethnicities {
			for g, gen := range genders {
				tp := 3 + s + 2*e + g
				out = append(out, group(st, eth, gen, 30, 10, tp)...)
			}
		}
	}
	return out
}

func newAuditor(t *testing.T) *Auditor {
	t.Helper()
	a, err := NewAuditor(DefaultPolicy())
	require.NoError(t, err)
	return a
}

func TestNewSamples(t *testing.T) {
	keys := []GroupKeys{{Station: "kent", Ethnicity: "White", Gender: "Male"}, {Station: "avon"}}
	samples, err := NewSamples([]bool{true, false}, []bool{false, false}, keys)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, samples[0].Predicted)
	assert.False(t, samples[0].Actual)
	assert.Equal(t, "kent", samples[0].Station)

	_, err = NewSamples([]bool{true}, []bool{true, false}, keys)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewSamples([]bool{true, false}, []bool{true, false}, keys[:1])
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestNewAuditorRejectsZeroFloor(t *testing.T) {
	_, err := NewAuditor(Policy{MinSample: 0})
	assert.Error(t, err)
}

func TestSubgroupPrecisionCounts(t *testing.T) {
	a := newAuditor(t)

	res, err := a.SubgroupPrecision(group("kent", "White", "Male", 40, 20, 12), Station)
	require.NoError(t, err)
	require.Len(t, res, 1)

	sp := res[0]
	assert.Equal(t, []string{"kent"}, sp.Values)
	assert.Equal(t, 40, sp.Count)
	assert.Equal(t, 12, sp.TruePositives)
	assert.Equal(t, 8, sp.FalsePositives)
	require.True(t, sp.Precision.Defined)
	assert.InDelta(t, 0.6, sp.Precision.Value, 1e-12)
}

func TestSubgroupPrecisionFloor(t *testing.T) {
	a := newAuditor(t)

	samples := append(group("avon", "White", "Male", 29, 10, 5), group("kent", "White", "Male", 30, 10, 5)...)
	res, err := a.SubgroupPrecision(samples, Station)
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.Equal(t, "avon", res[0].Key())
	assert.False(t, res[0].Precision.Defined, "29 records is below the floor")
	assert.Equal(t, 29, res[0].Count)

	assert.Equal(t, "kent", res[1].Key())
	assert.True(t, res[1].Precision.Defined)
	assert.InDelta(t, 0.5, res[1].Precision.Value, 1e-12)
}

func TestSubgroupPrecisionNoPositivePredictions(t *testing.T) {
	a := newAuditor(t)

	res, err := a.SubgroupPrecision(group("kent", "White", "Male", 50, 0, 0), Station)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.False(t, res[0].Precision.Defined)
}

func TestSubgroupPrecisionErrors(t *testing.T) {
	a := newAuditor(t)

	_, err := a.SubgroupPrecision(syntheticTable())
	assert.ErrorIs(t, err, ErrNoGrouping)

	_, err = a.SubgroupPrecision(syntheticTable(), Variable("age"))
	assert.ErrorIs(t, err, ErrUnknownVariable)
}

func TestSubgroupPrecisionOrdering(t *testing.T) {
	a := newAuditor(t)

	res, err := a.SubgroupPrecision(syntheticTable(), Ethnicity, Gender)
	require.NoError(t, err)

	var keys []string
	for _, r := range res {
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{"Asian/Female", "Asian/Male", "White/Female", "White/Male"}, keys)
}

func TestSyntheticSubgroupPrecisions(t *testing.T) {
	a := newAuditor(t)

	res, err := a.SubgroupPrecision(syntheticTable(), Station, Ethnicity, Gender)
	require.NoError(t, err)

	// Hand-computed: 10 positive predictions per subgroup, tp = 3+s+2e+g.
	want := map[string]float64{
		"avon/Asian/Female":   0.3,
		"avon/Asian/Male":     0.4,
		"avon/White/Female":   0.5,
		"avon/White/Male":     0.6,
		"kent/Asian/Female":   0.4,
		"kent/Asian/Male":     0.5,
		"kent/White/Female":   0.6,
		"kent/White/Male":     0.7,
		"surrey/Asian/Female": 0.5,
		"surrey/Asian/Male":   0.6,
		"surrey/White/Female": 0.7,
		"surrey/White/Male":   0.8,
	}
	require.Len(t, res, len(want))
	for _, r := range res {
		expected, ok := want[r.Key()]
		require.True(t, ok, "unexpected subgroup %s", r.Key())
		assert.Equal(t, 30, r.Count, r.Key())
		assert.Equal(t, 10, r.TruePositives+r.FalsePositives, r.Key())
		require.True(t, r.Precision.Defined, r.Key())
		assert.InDelta(t, expected, r.Precision.Value, 1e-12, r.Key())
	}

	stations, err := a.SubgroupPrecision(syntheticTable(), Station)
	require.NoError(t, err)
	require.Len(t, stations, 3)
	for i, want := range []float64{0.45, 0.55, 0.65} {
		assert.InDelta(t, want, stations[i].Precision.Value, 1e-12, stations[i].Key())
	}
}

func TestSyntheticDiscrepancies(t *testing.T) {
	a := newAuditor(t)
	samples := syntheticTable()

	within, err := a.WithinStationDiscrepancy(samples)
	require.NoError(t, err)
	require.Len(t, within, 3)
	for _, w := range within {
		assert.Equal(t, 4, w.DefinedSubgroups, w.Station)
		require.True(t, w.Discrepancy.Defined, w.Station)
		assert.InDelta(t, 0.3, w.Discrepancy.Value, 1e-9, w.Station)
	}
	assert.Equal(t, "avon", within[0].Station)
	assert.Equal(t, []string{"Asian", "Female"}, within[0].Subgroups[0].Values)

	across, err := a.AcrossStationDiscrepancy(samples)
	require.NoError(t, err)
	require.True(t, across.Defined)
	assert.InDelta(t, 0.2, across.Value, 1e-9)

	subgroups, err := a.AcrossSubgroupDiscrepancy(samples)
	require.NoError(t, err)
	require.True(t, subgroups.Defined)
	assert.InDelta(t, 0.3, subgroups.Value, 1e-9)
}

func TestWithinStationIgnoresUndefinedSubgroups(t *testing.T) {
	a := newAuditor(t)

	var samples []Sample
	samples = append(samples, group("kent", "Asian", "Female", 30, 10, 5)...)
	samples = append(samples, group("kent", "Asian", "Male", 30, 10, 3)...)
	samples = append(samples, group("kent", "Black", "Female", 30, 0, 0)...)
	samples = append(samples, group("kent", "Black", "Male", 30, 10, 7)...)

	within, err := a.WithinStationDiscrepancy(samples)
	require.NoError(t, err)
	require.Len(t, within, 1)

	assert.Equal(t, 3, within[0].DefinedSubgroups)
	require.True(t, within[0].Discrepancy.Defined)
	assert.InDelta(t, 0.4, within[0].Discrepancy.Value, 1e-9)
}

func TestDiscrepancyNeedsTwoDefinedGroups(t *testing.T) {
	a := newAuditor(t)

	var samples []Sample
	samples = append(samples, group("kent", "Asian", "Female", 30, 10, 5)...)
	samples = append(samples, group("kent", "Asian", "Male", 10, 10, 3)...)

	within, err := a.WithinStationDiscrepancy(samples)
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, 1, within[0].DefinedSubgroups)
	assert.False(t, within[0].Discrepancy.Defined)

	across, err := a.AcrossStationDiscrepancy(samples)
	require.NoError(t, err)
	assert.False(t, across.Defined)
}

func TestExcludedGenders(t *testing.T) {
	samples := syntheticTable()
	samples = append(samples, group("kent", "White", "Other", 60, 60, 0)...)

	a := newAuditor(t)
	within, err := a.WithinStationDiscrepancy(samples)
	require.NoError(t, err)
	for _, w := range within {
		for _, sg := range w.Subgroups {
			assert.NotEqual(t, "Other", sg.Values[1])
		}
		assert.InDelta(t, 0.3, w.Discrepancy.Value, 1e-9)
	}

	across, err := a.AcrossSubgroupDiscrepancy(samples)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, across.Value, 1e-9)

	inclusive, err := NewAuditor(Policy{MinSample: 30})
	require.NoError(t, err)
	across, err = inclusive.AcrossSubgroupDiscrepancy(samples)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, across.Value, 1e-9, "Other subgroup has precision 0")
}

func TestRange(t *testing.T) {
	tests := []struct {
		name    string
		in      []Metric
		want    float64
		defined bool
	}{
		{"empty", nil, 0, false},
		{"single", []Metric{Defined(0.4)}, 0, false},
		{"all undefined", []Metric{Undefined(), Undefined()}, 0, false},
		{"mixed", []Metric{Defined(0.5), Defined(0.3), Undefined(), Defined(0.7)}, 0.4, true},
		{"equal", []Metric{Defined(0.5), Defined(0.5)}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Range(tt.in)
			if got.Defined != tt.defined {
				t.Fatalf("Range(%v).Defined = %v, want %v", tt.in, got.Defined, tt.defined)
			}
			if tt.defined && (got.Value-tt.want > 1e-12 || tt.want-got.Value > 1e-12) {
				t.Errorf("Range(%v) = %v, want %v", tt.in, got.Value, tt.want)
			}
		})
	}
}

func TestMetricJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Metric `json:"a"`
		B Metric `json:"b"`
	}{Defined(0.25), Undefined()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0.25,"b":null}`, string(data))
}

func TestReport(t *testing.T) {
	a := newAuditor(t)
	samples := append(syntheticTable(), group("kent", "White", "Other", 5, 1, 1)...)

	rep, err := a.Report(context.Background(), samples)
	require.NoError(t, err)

	assert.Equal(t, 365, rep.Samples)
	assert.Equal(t, 360, rep.Audited)
	assert.Len(t, rep.WithinStation, 3)
	assert.Len(t, rep.Stations, 3)
	assert.Len(t, rep.Subgroups, 4)
	assert.InDelta(t, 0.2, rep.AcrossStation.Value, 1e-9)
	assert.InDelta(t, 0.3, rep.AcrossSubgroup.Value, 1e-9)
	assert.InDelta(t, 0.3, rep.MaxWithinStation.Value, 1e-9)
}

func TestReportCancelled(t *testing.T) {
	a := newAuditor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Report(ctx, syntheticTable())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportEmpty(t *testing.T) {
	a := newAuditor(t)

	rep, err := a.Report(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, rep.Samples)
	assert.False(t, rep.AcrossStation.Defined)
	assert.False(t, rep.AcrossSubgroup.Defined)
	assert.False(t, rep.MaxWithinStation.Defined)
}
