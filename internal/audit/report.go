package audit

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report gathers every audit statistic over one sample set.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Policy      Policy    `json:"policy"`
	Samples     int       `json:"samples"`
	Audited     int       `json:"audited"`

	WithinStation    []StationDiscrepancy `json:"within_station"`
	MaxWithinStation Metric               `json:"max_within_station"`
	AcrossStation    Metric               `json:"across_station"`
	AcrossSubgroup   Metric               `json:"across_subgroup"`

	Stations  []SubgroupPrecision `json:"stations"`
	Subgroups []SubgroupPrecision `json:"subgroups"`
}

// Report computes the within-station, across-station and across-subgroup
// statistics concurrently.
func (a *Auditor) Report(ctx context.Context, samples []Sample) (*Report, error) {
	r := &Report{
		GeneratedAt: time.Now().UTC(),
		Policy:      a.policy,
		Samples:     len(samples),
		Audited:     len(a.filter(samples)),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		within, err := a.WithinStationDiscrepancy(samples)
		if err != nil {
			return err
		}
		r.WithinStation = within
		return ctx.Err()
	})
	g.Go(func() error {
		stations, err := a.SubgroupPrecision(samples, Station)
		if err != nil {
			return err
		}
		r.Stations = stations
		return ctx.Err()
	})
	g.Go(func() error {
		subgroups, err := a.SubgroupPrecision(samples, Ethnicity, Gender)
		if err != nil {
			return err
		}
		r.Subgroups = subgroups
		return ctx.Err()
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.AcrossStation = Range(precisions(r.Stations))
	r.AcrossSubgroup = Range(precisions(r.Subgroups))
	r.MaxWithinStation = maxMetric(r.WithinStation)
	return r, nil
}

func maxMetric(within []StationDiscrepancy) Metric {
	out := Undefined()
	for _, w := range within {
		d := w.Discrepancy
		if d.Defined && (!out.Defined || d.Value > out.Value) {
			out = d
		}
	}
	return out
}
