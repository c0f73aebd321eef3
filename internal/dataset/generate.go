package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"time"

	"search-authorizer/internal/common"
	"search-authorizer/internal/features"
)

var (
	legislations = []string{
		"Misuse of Drugs Act 1971 (section 23)",
		"Police and Criminal Evidence Act 1984 (section 1)",
		"Criminal Justice and Public Order Act 1994 (section 60)",
		"Firearms Act 1968 (section 47)",
	}
	searchObjects = []string{
		"Controlled drugs",
		"Stolen goods",
		"Offensive weapons",
		"Article for use in theft",
		"Anything to threaten or harm anyone",
	}
)

// GenerateOptions shapes a synthetic dataset.
type GenerateOptions struct {
	Records  int
	Start    time.Time
	End      time.Time
	Stations []string
	Seed     uint64

	// BaseRate is the success rate of the first station. Each further
	// station adds StationSkew, clamped to [0, 1].
	BaseRate    float64
	StationSkew float64

	// MissingCoords is the fraction of records without coordinates.
	MissingCoords float64
}

// Generate builds a reproducible synthetic dataset. Coordinates, when
// present, are jittered around the station means in table.
func Generate(opts GenerateOptions, table features.StationTable) ([]Record, error) {
	switch {
	case opts.Records < 1:
		return nil, errors.New("records must be positive")
	case len(opts.Stations) == 0:
		return nil, errors.New("at least one station is required")
	case !opts.End.After(opts.Start):
		return nil, errors.New("end must be after start")
	case opts.MissingCoords < 0 || opts.MissingCoords > 1:
		return nil, fmt.Errorf("missing coordinate fraction %v not in [0, 1]", opts.MissingCoords)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	span := opts.End.Sub(opts.Start)

	records := make([]Record, opts.Records)
	for i := range records {
		s := rng.IntN(len(opts.Stations))
		station := opts.Stations[s]

		obs := features.Observation{
			ID:             fmt.Sprintf("synthetic-%06d", i),
			Type:           pick(rng, common.SearchTypes),
			Date:           opts.Start.Add(time.Duration(rng.Int64N(int64(span)))).UTC().Format(time.RFC3339),
			Gender:         pick(rng, common.Genders),
			AgeRange:       pick(rng, common.AgeRanges),
			Ethnicity:      pick(rng, common.Ethnicities),
			Legislation:    pick(rng, legislations),
			ObjectOfSearch: pick(rng, searchObjects),
			Station:        station,
		}
		if rng.Float64() < 0.8 {
			op := rng.Float64() < 0.1
			obs.Operation = &op
		}
		if mean, ok := table.Lookup(station); ok && rng.Float64() >= opts.MissingCoords {
			lat := mean.Lat + rng.NormFloat64()*0.05
			long := mean.Long + rng.NormFloat64()*0.05
			obs.Latitude, obs.Longitude = &lat, &long
		}

		rate := min(max(opts.BaseRate+float64(s)*opts.StationSkew, 0), 1)
		records[i] = Record{
			Observation: obs,
			Actual:      rng.Float64() < rate,
		}
	}
	return records, nil
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

var csvHeader = []string{
	"observation_id", "Type", "Date", "Part of a policing operation",
	"Latitude", "Longitude", "Gender", "Age range",
	"Officer-defined ethnicity", "Legislation", "Object of search", "station",
	ColTrueOutcome, ColPredictedOutcome,
}

// WriteCSV writes records in the layout LoadFromCSV reads.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range records {
		obs := r.Observation
		row := []string{
			obs.ID, obs.Type, obs.Date, formatBool(obs.Operation),
			formatFloat(obs.Latitude), formatFloat(obs.Longitude), obs.Gender, obs.AgeRange,
			obs.Ethnicity, obs.Legislation, obs.ObjectOfSearch, obs.Station,
			strconv.FormatBool(r.Actual), formatBool(r.Predicted),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
