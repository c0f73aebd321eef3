package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"search-authorizer/internal/dataset"
	"search-authorizer/internal/features"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		output        = flag.String("output", "data/synthetic.csv", "Output CSV file")
		records       = flag.Int("records", 5000, "Number of searches to generate")
		days          = flag.Int("days", 180, "Number of days of data to generate")
		stations      = flag.String("stations", "", "Comma-separated stations (default: every known station)")
		seed          = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
		baseRate      = flag.Float64("base-rate", 0.25, "Success rate of the first station")
		skew          = flag.Float64("station-skew", 0.01, "Success rate added per further station")
		missingCoords = flag.Float64("missing-coords", 0.2, "Fraction of searches without coordinates")
	)
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	table := features.DefaultStationTable()
	names := table.Stations()
	if *stations != "" {
		names = strings.Split(*stations, ",")
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	opts := dataset.GenerateOptions{
		Records:       *records,
		Start:         end.AddDate(0, 0, -*days),
		End:           end,
		Stations:      names,
		Seed:          *seed,
		BaseRate:      *baseRate,
		StationSkew:   *skew,
		MissingCoords: *missingCoords,
	}

	data, err := dataset.Generate(opts, table)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate data")
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output file")
	}
	if err := dataset.WriteCSV(f, data); err != nil {
		f.Close()
		log.Fatal().Err(err).Msg("Failed to write CSV")
	}
	if err := f.Close(); err != nil {
		log.Fatal().Err(err).Msg("Failed to close output file")
	}

	fmt.Printf("Generated %d searches across %d stations into %s (seed %d)\n", len(data), len(names), *output, *seed)
}
