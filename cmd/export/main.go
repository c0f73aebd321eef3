package main

import (
	"flag"
	"os"

	"search-authorizer/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exports the feature rows of every resolved prediction, with predicted and
// true outcomes, as a CSV training set.
func main() {
	var (
		dataPath   = flag.String("data", "data", "Data directory holding predictions.db")
		outputPath = flag.String("output", "data/training_data.csv", "Output CSV file path")
	)
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	n, err := store.ExportFeaturesToCSV(*outputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to export features")
	}
	if n == 0 {
		log.Warn().Msg("No resolved predictions found")
	}

	log.Info().
		Str("output", *outputPath).
		Int("records", n).
		Msg("Export completed")
}
