package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"search-authorizer/internal/audit"
	"search-authorizer/internal/cfg"
	"search-authorizer/internal/dataset"
	"search-authorizer/internal/features"
	"search-authorizer/internal/ml"
	"search-authorizer/internal/search"
	"search-authorizer/internal/storage"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type options struct {
	input           string
	storePath       string
	outputPath      string
	modelPath       string
	scorerURL       string
	threshold       float64
	minSample       int
	excludedGenders string
	from            string
	to              string
}

func main() {
	var (
		opts     options
		logLevel string
	)
	flag.StringVar(&opts.input, "input", "", "CSV or JSON file of searches with true_outcome")
	flag.StringVar(&opts.storePath, "store", "", "Audit resolved predictions in this data directory instead of a file")
	flag.StringVar(&opts.outputPath, "output", "", "Output directory for reports")
	flag.StringVar(&opts.modelPath, "model", "", "Model file used for records without predicted_outcome (overrides config)")
	flag.StringVar(&opts.scorerURL, "scorer-url", "", "Remote scorer used for records without predicted_outcome (overrides config)")
	flag.Float64Var(&opts.threshold, "threshold", -1, "Authorization threshold (overrides config)")
	flag.IntVar(&opts.minSample, "min-sample", 0, "Minimum subgroup size (overrides config)")
	flag.StringVar(&opts.excludedGenders, "exclude-genders", "-", "Comma-separated genders left out of the audit (overrides config)")
	flag.StringVar(&opts.from, "from", "", "With -store: audit predictions created at or after this RFC3339 time or YYYY-MM-DD date")
	flag.StringVar(&opts.to, "to", "", "With -store: audit predictions created at or before this RFC3339 time or YYYY-MM-DD date")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if (opts.input == "") == (opts.storePath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -input or -store is required")
		flag.Usage()
		os.Exit(2)
	}
	if opts.input != "" && (opts.from != "" || opts.to != "") {
		fmt.Fprintln(os.Stderr, "-from and -to apply to -store only")
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}
	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	applyOverrides(&config, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, config, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Audit failed")
	}

	reporter := audit.NewReporter(report, opts.outputPath)
	if opts.outputPath != "" {
		if err := reporter.GenerateReport(); err != nil {
			log.Error().Err(err).Msg("Failed to generate reports")
		}
	}
	if err := reporter.WriteSummary(os.Stdout); err != nil {
		log.Error().Err(err).Msg("Failed to print summary")
	}

	log.Info().
		Str("output", opts.outputPath).
		Int("samples", report.Samples).
		Msg("Audit completed successfully")
}

func applyOverrides(c *cfg.Settings, opts options) {
	if opts.modelPath != "" {
		c.ModelPath = opts.modelPath
	}
	if opts.scorerURL != "" {
		c.ScorerURL = opts.scorerURL
	}
	if opts.threshold >= 0 {
		c.ProbThreshold = opts.threshold
	}
	if opts.minSample > 0 {
		c.AuditMinSample = opts.minSample
	}
	if opts.excludedGenders != "-" {
		c.ExcludedGenders = parseList(opts.excludedGenders)
	}
}

func run(ctx context.Context, c cfg.Settings, opts options) (*audit.Report, error) {
	auditor, err := audit.NewAuditor(c.AuditPolicy())
	if err != nil {
		return nil, err
	}

	loader := dataset.NewLoader()
	if opts.storePath != "" {
		window, err := parseWindow(opts.from, opts.to)
		if err != nil {
			return nil, err
		}
		store, err := storage.New(opts.storePath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if err := loader.LoadFromStore(store, window); err != nil {
			return nil, err
		}
	} else if err := loader.Load(opts.input); err != nil {
		return nil, err
	}

	records := loader.Records()
	if missing := loader.Unpredicted(); missing > 0 {
		log.Info().Int("records", missing).Msg("Scoring records without predicted outcome")

		svc, cleanup, err := newPredictor(c, auditor)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		var failed int
		records, failed, err = dataset.FillPredictions(ctx, records, svc)
		if err != nil {
			return nil, err
		}
		if failed > 0 {
			log.Warn().Int("records", failed).Msg("Records dropped because they could not be scored")
		}
	}

	samples, err := dataset.Samples(records)
	if err != nil {
		return nil, err
	}
	return auditor.Report(ctx, samples)
}

// newPredictor builds a search service backed by a scratch store. Predict
// never writes to it.
func newPredictor(c cfg.Settings, auditor *audit.Auditor) (*search.Service, func(), error) {
	rc, err := features.LoadReconstructor(c.SchemaPath, c.StationsPath, c.GridCell)
	if err != nil {
		return nil, nil, err
	}
	scorer, err := newScorer(c, rc.Schema())
	if err != nil {
		return nil, nil, err
	}
	authorizer, err := ml.NewAuthorizer(c.ProbThreshold)
	if err != nil {
		return nil, nil, err
	}

	dir, err := os.MkdirTemp("", "search-audit-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scratch store: %w", err)
	}
	store, err := storage.New(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}
	cleanup := func() {
		store.Close()
		os.RemoveAll(dir)
	}

	svc, err := search.New(search.Config{
		Reconstructor: rc,
		Scorer:        scorer,
		Authorizer:    authorizer,
		Auditor:       auditor,
		Store:         store,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func newScorer(c cfg.Settings, schema features.Schema) (ml.Scorer, error) {
	if c.ScorerURL != "" {
		return ml.NewRemoteScorer(c.ScorerURL, c.ScorerTimeout), nil
	}
	model, err := ml.LoadLogisticModel(c.ModelPath)
	if err != nil {
		return nil, err
	}
	return ml.NewLogisticScorer(model, schema)
}

func parseWindow(from, to string) (storage.Window, error) {
	start, err := storage.ParseTimeBound(from, false)
	if err != nil {
		return storage.Window{}, fmt.Errorf("-from: %w", err)
	}
	end, err := storage.ParseTimeBound(to, true)
	if err != nil {
		return storage.Window{}, fmt.Errorf("-to: %w", err)
	}
	return storage.NewWindow(start, end)
}

// parseList parses a comma-separated list
func parseList(s string) []string {
	result := []string{}
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}
