package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"search-authorizer/internal/api"
	"search-authorizer/internal/audit"
	"search-authorizer/internal/cfg"
	"search-authorizer/internal/features"
	"search-authorizer/internal/feed"
	"search-authorizer/internal/metrics"
	"search-authorizer/internal/ml"
	"search-authorizer/internal/search"
	"search-authorizer/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	level, _ := zerolog.ParseLevel(c.LogLevel)
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, c cfg.Settings) error {
	reconstructor, err := initializeFeatures(c)
	if err != nil {
		return err
	}
	scorer, err := initializeScorer(c, reconstructor.Schema())
	if err != nil {
		return err
	}
	authorizer, err := ml.NewAuthorizer(c.ProbThreshold)
	if err != nil {
		return err
	}
	auditor, err := audit.NewAuditor(c.AuditPolicy())
	if err != nil {
		return err
	}

	store, err := storage.New(c.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	m := metrics.New()
	hub := feed.NewHub(c.StreamPing, m.StreamClientsChanged)
	defer hub.Close()

	svc, err := search.New(search.Config{
		Reconstructor: reconstructor,
		Scorer:        scorer,
		Authorizer:    authorizer,
		Auditor:       auditor,
		Store:         store,
		Metrics:       m,
		Publisher:     hub,
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(svc, m), api.Routes{
		Metrics: promhttp.Handler(),
		Stream:  hub,
	})
	server := api.NewServer(c.ListenAddr(), router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", server.Addr).
			Float64("threshold", authorizer.Threshold()).
			Int("min_sample", c.AuditMinSample).
			Strs("excluded_genders", c.ExcludedGenders).
			Msg("search authorization server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully...")
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
			return server.Close()
		}
		return nil
	})

	return g.Wait()
}

// initializeFeatures builds the reconstructor from the configured schema and
// station table, falling back to the built-in ones.
func initializeFeatures(c cfg.Settings) (*features.Reconstructor, error) {
	rc, err := features.LoadReconstructor(c.SchemaPath, c.StationsPath, c.GridCell)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("columns", rc.Schema().Len()).
		Int("stations", rc.Stations()).
		Msg("feature reconstruction ready")
	return rc, nil
}

// initializeScorer prefers the remote model server when one is configured.
func initializeScorer(c cfg.Settings, schema features.Schema) (ml.Scorer, error) {
	if c.ScorerURL != "" {
		log.Info().Str("url", c.ScorerURL).Dur("timeout", c.ScorerTimeout).Msg("using remote scorer")
		return ml.NewRemoteScorer(c.ScorerURL, c.ScorerTimeout), nil
	}

	model, err := ml.LoadLogisticModel(c.ModelPath)
	if err != nil {
		return nil, err
	}
	scorer, err := ml.NewLogisticScorer(model, schema)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", c.ModelPath).Str("version", scorer.Version()).Msg("using local logistic model")
	return scorer, nil
}
