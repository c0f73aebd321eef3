// Package search runs the authorization pipeline: an observation is turned
// into a feature row, scored, thresholded, stored and announced. Reported
// outcomes are attached to stored predictions and audited for precision
// discrepancies.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"search-authorizer/internal/audit"
	"search-authorizer/internal/features"
	"search-authorizer/internal/metrics"
	"search-authorizer/internal/ml"
	"search-authorizer/internal/storage"

	"github.com/rs/zerolog/log"
)

// Event types published by the service.
const (
	EventDecision = "decision"
	EventOutcome  = "outcome"
	EventAudit    = "audit"
)

// Store is the persistence the service needs. *storage.Store implements it.
type Store interface {
	SavePrediction(p storage.Prediction) error
	SetOutcome(id string, outcome bool) (storage.Prediction, error)
	ListResolvedIn(w storage.Window) ([]storage.Prediction, error)
	StoreFeatures(rec storage.FeatureRecord) error
	Count() (int, error)
}

// Publisher receives service events. *feed.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Decision is the answer to one authorization request.
type Decision struct {
	ObservationID string  `json:"observation_id"`
	Outcome       bool    `json:"outcome"`
	Probability   float64 `json:"probability"`
	Threshold     float64 `json:"threshold"`
	Imputed       bool    `json:"imputed"`
	Unresolved    bool    `json:"unresolved"`
}

// OutcomeEvent is published when a true outcome is reported.
type OutcomeEvent struct {
	ObservationID string `json:"observation_id"`
	Predicted     bool   `json:"predicted_outcome"`
	Actual        bool   `json:"outcome"`
}

type Config struct {
	Reconstructor *features.Reconstructor
	Scorer        ml.Scorer
	Authorizer    *ml.Authorizer
	Auditor       *audit.Auditor
	Store         Store
	Metrics       metrics.Recorder // optional
	Publisher     Publisher        // optional
}

type Service struct {
	rc      *features.Reconstructor
	scorer  ml.Scorer
	auth    *ml.Authorizer
	auditor *audit.Auditor
	store   Store
	rec     metrics.Recorder
	pub     Publisher
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// New checks that cfg names every required collaborator. Metrics and
// Publisher are optional.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Reconstructor == nil:
		return nil, errors.New("search: reconstructor is required")
	case cfg.Scorer == nil:
		return nil, errors.New("search: scorer is required")
	case cfg.Authorizer == nil:
		return nil, errors.New("search: authorizer is required")
	case cfg.Auditor == nil:
		return nil, errors.New("search: auditor is required")
	case cfg.Store == nil:
		return nil, errors.New("search: store is required")
	}

	s := &Service{
		rc:      cfg.Reconstructor,
		scorer:  cfg.Scorer,
		auth:    cfg.Authorizer,
		auditor: cfg.Auditor,
		store:   cfg.Store,
		rec:     cfg.Metrics,
		pub:     cfg.Publisher,
	}
	if s.rec == nil {
		s.rec = metrics.Nop{}
	}
	if s.pub == nil {
		s.pub = nopPublisher{}
	}
	return s, nil
}

func (s *Service) Threshold() float64 { return s.auth.Threshold() }

// Predict reconstructs, scores and thresholds obs without storing anything.
func (s *Service) Predict(ctx context.Context, obs features.Observation) (Decision, error) {
	d, _, err := s.predict(ctx, obs)
	return d, err
}

func (s *Service) predict(ctx context.Context, obs features.Observation) (Decision, features.Row, error) {
	row, err := s.rc.Build(obs)
	if err != nil {
		return Decision{}, features.Row{}, err
	}
	s.rec.Coordinates(row.Imputed(), row.Unresolved())

	start := time.Now()
	p, err := s.scorer.Score(ctx, row)
	if err != nil {
		s.rec.ScoringFailure()
		return Decision{}, features.Row{}, fmt.Errorf("score %s: %w", obs.ID, err)
	}
	approved, err := s.auth.Approve(p)
	if err != nil {
		s.rec.ScoringFailure()
		return Decision{}, features.Row{}, fmt.Errorf("score %s: %w", obs.ID, err)
	}
	s.rec.Decision(approved, p, time.Since(start))

	return Decision{
		ObservationID: obs.ID,
		Outcome:       approved,
		Probability:   p,
		Threshold:     s.auth.Threshold(),
		Imputed:       row.Imputed(),
		Unresolved:    row.Unresolved(),
	}, row, nil
}

// Score decides obs and stores the prediction. A repeated observation id
// still gets a decision, returned together with an error wrapping
// storage.ErrDuplicateObservation; the stored record is not changed.
func (s *Service) Score(ctx context.Context, obs features.Observation) (Decision, error) {
	d, row, err := s.predict(ctx, obs)
	if err != nil {
		return Decision{}, err
	}

	pred := storage.Prediction{
		ObservationID: obs.ID,
		Observation:   obs,
		Probability:   d.Probability,
		Predicted:     d.Outcome,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.SavePrediction(pred); err != nil {
		if errors.Is(err, storage.ErrDuplicateObservation) {
			s.rec.Duplicate()
			log.Warn().Str("observation_id", obs.ID).Msg("Observation already scored")
		}
		return d, err
	}

	if err := s.store.StoreFeatures(storage.NewFeatureRecord(obs.ID, row)); err != nil {
		log.Warn().Err(err).Str("observation_id", obs.ID).Msg("Failed to store feature row")
	}

	log.Debug().
		Str("observation_id", obs.ID).
		Float64("probability", d.Probability).
		Bool("outcome", d.Outcome).
		Bool("imputed", d.Imputed).
		Msg("Search decision")

	s.pub.Publish(EventDecision, d)
	return d, nil
}

// ReportOutcome attaches the true outcome of a search. Unknown ids fail with
// storage.ErrNotFound and repeated reports with storage.ErrOutcomeAlreadySet.
func (s *Service) ReportOutcome(ctx context.Context, id string, outcome bool) (storage.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return storage.Prediction{}, err
	}

	p, err := s.store.SetOutcome(id, outcome)
	if err != nil {
		return storage.Prediction{}, err
	}
	s.rec.Outcome(p.Predicted, outcome)

	log.Debug().
		Str("observation_id", id).
		Bool("predicted", p.Predicted).
		Bool("outcome", outcome).
		Msg("Outcome reported")

	s.pub.Publish(EventOutcome, OutcomeEvent{ObservationID: id, Predicted: p.Predicted, Actual: outcome})
	return p, nil
}

// Audit computes the precision audit over the resolved predictions created
// within w. A zero window audits every resolved prediction.
func (s *Service) Audit(ctx context.Context, w storage.Window) (*audit.Report, error) {
	resolved, err := s.store.ListResolvedIn(w)
	if err != nil {
		return nil, fmt.Errorf("list resolved predictions: %w", err)
	}

	rep, err := s.auditor.Report(ctx, SamplesFromPredictions(resolved))
	if err != nil {
		return nil, err
	}
	s.rec.Audit(rep)

	log.Info().
		Int("samples", rep.Samples).
		Time("from", w.From).
		Time("to", w.To).
		Stringer("across_station", rep.AcrossStation).
		Stringer("across_subgroup", rep.AcrossSubgroup).
		Msg("Audit computed")

	s.pub.Publish(EventAudit, rep)
	return rep, nil
}

// Stored returns the number of stored predictions.
func (s *Service) Stored() (int, error) {
	return s.store.Count()
}

// SamplesFromPredictions converts resolved predictions into audit samples.
// Unresolved predictions are skipped.
func SamplesFromPredictions(preds []storage.Prediction) []audit.Sample {
	out := make([]audit.Sample, 0, len(preds))
	for _, p := range preds {
		if !p.Resolved() {
			continue
		}
		out = append(out, audit.Sample{
			GroupKeys: KeysOf(p.Observation),
			Predicted: p.Predicted,
			Actual:    *p.Actual,
		})
	}
	return out
}

// KeysOf returns the audit grouping keys of obs.
func KeysOf(obs features.Observation) audit.GroupKeys {
	return audit.GroupKeys{
		Station:   obs.Station,
		Ethnicity: obs.Ethnicity,
		Gender:    obs.Gender,
	}
}
