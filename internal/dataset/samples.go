package dataset

import (
	"context"
	"fmt"

	"search-authorizer/internal/audit"
	"search-authorizer/internal/features"
	"search-authorizer/internal/search"

	"github.com/rs/zerolog/log"
)

// Predictor decides observations without recording them.
type Predictor interface {
	Predict(ctx context.Context, obs features.Observation) (search.Decision, error)
}

// FillPredictions runs p over every record without a predicted outcome.
// Records that cannot be scored are dropped and counted.
func FillPredictions(ctx context.Context, records []Record, p Predictor) ([]Record, int, error) {
	out := make([]Record, 0, len(records))
	failed := 0
	for _, r := range records {
		if r.Predicted != nil {
			out = append(out, r)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, failed, err
		}

		d, err := p.Predict(ctx, r.Observation)
		if err != nil {
			log.Warn().Err(err).Str("observation_id", r.Observation.ID).Msg("Failed to score record")
			failed++
			continue
		}
		outcome := d.Outcome
		r.Predicted = &outcome
		out = append(out, r)
	}
	return out, failed, nil
}

// Samples converts fully predicted records to audit samples.
func Samples(records []Record) ([]audit.Sample, error) {
	samples := make([]audit.Sample, len(records))
	for i, r := range records {
		if r.Predicted == nil {
			return nil, fmt.Errorf("record %s has no predicted outcome", r.Observation.ID)
		}
		samples[i] = audit.Sample{
			GroupKeys: search.KeysOf(r.Observation),
			Predicted: *r.Predicted,
			Actual:    r.Actual,
		}
	}
	return samples, nil
}
