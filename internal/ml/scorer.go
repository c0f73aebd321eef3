// Package ml turns feature rows into search authorization decisions. It
// defines the Scorer contract for the frozen classification model, a
// threshold Authorizer, an in-process logistic model and an HTTP client for
// an external model server.
package ml

import (
	"context"
	"errors"
	"fmt"
	"math"

	"search-authorizer/internal/features"
)

var ErrInvalidProbability = errors.New("probability outside [0, 1]")

// Scorer returns the probability that a search described by row is
// successful.
type Scorer interface {
	Score(ctx context.Context, row features.Row) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, row features.Row) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, row features.Row) (float64, error) {
	return f(ctx, row)
}

// Authorizer thresholds scorer probabilities.
type Authorizer struct {
	threshold float64
}

// NewAuthorizer returns an Authorizer that approves probabilities strictly
// greater than threshold.
func NewAuthorizer(threshold float64) (*Authorizer, error) {
	if math.IsNaN(threshold) || threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in [0, 1), got %v", threshold)
	}
	return &Authorizer{threshold: threshold}, nil
}

func (a *Authorizer) Threshold() float64 { return a.threshold }

// Approve reports whether a search with success probability p is authorized.
func (a *Authorizer) Approve(p float64) (bool, error) {
	if err := checkProbability(p); err != nil {
		return false, err
	}
	return p > a.threshold, nil
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}
	return nil
}
