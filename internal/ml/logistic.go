package ml

import (
	"context"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"

	"search-authorizer/internal/features"

	"gopkg.in/yaml.v3"
)

// LogisticModel is a frozen logistic regression exported from training.
// Weights apply to numeric and boolean columns; Levels hold the one-hot
// coefficient of each category level.
type LogisticModel struct {
	Version   string                        `yaml:"version"`
	Intercept float64                       `yaml:"intercept"`
	Weights   map[string]float64            `yaml:"weights"`
	Levels    map[string]map[string]float64 `yaml:"levels"`
}

// LoadLogisticModel reads a LogisticModel from a YAML file.
func LoadLogisticModel(path string) (LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LogisticModel{}, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var m LogisticModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return LogisticModel{}, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// LogisticScorer scores rows in-process with a LogisticModel. Terms are
// summed in column name order so equal rows always give equal scores.
type LogisticScorer struct {
	model       LogisticModel
	weightNames []string
	levelNames  []string
}

// NewLogisticScorer checks that every coefficient refers to a schema column
// of a compatible dtype.
func NewLogisticScorer(model LogisticModel, schema features.Schema) (*LogisticScorer, error) {
	cols := make(map[string]features.DType, schema.Len())
	for _, c := range schema.Columns() {
		cols[c.Name] = c.DType
	}

	for name := range model.Weights {
		dt, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: weight for unknown column %s", features.ErrSchemaMismatch, name)
		}
		if dt != features.DTypeFloat && dt != features.DTypeInt && dt != features.DTypeBool {
			return nil, fmt.Errorf("%w: weight for non-numeric column %s (%s)", features.ErrSchemaMismatch, name, dt)
		}
	}
	for name := range model.Levels {
		dt, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: levels for unknown column %s", features.ErrSchemaMismatch, name)
		}
		if dt != features.DTypeCategory && dt != features.DTypeString {
			return nil, fmt.Errorf("%w: levels for non-categorical column %s (%s)", features.ErrSchemaMismatch, name, dt)
		}
	}

	return &LogisticScorer{
		model:       model,
		weightNames: slices.Sorted(maps.Keys(model.Weights)),
		levelNames:  slices.Sorted(maps.Keys(model.Levels)),
	}, nil
}

// Version returns the model version, empty when the file carries none.
func (s *LogisticScorer) Version() string { return s.model.Version }

// Score implements Scorer. Missing values contribute nothing to the logit,
// as do category levels the model has no coefficient for.
func (s *LogisticScorer) Score(_ context.Context, row features.Row) (float64, error) {
	z := s.model.Intercept

	for _, name := range s.weightNames {
		w := s.model.Weights[name]
		v, ok := row.Get(name)
		if !ok {
			return 0, fmt.Errorf("%w: row has no column %s", features.ErrSchemaMismatch, name)
		}
		if x, ok := v.Number(); ok {
			z += w * x
		}
	}

	for _, name := range s.levelNames {
		v, ok := row.Get(name)
		if !ok {
			return 0, fmt.Errorf("%w: row has no column %s", features.ErrSchemaMismatch, name)
		}
		if v.Valid {
			z += s.model.Levels[name][v.Str]
		}
	}

	p := sigmoid(z)
	if math.IsNaN(p) {
		return 0, fmt.Errorf("%w: logit %v", ErrInvalidProbability, z)
	}
	return p, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
