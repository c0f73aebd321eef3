package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"search-authorizer/internal/features"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var ErrScorerUnavailable = errors.New("scoring service unavailable")

// RemoteScorer calls an external model server that hosts the trained
// pipeline. The request carries the schema column names and the row values;
// the server answers with the positive-class probability.
type RemoteScorer struct {
	url  string
	rest *resty.Client
}

type scoreRequest struct {
	Columns []string `json:"columns"`
	Row     []any    `json:"row"`
}

type scoreResponse struct {
	Probability *float64 `json:"probability"`
	Error       string   `json:"error,omitempty"`
}

func NewRemoteScorer(url string, timeout time.Duration) *RemoteScorer {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.JSONMarshal = json.Marshal
	r.JSONUnmarshal = json.Unmarshal
	r.SetHeader("Content-Type", "application/json")
	return &RemoteScorer{url: url, rest: r}
}

func (s *RemoteScorer) Score(ctx context.Context, row features.Row) (float64, error) {
	req := scoreRequest{
		Columns: row.Schema().Names(),
		Row:     row.Interfaces(),
	}

	var out scoreResponse
	resp, err := s.rest.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post(s.url)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}

	if resp.IsError() {
		log.Error().
			Int("status", resp.StatusCode()).
			Str("scorer_error", out.Error).
			Str("url", s.url).
			Msg("Scoring service returned error")
		return 0, fmt.Errorf("%w: status %d %s", ErrScorerUnavailable, resp.StatusCode(), out.Error)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("scoring service error: %s", out.Error)
	}
	if out.Probability == nil {
		return 0, fmt.Errorf("%w: response has no probability", ErrInvalidProbability)
	}
	if err := checkProbability(*out.Probability); err != nil {
		return 0, err
	}

	log.Debug().
		Float64("probability", *out.Probability).
		Msg("Remote scoring successful")

	return *out.Probability, nil
}
