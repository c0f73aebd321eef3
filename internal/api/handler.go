// Package api exposes the search authorization service over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"search-authorizer/internal/audit"
	"search-authorizer/internal/features"
	"search-authorizer/internal/metrics"
	"search-authorizer/internal/ml"
	"search-authorizer/internal/search"
	"search-authorizer/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Service is the search service as seen by the handlers.
type Service interface {
	Score(ctx context.Context, obs features.Observation) (search.Decision, error)
	ReportOutcome(ctx context.Context, id string, outcome bool) (storage.Prediction, error)
	Audit(ctx context.Context, w storage.Window) (*audit.Report, error)
	Stored() (int, error)
}

// searchRequest is the body of POST /should_search/.
type searchRequest struct {
	ObservationID  string   `json:"observation_id" validate:"required"`
	Type           string   `json:"Type" validate:"oneof='Person search' 'Person and Vehicle search' 'Vehicle search'"`
	Date           string   `json:"Date" validate:"required"`
	Operation      *bool    `json:"Part of a policing operation"`
	Latitude       *float64 `json:"Latitude" validate:"omitempty,gte=48,lt=59"`
	Longitude      *float64 `json:"Longitude" validate:"omitempty,gte=-10,lt=3"`
	Gender         string   `json:"Gender" validate:"oneof=Male Female Other"`
	AgeRange       string   `json:"Age range" validate:"oneof='under 10' 10-17 18-24 25-34 'over 34'"`
	Ethnicity      string   `json:"Officer-defined ethnicity" validate:"oneof=White Black Asian Other Mixed"`
	Legislation    string   `json:"Legislation"`
	ObjectOfSearch string   `json:"Object of search"`
	Station        string   `json:"station"`
}

var searchColumns = []string{
	"observation_id", "Type", "Date", "Part of a policing operation",
	"Latitude", "Longitude", "Gender", "Age range",
	"Officer-defined ethnicity", "Legislation", "Object of search", "station",
}

func (r searchRequest) observation() features.Observation {
	return features.Observation{
		ID:             r.ObservationID,
		Type:           r.Type,
		Date:           r.Date,
		Operation:      r.Operation,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Gender:         r.Gender,
		AgeRange:       r.AgeRange,
		Ethnicity:      r.Ethnicity,
		Legislation:    r.Legislation,
		ObjectOfSearch: r.ObjectOfSearch,
		Station:        r.Station,
	}
}

type searchResponse struct {
	Outcome bool   `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// resultRequest is the body of POST /search_result/.
type resultRequest struct {
	ObservationID string `json:"observation_id" validate:"required"`
	Outcome       *bool  `json:"outcome" validate:"required"`
}

var resultColumns = []string{"observation_id", "outcome"}

type resultResponse struct {
	ObservationID    string `json:"observation_id"`
	Outcome          bool   `json:"outcome"`
	PredictedOutcome bool   `json:"predicted_outcome"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Predictions int    `json:"predictions"`
}

// Handler wires the search endpoints to the service.
type Handler struct {
	service Service
	metrics metrics.Recorder
}

// NewHandler returns a Handler over service. A nil rec records nothing.
func NewHandler(service Service, rec metrics.Recorder) *Handler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Handler{service: service, metrics: rec}
}

// Register mounts the search endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/should_search", h.HandleShouldSearch)
	r.Post("/should_search/", h.HandleShouldSearch)
	r.Post("/search_result", h.HandleSearchResult)
	r.Post("/search_result/", h.HandleSearchResult)
	r.Get("/audit", h.HandleAudit)
	r.Get("/health", h.HandleHealth)
}

// HandleShouldSearch decides whether a search should be authorized.
func (h *Handler) HandleShouldSearch(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if reqErr := decodeStrict(body, searchColumns, &req); reqErr != nil {
		h.reject(w, reqErr)
		return
	}

	d, err := h.service.Score(r.Context(), req.observation())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, searchResponse{Outcome: d.Outcome})
	case errors.Is(err, storage.ErrDuplicateObservation):
		writeJSON(w, http.StatusConflict, searchResponse{
			Outcome: d.Outcome,
			Error:   "observation id " + req.ObservationID + " already exists",
		})
	case errors.Is(err, features.ErrInvalidTimestamp):
		h.reject(w, newRequestError("Date", "invalid value provided for \"Date\": %q", req.Date))
	default:
		h.fail(w, r, err)
	}
}

// HandleSearchResult records the true outcome of a search.
func (h *Handler) HandleSearchResult(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req resultRequest
	if reqErr := decodeStrict(body, resultColumns, &req); reqErr != nil {
		h.reject(w, reqErr)
		return
	}

	p, err := h.service.ReportOutcome(r.Context(), req.ObservationID, *req.Outcome)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resultResponse{
			ObservationID:    p.ObservationID,
			Outcome:          *p.Actual,
			PredictedOutcome: p.Predicted,
		})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, RequestError{
			Field:   "observation_id",
			Message: "observation id " + req.ObservationID + " does not exist",
		})
	case errors.Is(err, storage.ErrOutcomeAlreadySet):
		writeJSON(w, http.StatusConflict, RequestError{
			Field:   "observation_id",
			Message: "outcome for observation id " + req.ObservationID + " was already reported",
		})
	default:
		h.fail(w, r, err)
	}
}

// HandleAudit returns the precision audit over resolved predictions. The
// optional from and to query parameters bound the prediction creation time.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	window, reqErr := parseWindow(r)
	if reqErr != nil {
		h.reject(w, reqErr)
		return
	}

	rep, err := h.service.Audit(r.Context(), window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parseWindow(r *http.Request) (storage.Window, *RequestError) {
	q := r.URL.Query()
	from, err := storage.ParseTimeBound(q.Get("from"), false)
	if err != nil {
		return storage.Window{}, newRequestError("from", "invalid value provided for \"from\": %q", q.Get("from"))
	}
	to, err := storage.ParseTimeBound(q.Get("to"), true)
	if err != nil {
		return storage.Window{}, newRequestError("to", "invalid value provided for \"to\": %q", q.Get("to"))
	}
	window, err := storage.NewWindow(from, to)
	if err != nil {
		return storage.Window{}, newRequestError("from", "\"from\" must not be after \"to\"")
	}
	return window, nil
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Stored()
	if err != nil {
		log.Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Predictions: n})
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.reject(w, newRequestError("", "failed to read request body: %v", err))
		return nil, false
	}
	return body, true
}

func (h *Handler) reject(w http.ResponseWriter, reqErr *RequestError) {
	h.metrics.ValidationFailure(reqErr.Label())
	writeJSON(w, http.StatusBadRequest, reqErr)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ml.ErrScorerUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ml.ErrInvalidProbability):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	log.Error().
		Err(err).
		Str("request_id", RequestID(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("Request failed")
	writeJSON(w, status, RequestError{Message: http.StatusText(status)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}
