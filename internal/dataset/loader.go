// Package dataset loads historical searches with known outcomes for offline
// audits.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"search-authorizer/internal/features"
	"search-authorizer/internal/storage"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Column names beyond the request fields.
const (
	ColTrueOutcome      = "true_outcome"
	ColPredictedOutcome = "predicted_outcome"

	// Raw police data carries the outcome as two columns instead.
	colRawOutcome = "Outcome"
	colRawLinked  = "Outcome linked to object of search"
)

// noFurtherAction is the raw outcome that never counts as a successful search.
const noFurtherAction = "A no further action disposal"

var ErrNoOutcome = errors.New("dataset has no outcome column")

// Record is one search with its true outcome. Predicted is nil when the
// dataset carries no decision for it.
type Record struct {
	Observation features.Observation
	Actual      bool
	Predicted   *bool
}

// Loader accumulates records from one or more sources.
type Loader struct {
	records []Record
	seen    map[string]struct{}
	skipped int
}

func NewLoader() *Loader {
	return &Loader{seen: make(map[string]struct{})}
}

// Records returns the loaded records ordered by date then id.
func (l *Loader) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Loader) Len() int { return len(l.records) }

// Skipped returns how many input rows were dropped as unusable.
func (l *Loader) Skipped() int { return l.skipped }

// Unpredicted returns how many records have no predicted outcome.
func (l *Loader) Unpredicted() int {
	n := 0
	for _, r := range l.records {
		if r.Predicted == nil {
			n++
		}
	}
	return n
}

func (l *Loader) add(r Record) {
	if r.Observation.ID != "" {
		if _, dup := l.seen[r.Observation.ID]; dup {
			log.Warn().Str("observation_id", r.Observation.ID).Msg("Skipping duplicate observation")
			l.skipped++
			return
		}
		l.seen[r.Observation.ID] = struct{}{}
	}
	l.records = append(l.records, r)
}

func (l *Loader) sort() {
	sort.SliceStable(l.records, func(i, j int) bool {
		a, b := l.records[i].Observation, l.records[j].Observation
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.ID < b.ID
	})
}

// LoadFromStore loads the predictions in store that have a true outcome and
// were created within w.
func (l *Loader) LoadFromStore(store *storage.Store, w storage.Window) error {
	preds, err := store.ListResolvedIn(w)
	if err != nil {
		return fmt.Errorf("failed to load resolved predictions: %w", err)
	}

	for _, p := range preds {
		predicted := p.Predicted
		l.add(Record{
			Observation: p.Observation,
			Actual:      *p.Actual,
			Predicted:   &predicted,
		})
	}
	l.sort()

	log.Info().
		Int("records", len(preds)).
		Time("from", w.From).
		Time("to", w.To).
		Msg("Predictions loaded from store")
	return nil
}

// LoadFromCSV loads a CSV file whose header names the request fields plus
// true_outcome and optionally predicted_outcome. Files without true_outcome
// may carry the raw Outcome and "Outcome linked to object of search"
// columns, from which success is derived.
func (l *Loader) LoadFromCSV(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	n, err := l.readCSV(file)
	if err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	l.sort()

	log.Info().
		Str("file", filePath).
		Int("records", n).
		Int("skipped", l.skipped).
		Msg("CSV data loaded successfully")
	return nil
}

func (l *Loader) readCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, col := range header {
		indices[strings.TrimSpace(col)] = i
	}

	_, hasTruth := indices[ColTrueOutcome]
	_, hasRaw := indices[colRawOutcome]
	if !hasTruth && !hasRaw {
		return 0, ErrNoOutcome
	}

	loaded := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return loaded, fmt.Errorf("line %d: %w", line, err)
		}

		get := func(col string) string {
			if i, ok := indices[col]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		rec, err := parseRecord(get, hasTruth)
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Skipping CSV row")
			l.skipped++
			continue
		}
		if rec.Observation.ID == "" {
			rec.Observation.ID = "row-" + strconv.Itoa(line)
		}
		l.add(rec)
		loaded++
	}
	return loaded, nil
}

func parseRecord(get func(string) string, hasTruth bool) (Record, error) {
	obs := features.Observation{
		ID:             get("observation_id"),
		Type:           get("Type"),
		Date:           get("Date"),
		Gender:         get("Gender"),
		AgeRange:       get("Age range"),
		Ethnicity:      get("Officer-defined ethnicity"),
		Legislation:    get("Legislation"),
		ObjectOfSearch: get("Object of search"),
		Station:        get("station"),
	}
	if obs.Date == "" {
		return Record{}, errors.New("missing Date")
	}

	var err error
	if obs.Operation, err = optionalBool(get("Part of a policing operation")); err != nil {
		return Record{}, fmt.Errorf("Part of a policing operation: %w", err)
	}
	if obs.Latitude, err = optionalFloat(get("Latitude")); err != nil {
		return Record{}, fmt.Errorf("Latitude: %w", err)
	}
	if obs.Longitude, err = optionalFloat(get("Longitude")); err != nil {
		return Record{}, fmt.Errorf("Longitude: %w", err)
	}

	rec := Record{Observation: obs}
	if hasTruth {
		actual, err := optionalBool(get(ColTrueOutcome))
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", ColTrueOutcome, err)
		}
		if actual == nil {
			return Record{}, fmt.Errorf("missing %s", ColTrueOutcome)
		}
		rec.Actual = *actual
	} else {
		linked, err := optionalBool(get(colRawLinked))
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", colRawLinked, err)
		}
		rec.Actual = Success(get(colRawOutcome), linked)
	}

	if rec.Predicted, err = optionalBool(get(ColPredictedOutcome)); err != nil {
		return Record{}, fmt.Errorf("%s: %w", ColPredictedOutcome, err)
	}
	return rec, nil
}

// Success derives the true outcome from raw police data: the search led to
// some action and the outcome was linked to its object.
func Success(outcome string, linked *bool) bool {
	return outcome != "" && outcome != noFurtherAction && linked != nil && *linked
}

type jsonRecord struct {
	features.Observation
	TrueOutcome      *bool `json:"true_outcome"`
	PredictedOutcome *bool `json:"predicted_outcome"`
}

// LoadFromJSON loads a JSON array of request bodies extended with
// true_outcome and optionally predicted_outcome.
func (l *Loader) LoadFromJSON(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}

	var rows []jsonRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}

	loaded := 0
	for i, row := range rows {
		if row.TrueOutcome == nil {
			log.Warn().Int("index", i).Str("observation_id", row.ID).Msg("Skipping record without true outcome")
			l.skipped++
			continue
		}
		if row.ID == "" {
			row.ID = "row-" + strconv.Itoa(i)
		}
		l.add(Record{
			Observation: row.Observation,
			Actual:      *row.TrueOutcome,
			Predicted:   row.PredictedOutcome,
		})
		loaded++
	}
	l.sort()

	log.Info().
		Str("file", filePath).
		Int("records", loaded).
		Msg("JSON data loaded successfully")
	return nil
}

// Load picks the reader by file extension.
func (l *Loader) Load(filePath string) error {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".csv":
		return l.LoadFromCSV(filePath)
	case ".json":
		return l.LoadFromJSON(filePath)
	}
	return fmt.Errorf("unsupported dataset format: %s", filePath)
}

func optionalBool(s string) (*bool, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return nil, nil
	case "true", "1", "1.0", "yes":
		v := true
		return &v, nil
	case "false", "0", "0.0", "no":
		v := false
		return &v, nil
	}
	return nil, fmt.Errorf("invalid boolean %q", s)
}

func optionalFloat(s string) (*float64, error) {
	switch strings.ToLower(s) {
	case "", "nan", "null", "none":
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return &f, nil
}
