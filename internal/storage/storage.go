// Package storage keeps scored observations and their reported outcomes.
// It uses BoltDB as the underlying storage engine.
//
// A prediction is written once when an observation is scored. Its true
// outcome may be attached exactly once afterwards. Records are never
// deleted.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"search-authorizer/internal/features"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"
)

const (
	predictionsBucket = "predictions" // observation id -> Prediction
	timelineBucket    = "timeline"    // created_at nanos + id -> observation id
)

var (
	ErrDuplicateObservation = errors.New("observation already scored")
	ErrNotFound             = errors.New("observation not found")
	ErrOutcomeAlreadySet    = errors.New("outcome already reported")
)

// Prediction is the stored result of scoring one observation.
type Prediction struct {
	ObservationID string               `json:"observation_id"`
	Observation   features.Observation `json:"observation"`
	Probability   float64              `json:"probability"`
	Predicted     bool                 `json:"predicted_outcome"`
	Actual        *bool                `json:"true_outcome,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ResolvedAt    *time.Time           `json:"resolved_at,omitempty"`
}

// Resolved reports whether the true outcome is known.
func (p Prediction) Resolved() bool { return p.Actual != nil }

// Store provides persistent storage for predictions using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and makes sure every
// bucket exists. dataPath is created when missing.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, "predictions.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{predictionsBucket, timelineBucket, featuresBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SavePrediction stores p. An existing record with the same id is left
// untouched and ErrDuplicateObservation is returned.
func (s *Store) SavePrediction(p Prediction) error {
	if p.ObservationID == "" {
		return errors.New("prediction has no observation id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		key := []byte(p.ObservationID)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateObservation, p.ObservationID)
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		return tx.Bucket([]byte(timelineBucket)).Put(timelineKey(p.CreatedAt, p.ObservationID), key)
	})
}

// SetOutcome attaches the true outcome to a stored prediction and returns
// the updated record.
func (s *Store) SetOutcome(id string, outcome bool) (Prediction, error) {
	var p Prediction
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("unmarshal prediction: %w", err)
		}
		if p.Resolved() {
			return fmt.Errorf("%w: %s", ErrOutcomeAlreadySet, id)
		}

		now := time.Now().UTC()
		p.Actual = &outcome
		p.ResolvedAt = &now

		updated, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return Prediction{}, err
	}
	return p, nil
}

// GetPrediction returns the record stored under id.
func (s *Store) GetPrediction(id string) (Prediction, error) {
	var p Prediction
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(predictionsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &p)
	})
	return p, err
}

// ListResolved returns every prediction with a known outcome, ordered by
// observation id.
func (s *Store) ListResolved() ([]Prediction, error) {
	var out []Prediction
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(predictionsBucket)).ForEach(func(_, v []byte) error {
			var p Prediction
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshal prediction: %w", err)
			}
			if p.Resolved() {
				out = append(out, p)
			}
			return nil
		})
	})
	return out, err
}

// ListBetween returns the predictions created within [start, end], ordered
// by creation time. A zero start or end leaves that side open.
func (s *Store) ListBetween(start, end time.Time) ([]Prediction, error) {
	var out []Prediction
	err := s.db.View(func(tx *bbolt.Tx) error {
		preds := tx.Bucket([]byte(predictionsBucket))
		c := tx.Bucket([]byte(timelineBucket)).Cursor()

		var endKey []byte
		if !end.IsZero() {
			endKey = timelineKey(end.Add(time.Nanosecond), "")
		}

		k, id := c.First()
		if !start.IsZero() {
			k, id = c.Seek(timelineKey(start, ""))
		}
		for ; k != nil && (endKey == nil || bytes.Compare(k, endKey) < 0); k, id = c.Next() {
			data := preds.Get(id)
			if data == nil {
				continue
			}
			var p Prediction
			if err := json.Unmarshal(data, &p); err != nil {
				continue // Skip malformed records
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// ListResolvedIn returns the resolved predictions created within w. A zero
// window lists every resolved prediction ordered by observation id,
// otherwise records are ordered by creation time.
func (s *Store) ListResolvedIn(w Window) ([]Prediction, error) {
	if w.IsZero() {
		return s.ListResolved()
	}

	preds, err := s.ListBetween(w.From, w.To)
	if err != nil {
		return nil, err
	}
	out := preds[:0]
	for _, p := range preds {
		if p.Resolved() {
			out = append(out, p)
		}
	}
	return out, nil
}

// Count returns the number of stored predictions.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// timelineKey sorts by creation time. Zero-padding keeps the byte order equal
// to the numeric order for times after 1970.
func timelineKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", ts.UnixNano(), id))
}
