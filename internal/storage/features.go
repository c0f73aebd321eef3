package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"search-authorizer/internal/features"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const featuresBucket = "features"

// FeatureRecord is the reconstructed feature row of a scored observation,
// kept so the model can be retrained on the exact inputs it saw.
type FeatureRecord struct {
	ObservationID string    `json:"observation_id"`
	Columns       []string  `json:"columns"`
	Values        []any     `json:"values"`
	Imputed       bool      `json:"imputed"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewFeatureRecord captures row under id.
func NewFeatureRecord(id string, row features.Row) FeatureRecord {
	return FeatureRecord{
		ObservationID: id,
		Columns:       row.Schema().Names(),
		Values:        row.Interfaces(),
		Imputed:       row.Imputed(),
		CreatedAt:     time.Now().UTC(),
	}
}

// StoreFeatures stores a feature record, replacing any earlier one with the
// same id.
func (s *Store) StoreFeatures(record FeatureRecord) error {
	if record.ObservationID == "" {
		return errors.New("feature record has no observation id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal feature record: %w", err)
		}
		return tx.Bucket([]byte(featuresBucket)).Put([]byte(record.ObservationID), data)
	})
}

// GetFeatures returns the feature record stored under id.
func (s *Store) GetFeatures(id string) (FeatureRecord, error) {
	var rec FeatureRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(featuresBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// ExportFeaturesToCSV writes the feature rows of every resolved prediction
// followed by its predicted and true outcome. Missing values are left empty.
// It returns the number of rows written.
func (s *Store) ExportFeaturesToCSV(filename string) (int, error) {
	file, err := os.Create(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	rows := 0
	var header []string

	err = s.db.View(func(tx *bbolt.Tx) error {
		preds := tx.Bucket([]byte(predictionsBucket))
		return tx.Bucket([]byte(featuresBucket)).ForEach(func(k, v []byte) error {
			data := preds.Get(k)
			if data == nil {
				return nil
			}
			var p Prediction
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("unmarshal prediction: %w", err)
			}
			if !p.Resolved() {
				return nil
			}

			var rec FeatureRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal feature record: %w", err)
			}

			if header == nil {
				header = append([]string{"observation_id"}, rec.Columns...)
				header = append(header, "predicted_outcome", "true_outcome")
				if err := writer.Write(header); err != nil {
					return err
				}
			} else if len(rec.Columns)+3 != len(header) {
				return fmt.Errorf("%w: record %s has %d columns", features.ErrSchemaMismatch, rec.ObservationID, len(rec.Columns))
			}

			record := make([]string, 0, len(header))
			record = append(record, rec.ObservationID)
			for _, val := range rec.Values {
				if val == nil {
					record = append(record, "")
					continue
				}
				record = append(record, fmt.Sprint(val))
			}
			record = append(record, strconv.FormatBool(p.Predicted), strconv.FormatBool(*p.Actual))
			rows++
			return writer.Write(record)
		})
	})
	if err != nil {
		return 0, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}

	log.Info().Str("file", filename).Int("rows", rows).Msg("Feature export written")
	return rows, nil
}
