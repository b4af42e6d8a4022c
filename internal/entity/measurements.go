package entity

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/db"
)

const measurementColumns = `id, project_ref, label, value, unit, timestamp, supersedes`

// RecordMeasurement stores a new reading. The latest reading with the same
// project and label is superseded, never overwritten.
func (s *Store) RecordMeasurement(ctx context.Context, m Measurement) (*Measurement, error) {
	m.Label = strings.TrimSpace(m.Label)
	if m.Label == "" {
		return nil, apperr.NewInvalidInput("measurement label is required")
	}
	if m.ProjectRef == "" {
		return nil, apperr.NewInvalidInput("measurement project_ref is required")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.Timestamp = m.Timestamp.UTC()

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := exists(ctx, tx, "projects", m.ProjectRef)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NewEntityNotFound(string(KindProject), m.ProjectRef)
		}

		var prior string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM measurements
			WHERE project_ref = ? AND label = ?
			  AND id NOT IN (SELECT supersedes FROM measurements WHERE supersedes IS NOT NULL)
			ORDER BY timestamp DESC LIMIT 1`, m.ProjectRef, m.Label).Scan(&prior)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return storageErr("finding prior measurement", err)
		}
		m.Supersedes = prior

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO measurements (id, project_ref, label, value, unit, timestamp, supersedes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ProjectRef, m.Label, m.Value, m.Unit, db.Millis(m.Timestamp), db.NullString(m.Supersedes),
		); err != nil {
			return storageErr("inserting measurement", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET last_touched = ?, version = version + 1 WHERE id = ?`,
			db.Millis(s.now()), m.ProjectRef); err != nil {
			return storageErr("touching project", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LatestMeasurements returns the current (unsuperseded) reading for every
// label on a project.
func (s *Store) LatestMeasurements(ctx context.Context, projectRef string) ([]Measurement, error) {
	return s.queryMeasurements(ctx, `
		SELECT `+measurementColumns+` FROM measurements
		WHERE project_ref = ?
		  AND id NOT IN (SELECT supersedes FROM measurements WHERE supersedes IS NOT NULL)
		ORDER BY label`, projectRef)
}

// MeasurementHistory returns every reading for a label, oldest first.
func (s *Store) MeasurementHistory(ctx context.Context, projectRef, label string) ([]Measurement, error) {
	return s.queryMeasurements(ctx, `
		SELECT `+measurementColumns+` FROM measurements
		WHERE project_ref = ? AND label = ?
		ORDER BY timestamp, id`, projectRef, label)
}

func (s *Store) queryMeasurements(ctx context.Context, query string, args ...any) ([]Measurement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("querying measurements", err)
	}
	defer rows.Close()

	var result []Measurement
	for rows.Next() {
		var (
			m          Measurement
			ts         int64
			supersedes sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ProjectRef, &m.Label, &m.Value, &m.Unit, &ts, &supersedes); err != nil {
			return nil, storageErr("scanning measurement", err)
		}
		m.Timestamp = db.FromMillis(ts)
		m.Supersedes = supersedes.String
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating measurements", err)
	}
	return result, nil
}
