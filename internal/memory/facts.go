package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/events"
)

const factColumns = `id, subject, predicate, object, confidence, source_episode_ref, learned_at,
	last_confirmed, decayed_at, contradicted_by, version`

const factAttempts = 3

// RecordFact stores a fact. A fact with the same subject and predicate as an
// active one supersedes it: the new record is inserted and the old record's
// contradicted_by points at it. Restating the active object reconfirms the
// existing fact instead.
func (s *Store) RecordFact(ctx context.Context, in FactInput) (*FactResult, error) {
	in.Subject = normalizeKey(in.Subject)
	in.Predicate = normalizeKey(in.Predicate)
	in.Object = strings.TrimSpace(in.Object)
	if in.Subject == "" || in.Predicate == "" || in.Object == "" {
		return nil, apperr.NewInvalidInput("fact subject, predicate and object are required")
	}
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1 {
		return nil, apperr.NewInvalidInput("confidence must be within [0,1]")
	}

	var result *FactResult
	var err error
	for attempt := 0; attempt < factAttempts; attempt++ {
		result, err = s.recordFactOnce(ctx, in)
		if !apperr.Is(err, apperr.ConflictDetected) {
			break
		}
		s.logger.Debug("fact supersede lost a race, retrying",
			zap.String("subject", in.Subject), zap.String("predicate", in.Predicate))
	}
	if err != nil {
		return nil, err
	}
	if !result.Reconfirmed {
		s.events.Publish(events.FactLearned, result)
	}
	return result, nil
}

func (s *Store) recordFactOnce(ctx context.Context, in FactInput) (*FactResult, error) {
	now := s.now()
	var result FactResult
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		active, err := queryFacts(ctx, tx, "SELECT "+factColumns+` FROM facts
			WHERE subject = ? AND predicate = ? AND contradicted_by IS NULL
			ORDER BY learned_at DESC, id`, in.Subject, in.Predicate)
		if err != nil {
			return err
		}

		if len(active) == 1 && strings.EqualFold(active[0].Object, in.Object) {
			cur := active[0]
			conf := math.Max(cur.Confidence, in.Confidence)
			if err := factCAS(ctx, tx, cur.ID, cur.Version,
				"last_confirmed = ?, confidence = ?, decayed_at = NULL", db.Millis(now), conf); err != nil {
				return err
			}
			cur.LastConfirmed, cur.Confidence, cur.DecayedAt = now, conf, nil
			cur.Version++
			result = FactResult{Fact: cur, Reconfirmed: true}
			return nil
		}

		f := Fact{
			ID:               uuid.New().String(),
			Subject:          in.Subject,
			Predicate:        in.Predicate,
			Object:           in.Object,
			Confidence:       in.Confidence,
			SourceEpisodeRef: in.SourceEpisodeRef,
			LearnedAt:        now,
			LastConfirmed:    now,
			Version:          1,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO facts (id, subject, predicate, object, confidence, source_episode_ref, learned_at,
				last_confirmed, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			f.ID, f.Subject, f.Predicate, f.Object, f.Confidence, db.NullString(f.SourceEpisodeRef),
			db.Millis(now), db.Millis(now),
		)
		if err != nil {
			return apperr.FromStorage("inserting fact", err)
		}

		// Every active predecessor is superseded. Normally there is one.
		for i := range active {
			old := active[i]
			if err := factCAS(ctx, tx, old.ID, old.Version,
				"contradicted_by = ?", f.ID); err != nil {
				return err
			}
			old.ContradictedBy = f.ID
			old.Version++
			if result.Superseded == nil {
				result.Superseded = &old
			}
		}
		result.Fact = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// factCAS updates one fact if its version is unchanged and it is still
// active.
func factCAS(ctx context.Context, q db.Querier, id string, version int, set string, args ...any) error {
	query := fmt.Sprintf(`UPDATE facts SET %s, version = version + 1
		WHERE id = ? AND version = ? AND contradicted_by IS NULL`, set)
	res, err := q.ExecContext(ctx, query, append(args, id, version)...)
	if err != nil {
		return apperr.FromStorage("updating fact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.FromStorage("updating fact", err)
	}
	if n == 0 {
		return apperr.NewConflict("fact", id)
	}
	return nil
}

// GetFact returns a fact by id whether or not it is still active.
func (s *Store) GetFact(ctx context.Context, id string) (*Fact, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+factColumns+" FROM facts WHERE id = ?", id)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewEntityNotFound("fact", id)
	}
	if err != nil {
		return nil, apperr.FromStorage("getting fact", err)
	}
	return f, nil
}

// QueryFacts returns active facts only. Empty arguments match anything.
func (s *Store) QueryFacts(ctx context.Context, subject, predicate string) ([]Fact, error) {
	query := "SELECT " + factColumns + " FROM facts WHERE contradicted_by IS NULL"
	var args []any
	if subject = normalizeKey(subject); subject != "" {
		query += " AND subject = ?"
		args = append(args, subject)
	}
	if predicate = normalizeKey(predicate); predicate != "" {
		query += " AND predicate = ?"
		args = append(args, predicate)
	}
	query += " ORDER BY last_confirmed DESC, id"
	return queryFacts(ctx, s.db, query, args...)
}

// FactHistory returns every version of a subject/predicate pair, oldest
// first, including superseded records.
func (s *Store) FactHistory(ctx context.Context, subject, predicate string) ([]Fact, error) {
	return queryFacts(ctx, s.db, "SELECT "+factColumns+` FROM facts
		WHERE subject = ? AND predicate = ? ORDER BY learned_at, id`,
		normalizeKey(subject), normalizeKey(predicate))
}

// relatedFacts returns active facts whose subject or object mentions any of
// the terms.
func (s *Store) relatedFacts(ctx context.Context, terms []string, limit int) ([]Fact, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	all, err := s.QueryFacts(ctx, "", "")
	if err != nil {
		return nil, err
	}
	var out []Fact
	for _, f := range all {
		subject, object := strings.ToLower(f.Subject), strings.ToLower(f.Object)
		for _, t := range terms {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" && (strings.Contains(subject, t) || strings.Contains(object, t)) {
				out = append(out, f)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// DecayFacts lowers the confidence of active facts not reconfirmed within the
// decay window, at most once per window, never below zero. A fact that
// changes concurrently is skipped until the next run.
func (s *Store) DecayFacts(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := db.Millis(now.Add(-s.cfg.FactDecayWindow))
	stale, err := queryFacts(ctx, s.db, "SELECT "+factColumns+` FROM facts
		WHERE contradicted_by IS NULL AND last_confirmed <= ?
		AND (decayed_at IS NULL OR decayed_at <= ?)`, cutoff, cutoff)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, f := range stale {
		if err := ctx.Err(); err != nil {
			return decayed, err
		}
		conf := math.Max(0, f.Confidence-s.cfg.FactDecayAmount)
		err := factCAS(ctx, s.db, f.ID, f.Version, "confidence = ?, decayed_at = ?", conf, db.Millis(now))
		if apperr.Is(err, apperr.ConflictDetected) {
			continue
		}
		if err != nil {
			return decayed, err
		}
		decayed++
	}
	if decayed > 0 {
		s.logger.Info("decayed unconfirmed facts", zap.Int("facts", decayed))
	}
	return decayed, nil
}

func queryFacts(ctx context.Context, q db.Querier, query string, args ...any) ([]Fact, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.FromStorage("querying facts", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, apperr.FromStorage("scanning fact", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromStorage("iterating facts", err)
	}
	return out, nil
}

func scanFact(row scanner) (*Fact, error) {
	var (
		f                    Fact
		source, contradicted sql.NullString
		learned, confirmed   int64
		decayed              sql.NullInt64
	)
	if err := row.Scan(&f.ID, &f.Subject, &f.Predicate, &f.Object, &f.Confidence, &source, &learned,
		&confirmed, &decayed, &contradicted, &f.Version); err != nil {
		return nil, err
	}
	f.SourceEpisodeRef = source.String
	f.LearnedAt = db.FromMillis(learned)
	f.LastConfirmed = db.FromMillis(confirmed)
	f.DecayedAt = db.TimePtr(decayed)
	f.ContradictedBy = contradicted.String
	return &f, nil
}

// normalizeKey lowercases subjects and predicates so "User.Mom" and
// "user.mom" name the same thing.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
