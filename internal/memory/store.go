package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/ids"
)

const episodeColumns = `id, timestamp, type, summary, detail, participants, topics, project_ref, task_ref,
	commitment_ref, people, importance, layer, compressed_at, version`

// candidateLimit bounds how many persisted episodes a ranked query scores.
const candidateLimit = 2000

// Options configures a Store. Only the database is required.
type Options struct {
	Config     config.MemoryConfig
	Clock      clock.Clock
	Logger     *zap.Logger
	Summarizer Summarizer
	Active     ActiveChecker
	Index      Index
	Events     events.Publisher
}

// Store is the layered memory: an in-process working set (L1), persisted
// full-detail episodes (L2), summary-only archives (L3) and semantic facts.
type Store struct {
	db         *db.DB
	cfg        config.MemoryConfig
	clock      clock.Clock
	logger     *zap.Logger
	summarizer Summarizer
	active     ActiveChecker
	index      Index
	events     events.Publisher
	working    *workingSet
}

// NewStore creates a memory store. Zero-valued config fields take the
// defaults.
func NewStore(database *db.DB, opts Options) *Store {
	cfg := opts.Config
	def := config.DefaultConfig().Memory
	if cfg.WorkingWindow <= 0 {
		cfg.WorkingWindow = def.WorkingWindow
	}
	if cfg.CompressAfter <= 0 {
		cfg.CompressAfter = def.CompressAfter
	}
	if cfg.PruneAfter <= 0 {
		cfg.PruneAfter = def.PruneAfter
	}
	if cfg.MidRetention <= 0 {
		cfg.MidRetention = def.MidRetention
	}
	if cfg.FactDecayWindow <= 0 {
		cfg.FactDecayWindow = def.FactDecayWindow
	}
	if cfg.FactDecayAmount <= 0 {
		cfg.FactDecayAmount = def.FactDecayAmount
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = def.RecencyHalfLife
	}
	summarizer := opts.Summarizer
	if summarizer == nil {
		summarizer = ExtractiveSummarizer{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         database,
		cfg:        cfg,
		clock:      clock.OrSystem(opts.Clock),
		logger:     logger,
		summarizer: summarizer,
		active:     opts.Active,
		index:      opts.Index,
		events:     events.OrNop(opts.Events),
		working:    newWorkingSet(),
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// RecordEpisode adds an episode to working memory. It is persisted to L2 by
// FlushWorking once it is older than the working window.
func (s *Store) RecordEpisode(ctx context.Context, ep Episode) (*Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ep.Type.Valid() {
		return nil, apperr.NewInvalidInput(fmt.Sprintf("unknown episode type %q", ep.Type))
	}
	ep.Summary = strings.TrimSpace(ep.Summary)
	if ep.Summary == "" {
		return nil, apperr.NewInvalidInput("episode summary is required")
	}
	if math.IsNaN(ep.Importance) || ep.Importance < 0 || ep.Importance > 1 {
		return nil, apperr.NewInvalidInput("importance must be within [0,1]")
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = s.now()
	}
	ep.Timestamp = ep.Timestamp.UTC()
	if ep.ID == "" {
		ep.ID = ids.New(ep.Timestamp)
	}
	ep.Layer = LayerWorking
	ep.CompressedAt = nil
	ep.Version = 1

	s.working.add(ep)
	s.events.Publish(events.EpisodeCreated, ep)
	return &ep, nil
}

// FlushWorking persists working-memory episodes older than the working
// window into L2. Inserting an already persisted id is a no-op, so a flush
// interrupted by a crash can simply run again.
func (s *Store) FlushWorking(ctx context.Context) (int, error) {
	return s.flush(ctx, s.now().Add(-s.cfg.WorkingWindow))
}

// FlushAll persists every working-memory episode regardless of age. It runs
// on shutdown so nothing recorded is lost.
func (s *Store) FlushAll(ctx context.Context) (int, error) {
	return s.flush(ctx, time.Time{})
}

func (s *Store) flush(ctx context.Context, cutoff time.Time) (int, error) {
	due := s.working.takeOlderThan(cutoff)
	for i, ep := range due {
		if err := ctx.Err(); err != nil {
			s.working.putBack(due[i:])
			return i, err
		}
		ep.Layer = LayerRecent
		if err := s.insertEpisode(ctx, ep); err != nil {
			s.working.putBack(due[i:])
			return i, err
		}
		s.indexEpisode(ctx, ep)
	}
	if len(due) > 0 {
		s.logger.Debug("flushed working memory", zap.Int("episodes", len(due)))
	}
	return len(due), nil
}

func (s *Store) insertEpisode(ctx context.Context, ep Episode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, timestamp, type, summary, detail, participants, topics, project_ref,
			task_ref, commitment_ref, people, importance, layer, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING`,
		ep.ID, db.Millis(ep.Timestamp), string(ep.Type), ep.Summary, db.NullString(ep.Detail),
		db.EncodeStrings(ep.Participants), db.EncodeStrings(ep.Topics), db.NullString(ep.ProjectRef),
		db.NullString(ep.TaskRef), db.NullString(ep.CommitmentRef), db.EncodeStrings(ep.People),
		ep.Importance, string(ep.Layer),
	)
	if err != nil {
		return apperr.FromStorage("inserting episode", err)
	}
	return nil
}

// indexEpisode updates the semantic index. Index failures never fail the
// write; recall falls back to scoring alone.
func (s *Store) indexEpisode(ctx context.Context, ep Episode) {
	if s.index == nil {
		return
	}
	meta := map[string]string{"type": string(ep.Type), "layer": string(ep.Layer)}
	if err := s.index.Upsert(ctx, ep.ID, ep.Summary+" "+strings.Join(ep.Topics, " "), meta); err != nil {
		s.logger.Warn("indexing episode", zap.String("episode", ep.ID), zap.Error(err))
	}
}

// GetEpisode returns an episode from any layer.
func (s *Store) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	if ep, ok := s.working.get(id); ok {
		return &ep, nil
	}
	return getEpisode(ctx, s.db, id)
}

func getEpisode(ctx context.Context, q db.Querier, id string) (*Episode, error) {
	row := q.QueryRowContext(ctx, "SELECT "+episodeColumns+" FROM episodes WHERE id = ?", id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NewEntityNotFound("episode", id)
	}
	if err != nil {
		return nil, apperr.FromStorage("getting episode", err)
	}
	return ep, nil
}

// QueryEpisodes filters episodes across all layers and returns them ranked
// by relevance to the query's topics and entities.
func (s *Store) QueryEpisodes(ctx context.Context, q EpisodeQuery) ([]ScoredEpisode, error) {
	candidates, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	ranked := Rank(candidates, q.Topics, q.Entities, s.now(), s.cfg.RecencyHalfLife)
	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	return ranked, nil
}

func (s *Store) candidates(ctx context.Context, q EpisodeQuery) ([]Episode, error) {
	layers := map[Layer]bool{}
	for _, l := range q.Layers {
		layers[l] = true
	}
	wantLayer := func(l Layer) bool { return len(layers) == 0 || layers[l] }

	var out []Episode
	if wantLayer(LayerWorking) {
		for _, ep := range s.working.snapshot() {
			if matchesFilter(ep, q) {
				out = append(out, ep)
			}
		}
	}
	if !wantLayer(LayerRecent) && !wantLayer(LayerArchive) {
		return out, nil
	}

	query := "SELECT " + episodeColumns + " FROM episodes WHERE 1=1"
	var args []any
	if len(q.Layers) > 0 {
		var persisted []string
		for _, l := range q.Layers {
			if l == LayerRecent || l == LayerArchive {
				persisted = append(persisted, string(l))
			}
		}
		query += " AND layer IN (" + placeholders(len(persisted)) + ")"
		for _, l := range persisted {
			args = append(args, l)
		}
	}
	if len(q.Types) > 0 {
		query += " AND type IN (" + placeholders(len(q.Types)) + ")"
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if q.ProjectRef != "" {
		query += " AND project_ref = ?"
		args = append(args, q.ProjectRef)
	}
	if q.TaskRef != "" {
		query += " AND task_ref = ?"
		args = append(args, q.TaskRef)
	}
	if !q.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, db.Millis(q.Since))
	}
	if !q.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, db.Millis(q.Until))
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT %d", candidateLimit)

	persisted, err := s.queryEpisodes(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return append(out, persisted...), nil
}

func matchesFilter(ep Episode, q EpisodeQuery) bool {
	if len(q.Types) > 0 {
		ok := false
		for _, t := range q.Types {
			if ep.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if q.ProjectRef != "" && ep.ProjectRef != q.ProjectRef {
		return false
	}
	if q.TaskRef != "" && ep.TaskRef != q.TaskRef {
		return false
	}
	if !q.Since.IsZero() && ep.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && ep.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// GetContext returns ranked episodes and active facts relevant to the query.
// Semantically similar episodes found by the index join the candidate set.
func (s *Store) GetContext(ctx context.Context, q ContextQuery) (*Context, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	factLimit := q.FactLimit
	if factLimit <= 0 {
		factLimit = 20
	}

	candidates, err := s.candidates(ctx, EpisodeQuery{})
	if err != nil {
		return nil, err
	}
	if extra := s.semanticCandidates(ctx, q.Text, limit, candidates); len(extra) > 0 {
		candidates = append(candidates, extra...)
	}

	topics := q.Topics
	if q.Text != "" && len(topics) == 0 {
		topics = textTerms(q.Text)
	}
	ranked := Rank(candidates, topics, q.Entities, s.now(), s.cfg.RecencyHalfLife)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	facts, err := s.relatedFacts(ctx, append(append([]string{}, topics...), q.Entities...), factLimit)
	if err != nil {
		return nil, err
	}
	return &Context{Episodes: ranked, Facts: facts}, nil
}

// textTerms splits free text into lowercase words, dropping words too short
// to say anything on their own.
func textTerms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := words[:0]
	for _, w := range words {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// semanticCandidates loads index hits that are not already candidates.
func (s *Store) semanticCandidates(ctx context.Context, text string, limit int, have []Episode) []Episode {
	if s.index == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	hits, err := s.index.Search(ctx, text, limit)
	if err != nil {
		s.logger.Warn("semantic recall", zap.Error(err))
		return nil
	}
	seen := make(map[string]bool, len(have))
	for _, ep := range have {
		seen[ep.ID] = true
	}
	var out []Episode
	for _, id := range hits {
		if seen[id] {
			continue
		}
		ep, err := s.GetEpisode(ctx, id)
		if err != nil {
			continue
		}
		seen[id] = true
		out = append(out, *ep)
	}
	return out
}

// EraseEpisode deletes an episode on explicit user request.
func (s *Store) EraseEpisode(ctx context.Context, id string) error {
	if s.working.remove(id) {
		return nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM episodes WHERE id = ?", id)
	if err != nil {
		return apperr.FromStorage("erasing episode", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.FromStorage("erasing episode", err)
	}
	if n == 0 {
		return apperr.NewEntityNotFound("episode", id)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE facts SET source_episode_ref = NULL WHERE source_episode_ref = ?", id); err != nil {
		return apperr.FromStorage("unlinking facts", err)
	}
	s.unindex(ctx, id)
	return nil
}

func (s *Store) unindex(ctx context.Context, ids ...string) {
	if s.index == nil || len(ids) == 0 {
		return
	}
	if err := s.index.Delete(ctx, ids...); err != nil {
		s.logger.Warn("removing episodes from index", zap.Int("episodes", len(ids)), zap.Error(err))
	}
}

// WorkingCount reports how many episodes are still in working memory.
func (s *Store) WorkingCount() int {
	return s.working.len()
}

func (s *Store) queryEpisodes(ctx context.Context, query string, args ...any) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.FromStorage("querying episodes", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, apperr.FromStorage("scanning episode", err)
		}
		out = append(out, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.FromStorage("iterating episodes", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row scanner) (*Episode, error) {
	var (
		ep                                         Episode
		ts                                         int64
		typ, layer                                 string
		detail, projectRef, taskRef, commitmentRef sql.NullString
		participants, topics, people               string
		compressed                                 sql.NullInt64
	)
	if err := row.Scan(&ep.ID, &ts, &typ, &ep.Summary, &detail, &participants, &topics, &projectRef,
		&taskRef, &commitmentRef, &people, &ep.Importance, &layer, &compressed, &ep.Version); err != nil {
		return nil, err
	}
	ep.Timestamp = db.FromMillis(ts)
	ep.Type = EpisodeType(typ)
	ep.Layer = Layer(layer)
	ep.Detail = detail.String
	ep.ProjectRef = projectRef.String
	ep.TaskRef = taskRef.String
	ep.CommitmentRef = commitmentRef.String
	ep.Participants = db.DecodeStrings(participants)
	ep.Topics = db.DecodeStrings(topics)
	ep.People = db.DecodeStrings(people)
	ep.CompressedAt = db.TimePtr(compressed)
	return &ep, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
