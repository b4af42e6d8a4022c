package memory

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/db"
)

// Importance bands for pruning.
const (
	keepForeverAbove = 0.7
	keepMidAtLeast   = 0.3
)

// CompressOld moves L2 episodes older than the compression window to L3:
// the summary is regenerated and the detail discarded. The update is a
// compare-and-set guarded on layer = 'L2', so an episode is compressed at
// most once even if the job is re-run after a crash. A summarizer failure
// skips the episode until the next run.
func (s *Store) CompressOld(ctx context.Context) (CompressResult, error) {
	var res CompressResult
	cutoff := s.now().Add(-s.cfg.CompressAfter)
	due, err := s.queryEpisodes(ctx, "SELECT "+episodeColumns+` FROM episodes
		WHERE layer = 'L2' AND timestamp < ? ORDER BY timestamp, id`, db.Millis(cutoff))
	if err != nil {
		return res, err
	}

	for _, ep := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// The inference round trip happens outside any transaction.
		summary, err := s.summarizer.Summarize(ctx, ep)
		if err != nil || strings.TrimSpace(summary) == "" {
			res.Failed++
			s.logger.Warn("summarizing episode, will retry next cycle",
				zap.String("episode", ep.ID), zap.Error(err))
			continue
		}

		now := s.now()
		r, err := s.db.ExecContext(ctx, `
			UPDATE episodes SET layer = 'L3', summary = ?, detail = NULL, compressed_at = ?, version = version + 1
			WHERE id = ? AND version = ? AND layer = 'L2'`,
			strings.TrimSpace(summary), db.Millis(now), ep.ID, ep.Version)
		if err != nil {
			return res, apperr.FromStorage("compressing episode", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Skipped++
			continue
		}
		res.Compressed++
		ep.Summary, ep.Detail, ep.Layer = strings.TrimSpace(summary), "", LayerArchive
		s.indexEpisode(ctx, ep)
	}
	if res.Compressed > 0 || res.Failed > 0 {
		s.logger.Info("compressed episodes",
			zap.Int("compressed", res.Compressed),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	}
	return res, nil
}

// Prune deletes L3 episodes past the prune window by importance: above 0.7
// they stay forever, from 0.3 to 0.7 they stay for the mid retention, below
// 0.3 they go. Episodes linked to a still-active project, task or commitment
// are never pruned. A row that changed since it was read is left alone.
func (s *Store) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	now := s.now()
	cutoff := now.Add(-s.cfg.PruneAfter)
	midCutoff := now.Add(-s.cfg.MidRetention)
	old, err := s.queryEpisodes(ctx, "SELECT "+episodeColumns+` FROM episodes
		WHERE layer = 'L3' AND timestamp < ? ORDER BY timestamp, id`, db.Millis(cutoff))
	if err != nil {
		return res, err
	}

	var deleted []string
	for _, ep := range old {
		if err := ctx.Err(); err != nil {
			s.unindex(ctx, deleted...)
			return res, err
		}
		if !prunable(ep, midCutoff) {
			res.Retained++
			continue
		}
		live, err := s.linkedToActive(ctx, ep)
		if err != nil {
			return res, err
		}
		if live {
			res.Retained++
			continue
		}
		r, err := s.db.ExecContext(ctx, "DELETE FROM episodes WHERE id = ? AND version = ? AND layer = 'L3'", ep.ID, ep.Version)
		if err != nil {
			s.unindex(ctx, deleted...)
			return res, apperr.FromStorage("pruning episode", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res.Skipped++
			continue
		}
		deleted = append(deleted, ep.ID)
		res.Deleted++
	}
	s.unindex(ctx, deleted...)
	if res.Deleted > 0 {
		s.logger.Info("pruned episodes", zap.Int("deleted", res.Deleted), zap.Int("retained", res.Retained))
	}
	return res, nil
}

func prunable(ep Episode, midCutoff time.Time) bool {
	switch {
	case ep.Importance > keepForeverAbove:
		return false
	case ep.Importance >= keepMidAtLeast:
		return ep.Timestamp.Before(midCutoff)
	default:
		return true
	}
}

func (s *Store) linkedToActive(ctx context.Context, ep Episode) (bool, error) {
	if s.active == nil {
		return false, nil
	}
	for _, ref := range ep.EntityRefs() {
		ok, err := s.active.IsActive(ctx, ref)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ExtractiveSummarizer is the fallback used when no inference provider is
// configured: it keeps the existing summary and appends the first sentence
// of the detail.
type ExtractiveSummarizer struct{}

const maxSummaryRunes = 280

// Summarize implements Summarizer.
func (ExtractiveSummarizer) Summarize(_ context.Context, ep Episode) (string, error) {
	summary := strings.TrimSpace(ep.Summary)
	if first := firstSentence(ep.Detail); first != "" && !strings.Contains(summary, first) {
		summary = strings.TrimSpace(summary + " " + first)
	}
	if utf8.RuneCountInString(summary) > maxSummaryRunes {
		runes := []rune(summary)
		summary = strings.TrimSpace(string(runes[:maxSummaryRunes-1])) + "…"
	}
	return summary, nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".!?\n"); i >= 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}
