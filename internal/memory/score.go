package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Relevance weights.
const (
	topicWeight      = 0.4
	entityWeight     = 0.3
	recencyWeight    = 0.2
	importanceWeight = 0.1
)

// RecencyDecay halves every halfLife of age. Future timestamps count as new.
func RecencyDecay(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// Score computes 0.4·topic + 0.3·entity + 0.2·recency + 0.1·importance for
// one episode. Overlaps are the fraction of query terms the episode carries.
func Score(ep Episode, topics, entities []string, now time.Time, halfLife time.Duration) float64 {
	return topicWeight*topicOverlap(ep, topics) +
		entityWeight*entityOverlap(ep, entities) +
		recencyWeight*RecencyDecay(now.Sub(ep.Timestamp), halfLife) +
		importanceWeight*clamp01(ep.Importance)
}

func topicOverlap(ep Episode, topics []string) float64 {
	if len(topics) == 0 {
		return 0
	}
	have := lowerSet(ep.Topics)
	return fraction(topics, have)
}

// entityOverlap matches query entities against the episode's references and
// people. A query entity may be a bare id, a "kind:id" reference or a name.
func entityOverlap(ep Episode, entities []string) float64 {
	if len(entities) == 0 {
		return 0
	}
	have := lowerSet(ep.People)
	for k := range lowerSet(ep.Participants) {
		have[k] = struct{}{}
	}
	for _, ref := range ep.EntityRefs() {
		have[strings.ToLower(ref.ID)] = struct{}{}
		have[strings.ToLower(ref.String())] = struct{}{}
	}
	return fraction(entities, have)
}

func fraction(query []string, have map[string]struct{}) float64 {
	seen := make(map[string]struct{}, len(query))
	hits := 0
	for _, q := range query {
		q = strings.ToLower(strings.TrimSpace(q))
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		if _, ok := have[q]; ok {
			hits++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(hits) / float64(len(seen))
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Rank scores and orders episodes, highest first. Ties go to the most recent
// timestamp, then to the larger id so the order is total.
func Rank(eps []Episode, topics, entities []string, now time.Time, halfLife time.Duration) []ScoredEpisode {
	out := make([]ScoredEpisode, len(eps))
	for i, ep := range eps {
		out[i] = ScoredEpisode{Episode: ep, Score: Score(ep, topics, entities, now, halfLife)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ti, tj := out[i].Episode.Timestamp, out[j].Episode.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Episode.ID > out[j].Episode.ID
	})
	return out
}
