package memory

import (
	"context"
	"time"

	"github.com/ziadkadry99/cadence/internal/entity"
)

// EpisodeType classifies a narrative memory record.
type EpisodeType string

const (
	EpisodeConversation      EpisodeType = "conversation"
	EpisodeDecision          EpisodeType = "decision"
	EpisodeCommitmentMade    EpisodeType = "commitment_made"
	EpisodeTaskCompleted     EpisodeType = "task_completed"
	EpisodeInformationShared EpisodeType = "information_shared"
	EpisodeQuestionAnswered  EpisodeType = "question_answered"
	EpisodeProjectMilestone  EpisodeType = "project_milestone"
)

var validEpisodeTypes = map[EpisodeType]bool{
	EpisodeConversation:      true,
	EpisodeDecision:          true,
	EpisodeCommitmentMade:    true,
	EpisodeTaskCompleted:     true,
	EpisodeInformationShared: true,
	EpisodeQuestionAnswered:  true,
	EpisodeProjectMilestone:  true,
}

// Valid reports whether t is a known episode type.
func (t EpisodeType) Valid() bool { return validEpisodeTypes[t] }

// Layer is the memory tier an episode currently lives in.
type Layer string

const (
	// LayerWorking episodes are held in process and not yet persisted.
	LayerWorking Layer = "L1"
	// LayerRecent episodes are persisted with full detail.
	LayerRecent Layer = "L2"
	// LayerArchive episodes keep only their summary.
	LayerArchive Layer = "L3"
)

// Episode is a narrative record of something that happened.
type Episode struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Type          EpisodeType `json:"type"`
	Summary       string      `json:"summary"`
	Detail        string      `json:"detail,omitempty"`
	Participants  []string    `json:"participants"`
	Topics        []string    `json:"topics"`
	ProjectRef    string      `json:"project_ref,omitempty"`
	TaskRef       string      `json:"task_ref,omitempty"`
	CommitmentRef string      `json:"commitment_ref,omitempty"`
	People        []string    `json:"people"`
	Importance    float64     `json:"importance"`
	Layer         Layer       `json:"layer"`
	CompressedAt  *time.Time  `json:"compressed_at,omitempty"`
	Version       int         `json:"version"`
}

// EntityRefs returns the entity references the episode is linked to.
func (e Episode) EntityRefs() []entity.Ref {
	var refs []entity.Ref
	if e.ProjectRef != "" {
		refs = append(refs, entity.Ref{Kind: entity.KindProject, ID: e.ProjectRef})
	}
	if e.TaskRef != "" {
		refs = append(refs, entity.Ref{Kind: entity.KindTask, ID: e.TaskRef})
	}
	if e.CommitmentRef != "" {
		refs = append(refs, entity.Ref{Kind: entity.KindCommitment, ID: e.CommitmentRef})
	}
	return refs
}

// Fact is a subject/predicate/object triple. A fact is never deleted when it
// is contradicted; ContradictedBy points at the record that replaced it.
type Fact struct {
	ID               string     `json:"id"`
	Subject          string     `json:"subject"`
	Predicate        string     `json:"predicate"`
	Object           string     `json:"object"`
	Confidence       float64    `json:"confidence"`
	SourceEpisodeRef string     `json:"source_episode_ref,omitempty"`
	LearnedAt        time.Time  `json:"learned_at"`
	LastConfirmed    time.Time  `json:"last_confirmed"`
	DecayedAt        *time.Time `json:"decayed_at,omitempty"`
	ContradictedBy   string     `json:"contradicted_by,omitempty"`
	Version          int        `json:"version"`
}

// Active reports whether the fact has not been superseded.
func (f Fact) Active() bool { return f.ContradictedBy == "" }

// FactInput is the caller-supplied part of a new fact.
type FactInput struct {
	Subject          string  `json:"subject"`
	Predicate        string  `json:"predicate"`
	Object           string  `json:"object"`
	Confidence       float64 `json:"confidence"`
	SourceEpisodeRef string  `json:"source_episode_ref,omitempty"`
}

// FactResult describes what RecordFact did.
type FactResult struct {
	Fact        Fact  `json:"fact"`
	Superseded  *Fact `json:"superseded,omitempty"`
	Reconfirmed bool  `json:"reconfirmed"`
}

// EpisodeQuery filters and ranks episodes. Topics and Entities feed the
// relevance score; the remaining fields only filter.
type EpisodeQuery struct {
	Types      []EpisodeType
	Layers     []Layer
	ProjectRef string
	TaskRef    string
	Since      time.Time
	Until      time.Time
	Topics     []string
	Entities   []string
	Limit      int
}

// ContextQuery asks for everything relevant to a set of topics and entities.
// Text, when set, also pulls in semantically similar episodes.
type ContextQuery struct {
	Topics    []string `json:"topics"`
	Entities  []string `json:"entities"`
	Text      string   `json:"text,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	FactLimit int      `json:"fact_limit,omitempty"`
}

// ScoredEpisode pairs an episode with its relevance score.
type ScoredEpisode struct {
	Episode Episode `json:"episode"`
	Score   float64 `json:"score"`
}

// Context is the ranked recall result handed to collaborators.
type Context struct {
	Episodes []ScoredEpisode `json:"episodes"`
	Facts    []Fact          `json:"facts"`
}

// Summarizer produces the archival summary for an episode being compressed.
type Summarizer interface {
	Summarize(ctx context.Context, ep Episode) (string, error)
}

// ActiveChecker reports whether a referenced entity is still live. Episodes
// linked to live entities are never pruned.
type ActiveChecker interface {
	IsActive(ctx context.Context, ref entity.Ref) (bool, error)
}

// Index is a semantic recall index over episode summaries.
type Index interface {
	Upsert(ctx context.Context, id, content string, metadata map[string]string) error
	Search(ctx context.Context, query string, limit int) ([]string, error)
	Delete(ctx context.Context, ids ...string) error
}

// CompressResult reports one run of the L2 to L3 batch.
type CompressResult struct {
	Compressed int `json:"compressed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// PruneResult reports one run of the L3 pruning batch.
type PruneResult struct {
	Deleted  int `json:"deleted"`
	Retained int `json:"retained"`
	Skipped  int `json:"skipped"`
}
