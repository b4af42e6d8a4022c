package capture

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/ids"
	"github.com/ziadkadry99/cadence/internal/memory"
)

// EpisodeRecorder receives the narrative side of a capture.
type EpisodeRecorder interface {
	RecordEpisode(ctx context.Context, ep memory.Episode) (*memory.Episode, error)
}

// Episode importance per conversion.
const (
	importanceCommitment = 0.7
	importanceTask       = 0.5
	importanceReminder   = 0.4
	importanceCompletion = 0.5
)

// Options configures a Processor.
type Options struct {
	Config    config.CaptureConfig
	Clock     clock.Clock
	Logger    *zap.Logger
	Extractor Extractor
	Memory    EpisodeRecorder
	Events    events.Publisher
	// Location is the user's wall clock for relative times such as
	// "tomorrow at 3pm". Nil means time.Local.
	Location *time.Location
	// RetryInterval is the first backoff delay of the raw write.
	RetryInterval time.Duration
}

// Processor runs the ingestion pipeline.
type Processor struct {
	entities  *entity.Store
	extractor Extractor
	memory    EpisodeRecorder
	cfg       config.CaptureConfig
	clock     clock.Clock
	logger    *zap.Logger
	events    events.Publisher
	retry     time.Duration
	loc       *time.Location
	spill     spillQueue
}

// NewProcessor creates a processor. Without an extractor the rule-based one
// is used.
func NewProcessor(entities *entity.Store, opts Options) *Processor {
	cfg := opts.Config
	def := config.DefaultConfig().Capture
	if cfg.DirectThreshold <= 0 {
		cfg.DirectThreshold = def.DirectThreshold
	}
	if cfg.ConfirmThreshold <= 0 {
		cfg.ConfirmThreshold = def.ConfirmThreshold
	}
	if cfg.TriageTimeout <= 0 {
		cfg.TriageTimeout = def.TriageTimeout
	}
	if cfg.DefaultReminderOffset <= 0 {
		cfg.DefaultReminderOffset = def.DefaultReminderOffset
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = def.WriteAttempts
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = RuleExtractor{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = 200 * time.Millisecond
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Processor{
		entities:  entities,
		extractor: extractor,
		memory:    opts.Memory,
		cfg:       cfg,
		clock:     clock.OrSystem(opts.Clock),
		logger:    logger,
		events:    events.OrNop(opts.Events),
		retry:     retry,
		loc:       loc,
	}
}

func (p *Processor) now() time.Time {
	return p.clock.Now().UTC()
}

// extract runs the extractor anchored on the capture time in the user's
// zone. Stored times stay UTC.
func (p *Processor) extract(ctx context.Context, c *entity.Capture) (*Extraction, error) {
	return p.extractor.Extract(ctx, c.RawText, c.Timestamp.In(p.loc))
}

func (p *Processor) thresholds() Thresholds {
	return Thresholds{Direct: p.cfg.DirectThreshold, Confirm: p.cfg.ConfirmThreshold}
}

// Capture records raw text and runs it through extraction and the
// confidence policy. The raw capture survives every downstream failure; the
// only errors returned are for blank input or a cancelled context.
func (p *Processor) Capture(ctx context.Context, text, contextHint string) (*Result, error) {
	c, spilled, err := p.recordRaw(ctx, text, contextHint)
	if err != nil {
		return nil, err
	}
	if spilled {
		return &Result{Capture: *c, Policy: PolicyArchiveRaw, Spilled: true}, nil
	}

	ext, extractErr := p.extract(ctx, c)
	if extractErr != nil {
		p.logger.Warn("extraction failed, keeping raw capture",
			zap.String("capture", c.ID), zap.Error(extractErr))
	}
	return p.apply(ctx, c, ext, extractErr, false), nil
}

// ProcessClassified ingests an utterance that was extracted upstream.
func (p *Processor) ProcessClassified(ctx context.Context, in Classified) (*Result, error) {
	c, spilled, err := p.recordRaw(ctx, in.Text, in.ContextHint)
	if err != nil {
		return nil, err
	}
	ext := in.Extraction
	if spilled {
		return &Result{Capture: *c, Policy: PolicyArchiveRaw, Spilled: true, Extraction: &ext}, nil
	}
	return p.apply(ctx, c, &ext, nil, false), nil
}

// recordRaw writes the capture with retries. When every attempt fails the
// capture is spilled to memory and reported as such rather than as an
// error.
func (p *Processor) recordRaw(ctx context.Context, text, contextHint string) (*entity.Capture, bool, error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, apperr.NewInvalidInput("capture text is required")
	}
	now := p.now()
	c := entity.Capture{ID: ids.New(now), RawText: text, Timestamp: now, ContextHint: contextHint}

	var stored *entity.Capture
	err := p.withRetry(ctx, func() error {
		var err error
		stored, err = p.entities.CreateCapture(ctx, c)
		return err
	})
	if err == nil {
		p.events.Publish(events.CaptureRecorded, stored)
		return stored, false, nil
	}
	if ctx.Err() != nil {
		p.spill.push(c)
		return nil, false, ctx.Err()
	}
	if !apperr.Is(err, apperr.StorageUnavailable) {
		return nil, false, err
	}
	p.logger.Error("raw capture write failed, spilling to memory",
		zap.String("capture", c.ID), zap.Int("attempts", p.cfg.WriteAttempts), zap.Error(err))
	p.spill.push(c)
	return &c, true, nil
}

// withRetry retries storage faults with exponential backoff. Any other error
// is permanent.
func (p *Processor) withRetry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.retry
	eb.MaxInterval = 10 * p.retry
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.cfg.WriteAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !apperr.Is(err, apperr.StorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// apply runs the policy for one stored capture. force skips the confidence
// check, used when a person resolves a capture from the triage queue.
func (p *Processor) apply(ctx context.Context, c *entity.Capture, ext *Extraction, extractErr error, force bool) *Result {
	res := &Result{Capture: *c, Extraction: ext}
	if extractErr != nil || ext == nil {
		res.Policy = PolicyArchiveRaw
		p.triage(ctx, res, entity.TriageExtractionFailed)
		return res
	}

	res.Policy = Decide(ext.Confidence, nil, p.thresholds())
	if force {
		res.Policy = PolicyDirect
	}
	switch {
	case res.Policy == PolicyTriage:
		p.triage(ctx, res, entity.TriageLowConfidence)
		return res
	case ext.Intent == IntentNone || !ext.Intent.Valid():
		res.Policy = PolicyTriage
		p.triage(ctx, res, entity.TriageNoIntent)
		return res
	case ext.Intent == IntentCompletion:
		p.complete(ctx, res, ext)
		return res
	}

	ref, err := p.convert(ctx, c, ext, res.Policy == PolicyConfirm)
	if err != nil {
		// The raw text is already safe; the conversion waits for triage.
		p.logger.Warn("converting capture failed, routing to triage",
			zap.String("capture", c.ID), zap.String("intent", string(ext.Intent)), zap.Error(err))
		res.Policy = PolicyTriage
		p.triage(ctx, res, entity.TriageConversionFailed)
		return res
	}
	res.Entity = ref
	res.NeedsConfirmation = res.Policy == PolicyConfirm
	if updated, err := p.entities.GetCapture(ctx, c.ID); err == nil {
		res.Capture = *updated
	}
	return res
}

func (p *Processor) triage(ctx context.Context, res *Result, reason string) {
	if err := p.entities.QueueForTriage(ctx, res.Capture.ID, reason); err != nil {
		p.logger.Error("queueing capture for triage",
			zap.String("capture", res.Capture.ID), zap.String("reason", reason), zap.Error(err))
	} else {
		res.Capture.TriageReason = reason
	}
	p.events.Publish(events.CaptureTriaged, res)
}

// convert creates the target entity and links the capture in one
// transaction, then records the matching episode. A pending conversion
// stays silent until Confirm finalizes it.
func (p *Processor) convert(ctx context.Context, c *entity.Capture, ext *Extraction, pending bool) (*entity.Ref, error) {
	projectID, projectName := p.resolveProject(ctx, ext.Project)
	ep := memory.Episode{
		Type:       memory.EpisodeConversation,
		Summary:    c.RawText,
		Timestamp:  c.Timestamp,
		ProjectRef: projectID,
		Topics:     topicsFor(ext, projectName),
	}

	var ref entity.Ref
	switch ext.Intent {
	case IntentTask:
		t, err := p.entities.ConvertCaptureToTask(ctx, c.ID, entity.Task{
			Title:       ext.Action,
			Priority:    ext.Priority,
			DueDate:     ext.Deadline,
			ProjectRef:  projectID,
			ContextTags: ext.ContextTags,
		}, pending)
		if err != nil {
			return nil, err
		}
		ref = t.Ref()
		ep.TaskRef, ep.Importance = t.ID, importanceTask
		if !pending {
			p.events.Publish(events.TaskCreated, t)
		}

	case IntentReminder:
		trigger := c.Timestamp.Add(p.cfg.DefaultReminderOffset)
		if ext.Deadline != nil {
			trigger = *ext.Deadline
		}
		r, err := p.entities.ConvertCaptureToReminder(ctx, c.ID, entity.Reminder{
			Message:     ext.Action,
			TriggerTime: trigger,
			Recurrence:  ext.Recurrence,
		}, pending)
		if err != nil {
			return nil, err
		}
		ref = r.Ref()
		ep.Importance = importanceReminder

	case IntentCommitment:
		cm, err := p.entities.ConvertCaptureToCommitment(ctx, c.ID, entity.Commitment{
			What:     ext.Action,
			ToWhom:   ext.Person,
			WhenMade: c.Timestamp,
			DueBy:    ext.Deadline,
		}, pending)
		if err != nil {
			return nil, err
		}
		ref = cm.Ref()
		ep.Type, ep.CommitmentRef, ep.Importance = memory.EpisodeCommitmentMade, cm.ID, importanceCommitment
		if ext.Person != "" {
			ep.People = []string{ext.Person}
		}

	default:
		return nil, apperr.NewInvalidInput("unsupported intent " + string(ext.Intent))
	}

	if !pending {
		p.recordEpisode(ctx, ep)
	}
	return &ref, nil
}

// announceConfirmed emits what convert held back for a confirmed capture,
// rebuilt from the stored entity.
func (p *Processor) announceConfirmed(ctx context.Context, c *entity.Capture) error {
	if c.ConvertedTo == nil {
		return nil
	}
	ep := memory.Episode{
		Type:      memory.EpisodeConversation,
		Summary:   c.RawText,
		Timestamp: c.Timestamp,
	}
	switch c.ConvertedTo.Kind {
	case entity.KindTask:
		t, err := p.entities.GetTask(ctx, c.ConvertedTo.ID)
		if err != nil {
			return err
		}
		ep.TaskRef, ep.Importance, ep.ProjectRef = t.ID, importanceTask, t.ProjectRef
		if t.ProjectRef != "" {
			if proj, err := p.entities.GetProject(ctx, t.ProjectRef); err == nil {
				ep.Topics = append(ep.Topics, strings.ToLower(proj.Name))
			}
		}
		for _, tag := range t.ContextTags {
			ep.Topics = append(ep.Topics, strings.ToLower(tag))
		}
		p.events.Publish(events.TaskCreated, t)

	case entity.KindReminder:
		ep.Importance = importanceReminder

	case entity.KindCommitment:
		cm, err := p.entities.GetCommitment(ctx, c.ConvertedTo.ID)
		if err != nil {
			return err
		}
		ep.Type, ep.CommitmentRef, ep.Importance = memory.EpisodeCommitmentMade, cm.ID, importanceCommitment
		if cm.ToWhom != "" {
			ep.People = []string{cm.ToWhom}
		}
	}
	p.recordEpisode(ctx, ep)
	return nil
}

// resolveProject maps a spoken project name to an open project. An unknown
// name leaves the entity unassigned rather than failing the conversion.
func (p *Processor) resolveProject(ctx context.Context, name string) (id, resolved string) {
	if strings.TrimSpace(name) == "" {
		return "", ""
	}
	proj, err := p.entities.FindProjectByName(ctx, name)
	if err != nil {
		p.logger.Warn("resolving project name", zap.String("project", name), zap.Error(err))
		return "", name
	}
	if proj == nil {
		p.logger.Debug("no project matches capture", zap.String("project", name))
		return "", name
	}
	return proj.ID, proj.Name
}

func topicsFor(ext *Extraction, project string) []string {
	var topics []string
	if project != "" {
		topics = append(topics, strings.ToLower(project))
	}
	for _, tag := range ext.ContextTags {
		topics = append(topics, strings.ToLower(tag))
	}
	return topics
}

func (p *Processor) recordEpisode(ctx context.Context, ep memory.Episode) {
	if p.memory == nil {
		return
	}
	if _, err := p.memory.RecordEpisode(ctx, ep); err != nil {
		p.logger.Warn("recording capture episode", zap.String("type", string(ep.Type)), zap.Error(err))
	}
}

// complete handles a completion utterance. Only a confident, unambiguous
// reference closes a task; anything else waits in triage.
func (p *Processor) complete(ctx context.Context, res *Result, ext *Extraction) {
	if res.Policy != PolicyDirect {
		res.Policy = PolicyTriage
		p.triage(ctx, res, entity.TriageLowConfidence)
		return
	}
	task, err := p.CompleteByReference(ctx, ext.Action)
	if err != nil {
		var reason string
		switch {
		case apperr.Is(err, apperr.CaptureAmbiguous):
			reason = entity.TriageLowConfidence
			res.Candidates = candidatesOf(err)
		case apperr.Is(err, apperr.EntityNotFound):
			reason = entity.TriageNoIntent
		default:
			reason = entity.TriageConversionFailed
			p.logger.Warn("completing task by reference", zap.String("capture", res.Capture.ID), zap.Error(err))
		}
		res.Policy = PolicyTriage
		p.triage(ctx, res, reason)
		return
	}
	ref := task.Ref()
	res.Entity = &ref
	if c, err := p.entities.DismissCapture(ctx, res.Capture.ID); err == nil {
		res.Capture = *c
	}
}

func candidatesOf(err error) []string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return nil
	}
	c, _ := e.Details["candidates"].([]string)
	return c
}

// MarkDone completes a task. The completion episode and event are emitted
// only on the call that actually changed the status, so repeating it is
// harmless.
func (p *Processor) MarkDone(ctx context.Context, taskID string) (*entity.Task, bool, error) {
	t, changed, err := p.entities.MarkTaskDone(ctx, taskID)
	if err != nil || !changed {
		return t, changed, err
	}
	p.recordEpisode(ctx, memory.Episode{
		Type:       memory.EpisodeTaskCompleted,
		Summary:    "Completed: " + t.Title,
		TaskRef:    t.ID,
		ProjectRef: t.ProjectRef,
		Importance: importanceCompletion,
	})
	p.events.Publish(events.TaskCompleted, t)
	return t, true, nil
}

// CompleteByReference completes the single open task whose title matches
// text. Several matches return CaptureAmbiguous listing their titles.
func (p *Processor) CompleteByReference(ctx context.Context, text string) (*entity.Task, error) {
	matches, err := p.entities.FindOpenTasksByReference(ctx, text)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, apperr.NewEntityNotFound(string(entity.KindTask), text)
	case 1:
		t, _, err := p.MarkDone(ctx, matches[0].ID)
		return t, err
	}
	titles := make([]string, len(matches))
	for i, t := range matches {
		titles[i] = t.Title
	}
	return nil, apperr.NewCaptureAmbiguous("", 0, titles...)
}

// Confirm answers a pending confirmation. yes finalizes the entity; no
// deletes it and returns the capture to triage.
func (p *Processor) Confirm(ctx context.Context, captureID string, yes bool) (*entity.Capture, error) {
	if yes {
		c, err := p.entities.ConfirmCapture(ctx, captureID)
		if err != nil {
			return nil, err
		}
		if err := p.announceConfirmed(ctx, c); err != nil {
			p.logger.Warn("announcing confirmed capture", zap.String("capture", c.ID), zap.Error(err))
		}
		return c, nil
	}
	c, err := p.entities.RejectCapture(ctx, captureID)
	if err != nil {
		return nil, err
	}
	p.events.Publish(events.CaptureTriaged, &Result{Capture: *c, Policy: PolicyTriage})
	return c, nil
}

// Resolve converts a triaged capture using an extraction supplied by the
// person working the queue. The confidence policy is skipped.
func (p *Processor) Resolve(ctx context.Context, captureID string, ext Extraction) (*Result, error) {
	c, err := p.entities.GetCapture(ctx, captureID)
	if err != nil {
		return nil, err
	}
	if c.Processed {
		return nil, apperr.NewConflict(string(entity.KindCapture), captureID)
	}
	if !ext.Intent.Valid() || ext.Intent == IntentNone {
		return nil, apperr.NewInvalidInput("a task, reminder, commitment or completion intent is required")
	}
	if strings.TrimSpace(ext.Action) == "" {
		ext.Action = c.RawText
	}
	res := p.apply(ctx, c, &ext, nil, true)
	if res.Entity == nil {
		return res, apperr.NewCaptureAmbiguous(captureID, ext.Confidence, res.Candidates...)
	}
	return res, nil
}

// Dismiss archives a capture without converting it.
func (p *Processor) Dismiss(ctx context.Context, captureID string) (*entity.Capture, error) {
	return p.entities.DismissCapture(ctx, captureID)
}

// Triage returns the unresolved captures awaiting a decision, oldest first.
func (p *Processor) Triage(ctx context.Context, limit int) ([]entity.Capture, error) {
	return p.entities.TriageQueue(ctx, limit)
}

// ArchiveStale archives captures left unresolved past the triage timeout.
func (p *Processor) ArchiveStale(ctx context.Context) (int, error) {
	n, err := p.entities.ArchiveStaleCaptures(ctx, p.now().Add(-p.cfg.TriageTimeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("archived unresolved captures", zap.Int("captures", n))
	}
	return n, nil
}

// FlushSpill writes spilled captures and processes them as of the time they
// were spoken. It stops at the first storage fault and keeps the rest.
func (p *Processor) FlushSpill(ctx context.Context) (int, error) {
	pending := p.spill.drain()
	for i, c := range pending {
		if err := ctx.Err(); err != nil {
			p.spill.requeue(pending[i:])
			return i, err
		}
		stored, err := p.entities.CreateCapture(ctx, c)
		if err != nil {
			p.spill.requeue(pending[i:])
			return i, err
		}
		p.events.Publish(events.CaptureRecorded, stored)
		ext, extractErr := p.extract(ctx, stored)
		p.apply(ctx, stored, ext, extractErr, false)
	}
	if len(pending) > 0 {
		p.logger.Info("flushed spilled captures", zap.Int("captures", len(pending)))
	}
	return len(pending), nil
}

// SpillCount reports captures still waiting for the store.
func (p *Processor) SpillCount() int {
	return p.spill.len()
}
