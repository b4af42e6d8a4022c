package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/scheduler"
)

// Job names. The CLI's maintain command accepts these.
const (
	JobFlushSpill     = "capture.flush-spill"
	JobArchiveStale   = "capture.archive-stale"
	JobFireReminders  = "reminders.fire"
	JobSilence        = "context.silence"
	JobCheckpoint     = "context.checkpoint"
	JobPurgeContext   = "context.purge"
	JobStallScan      = "stall.scan"
	JobMemoryFlush    = "memory.flush"
	JobMemoryCompress = "memory.compress"
	JobMemoryPrune    = "memory.prune"
	JobFactDecay      = "memory.decay-facts"
	JobPersistIndex   = "memory.persist-index"
	JobGovernorDrain  = "governor.drain"
	JobMorning        = "briefing.morning"
)

// Hours at which the nightly memory batches run.
const (
	compressHour = 3
	decayHour    = 4
)

func (e *Engine) registerJobs() error {
	cfg := e.Config
	jobs := []scheduler.Job{
		{Name: JobFlushSpill, Schedule: scheduler.Every(time.Minute), Run: e.flushSpill},
		{Name: JobArchiveStale, Schedule: scheduler.Every(time.Hour), Run: e.archiveStale},
		{Name: JobFireReminders, Schedule: scheduler.Every(cfg.Scheduler.ReminderInterval), Run: e.fireReminders},
		{Name: JobSilence, Schedule: scheduler.Every(30 * time.Second), Run: e.checkSilence},
		{Name: JobCheckpoint, Schedule: scheduler.Every(cfg.Context.CheckpointInterval), Run: e.Context.Checkpoint},
		{Name: JobPurgeContext, Schedule: scheduler.Every(time.Hour), Run: e.purgeContext},
		{Name: JobStallScan, Schedule: scheduler.Every(cfg.Stall.ScanInterval), Run: e.scanStalls},
		{Name: JobMemoryFlush, Schedule: scheduler.Every(time.Minute), Run: e.flushMemory},
		{Name: JobMemoryCompress, Schedule: scheduler.DailyAt{Hour: compressHour, Location: e.loc}, Run: e.compressMemory},
		{Name: JobMemoryPrune, Schedule: scheduler.Every(7 * 24 * time.Hour), Run: e.pruneMemory},
		{Name: JobFactDecay, Schedule: scheduler.DailyAt{Hour: decayHour, Location: e.loc}, Run: e.decayFacts},
		{Name: JobPersistIndex, Schedule: scheduler.Every(10 * time.Minute), Run: e.persistIndexJob},
		{Name: JobGovernorDrain, Schedule: scheduler.Every(5 * time.Minute), Run: e.drain},
		{Name: JobMorning, Schedule: scheduler.DailyAt{Hour: cfg.Governor.BriefingHour, Location: e.loc}, Run: e.morningBriefingJob},
	}
	for _, j := range jobs {
		if err := e.Scheduler.Register(j); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) flushSpill(ctx context.Context) error {
	n, err := e.Capture.FlushSpill(ctx)
	if n > 0 {
		e.logger.Info("spilled captures written", zap.Int("count", n))
	}
	return err
}

func (e *Engine) archiveStale(ctx context.Context) error {
	n, err := e.Capture.ArchiveStale(ctx)
	if n > 0 {
		e.logger.Info("stale captures archived", zap.Int("count", n))
	}
	return err
}

func (e *Engine) fireReminders(ctx context.Context) error {
	n, err := e.Reminders.FireDue(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return e.drain(ctx)
}

func (e *Engine) checkSilence(ctx context.Context) error {
	interrupted, err := e.Context.CheckSilence(ctx)
	if interrupted {
		e.logger.Info("context interrupted by silence")
	}
	return err
}

func (e *Engine) purgeContext(ctx context.Context) error {
	_, err := e.Context.PurgeExpired(ctx)
	return err
}

func (e *Engine) scanStalls(ctx context.Context) error {
	if _, err := e.Stalls.Scan(ctx); err != nil {
		return err
	}
	return e.drain(ctx)
}

func (e *Engine) flushMemory(ctx context.Context) error {
	_, err := e.Memory.FlushWorking(ctx)
	return err
}

func (e *Engine) compressMemory(ctx context.Context) error {
	res, err := e.Memory.CompressOld(ctx)
	e.logger.Info("memory compressed",
		zap.Int("compressed", res.Compressed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return err
}

func (e *Engine) pruneMemory(ctx context.Context) error {
	res, err := e.Memory.Prune(ctx)
	e.logger.Info("memory pruned",
		zap.Int("deleted", res.Deleted),
		zap.Int("retained", res.Retained),
		zap.Int("skipped", res.Skipped))
	return err
}

func (e *Engine) decayFacts(ctx context.Context) error {
	n, err := e.Memory.DecayFacts(ctx)
	if n > 0 {
		e.logger.Info("facts decayed", zap.Int("count", n))
	}
	return err
}

func (e *Engine) persistIndexJob(context.Context) error {
	e.persistIndex()
	return nil
}

func (e *Engine) drain(ctx context.Context) error {
	_, err := e.Governor.Drain(ctx)
	return err
}
