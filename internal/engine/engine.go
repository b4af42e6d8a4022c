// Package engine assembles the commitment and context services over one
// store and runs their background workers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/cadence/internal/activecontext"
	"github.com/ziadkadry99/cadence/internal/capture"
	"github.com/ziadkadry99/cadence/internal/clock"
	"github.com/ziadkadry99/cadence/internal/config"
	"github.com/ziadkadry99/cadence/internal/db"
	"github.com/ziadkadry99/cadence/internal/embeddings"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/events"
	"github.com/ziadkadry99/cadence/internal/governor"
	"github.com/ziadkadry99/cadence/internal/llm"
	"github.com/ziadkadry99/cadence/internal/memory"
	"github.com/ziadkadry99/cadence/internal/scheduler"
	"github.com/ziadkadry99/cadence/internal/stall"
	"github.com/ziadkadry99/cadence/internal/vectordb"
)

// Options overrides collaborators that New would otherwise build from the
// config. All fields are optional.
type Options struct {
	Clock    clock.Clock
	Logger   *zap.Logger
	Provider llm.Provider
	Embedder embeddings.Embedder
	Location *time.Location
}

// Engine owns every service and the background scheduler.
type Engine struct {
	Config    *config.Config
	DB        *db.DB
	Bus       *events.Bus
	Hub       *events.Hub
	Entities  *entity.Store
	Memory    *memory.Store
	Index     *vectordb.ChromemStore
	Capture   *capture.Processor
	Context   *activecontext.Tracker
	Governor  *governor.Governor
	Stalls    *stall.Detector
	Scheduler *scheduler.Scheduler
	Reminders *scheduler.ReminderFirer

	provider llm.Provider
	clock    clock.Clock
	logger   *zap.Logger
	loc      *time.Location
	indexDir string
	stopOnce sync.Once
}

// Open opens the database in cfg.DataDir and builds the engine over it.
func Open(cfg *config.Config, opts Options) (*Engine, error) {
	database, err := db.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	e, err := New(cfg, database, opts)
	if err != nil {
		database.Close()
		return nil, err
	}
	e.indexDir = filepath.Join(cfg.DataDir, "recall")
	if err := e.Index.Load(e.indexDir); err != nil {
		e.logger.Warn("recall index not loaded, starting empty", zap.String("dir", e.indexDir), zap.Error(err))
	}
	return e, nil
}

// New builds the engine over an open database. The caller keeps ownership
// of database only until New succeeds; Close releases it afterwards.
func New(cfg *config.Config, database *db.DB, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := clock.OrSystem(opts.Clock)
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	provider := opts.Provider
	if provider == nil {
		p, err := llm.NewProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating inference provider: %w", err)
		}
		provider = p
	}
	embedder := opts.Embedder
	if embedder == nil {
		em, err := embeddings.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		embedder = em
	}
	index, err := vectordb.NewChromemStore(embedder)
	if err != nil {
		return nil, fmt.Errorf("creating recall index: %w", err)
	}

	bus := events.NewBus(clk, logger.Named("events"))
	entities := entity.NewStore(database, clk)

	var (
		extractor  capture.Extractor
		summarizer memory.Summarizer
	)
	if provider != nil {
		gw := llm.NewGateway(provider, llm.GatewayOptions{
			Model:    cfg.Model,
			Logger:   logger.Named("llm"),
			Fallback: capture.RuleExtractor{},
		})
		extractor, summarizer = gw, gw
		logger.Info("inference provider configured", zap.String("provider", provider.Name()), zap.String("model", cfg.Model))
	}

	mem := memory.NewStore(database, memory.Options{
		Config:     cfg.Memory,
		Clock:      clk,
		Logger:     logger.Named("memory"),
		Summarizer: summarizer,
		Active:     entities,
		Index:      index,
		Events:     bus,
	})
	proc := capture.NewProcessor(entities, capture.Options{
		Config:    cfg.Capture,
		Clock:     clk,
		Logger:    logger.Named("capture"),
		Extractor: extractor,
		Memory:    mem,
		Events:    bus,
		Location:  loc,
	})
	tracker := activecontext.NewTracker(entities, database, activecontext.Options{
		Config: cfg.Context,
		Clock:  clk,
		Logger: logger.Named("context"),
		Recall: mem,
	})
	gov := governor.New(database, entities, governor.Options{
		Config:    cfg.Governor,
		Intensity: cfg.Intensity,
		Clock:     clk,
		Logger:    logger.Named("governor"),
		Events:    bus,
		Location:  loc,
	})
	stalls := stall.NewDetector(entities, stall.Options{
		Config:     cfg.Stall,
		Thresholds: gov.StallThresholds,
		Clock:      clk,
		Logger:     logger.Named("stall"),
		Events:     bus,
		Queue:      gov,
	})
	sched := scheduler.New(database, scheduler.Options{
		Tick:   cfg.Scheduler.Tick,
		Clock:  clk,
		Logger: logger.Named("scheduler"),
	})

	e := &Engine{
		Config:    cfg,
		DB:        database,
		Bus:       bus,
		Hub:       events.NewHub(bus, logger.Named("ws")),
		Entities:  entities,
		Memory:    mem,
		Index:     index,
		Capture:   proc,
		Context:   tracker,
		Governor:  gov,
		Stalls:    stalls,
		Scheduler: sched,
		Reminders: scheduler.NewReminderFirer(entities, clk, logger.Named("reminders"), bus, gov),
		provider:  provider,
		clock:     clk,
		logger:    logger,
		loc:       loc,
	}
	if err := e.registerJobs(); err != nil {
		return nil, err
	}
	return e, nil
}

// Load restores persisted governor, context and scheduler state.
func (e *Engine) Load(ctx context.Context) error {
	if err := e.Governor.Load(ctx); err != nil {
		return err
	}
	restored, err := e.Context.Load(ctx)
	if err != nil {
		return err
	}
	if restored {
		e.logger.Info("active context restored")
	}
	return e.Scheduler.Load(ctx)
}

// Run loads persisted state and runs the scheduler and event sinks until
// ctx is done. On the way out it flushes working memory and checkpoints
// the active context.
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()
	if err := e.Load(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Scheduler.Run(gctx)
	})

	if e.Config.Redis.URL != "" {
		sink, err := events.NewRedisSink(gctx, e.Config.Redis.URL, e.Config.Redis.Channel, e.logger.Named("redis"))
		if err != nil {
			// Collaborators can still use the websocket stream.
			e.logger.Warn("redis event sink disabled", zap.Error(err))
		} else {
			sub, err := e.Bus.Subscribe("*", 256)
			if err != nil {
				sink.Close()
				return err
			}
			g.Go(func() error {
				defer sink.Close()
				defer sub.Close()
				return sink.Run(gctx, sub)
			})
		}
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown persists what would otherwise be lost when the process exits.
// It runs at most once, whether reached from Run or from Close.
func (e *Engine) shutdown() {
	e.stopOnce.Do(e.persistState)
}

func (e *Engine) persistState() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := e.Memory.FlushAll(ctx); err != nil {
		e.logger.Error("flushing working memory", zap.Error(err))
	} else if n > 0 {
		e.logger.Info("working memory flushed", zap.Int("episodes", n))
	}
	if err := e.Context.Checkpoint(ctx); err != nil {
		e.logger.Error("checkpointing active context", zap.Error(err))
	}
	e.persistIndex()
}

func (e *Engine) persistIndex() {
	if e.indexDir == "" {
		return
	}
	if err := e.Index.Persist(e.indexDir); err != nil {
		e.logger.Warn("persisting recall index", zap.Error(err))
	}
}

// Close persists working memory, the active context and the recall index
// if Run has not already done so, then releases the event bus and the
// database.
func (e *Engine) Close() error {
	e.shutdown()
	e.Bus.Close()
	return e.DB.Close()
}

// ProviderName reports the configured inference provider, or "none".
func (e *Engine) ProviderName() string {
	if e.provider == nil {
		return string(config.ProviderNone)
	}
	return e.provider.Name()
}

// RegisterRoutes mounts every service's HTTP routes.
func (e *Engine) RegisterRoutes(r chi.Router) {
	entity.RegisterRoutes(r, e.Entities, e.Capture)
	capture.RegisterRoutes(r, e.Capture, e.Entities)
	memory.RegisterRoutes(r, e.Memory)
	activecontext.RegisterRoutes(r, e.Context)
	governor.RegisterRoutes(r, e.Governor)
	stall.RegisterRoutes(r, e.Stalls)
	scheduler.RegisterRoutes(r, e.Scheduler)
	e.Hub.RegisterRoutes(r)
	r.Get("/api/briefing", e.handleMorningBriefing)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
