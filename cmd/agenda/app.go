package main

import (
	"fmt"
	"log"
	"os"

	"github.com/scrypster/agenda/internal/config"
	"github.com/scrypster/agenda/internal/engine"
	"github.com/scrypster/agenda/internal/extraction"
	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/internal/llm"
	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/internal/storage/postgres"
	"github.com/scrypster/agenda/internal/storage/sqlite"
	"github.com/scrypster/agenda/internal/timenorm"
)

// newCompleter is swapped out by tests.
var newCompleter = llm.NewCompleter

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	store    storage.Store
	pipeline *ingest.Pipeline
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	completer, err := newCompleter(llm.ProviderConfig{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.Extraction.PrimaryModel,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create LLM client: %w", err)
	}

	extractor, err := extraction.NewExtractor(completer, nil, extractionConfig(cfg))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	norm, err := timenorm.New(cfg.Pipeline.ReferenceTimezone)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p := ingest.NewPipeline(store, extractor, norm, ingest.Config{
		Tolerance:            cfg.Pipeline.TimeTolerance,
		ExcerptLimit:         cfg.Pipeline.EvidenceExcerptLimit,
		MaxOccurrences:       cfg.Pipeline.MaxOccurrences,
		DefaultEventDuration: cfg.Pipeline.DefaultEventDuration,
		UndatedTasks:         ingest.UndatedTaskPolicy(cfg.Pipeline.UndatedTasks),
	})
	return &app{cfg: cfg, store: store, pipeline: p}, nil
}

func extractionConfig(cfg *config.Config) extraction.Config {
	ec := extraction.DefaultConfig()
	ec.PrimaryModel = cfg.Extraction.PrimaryModel
	ec.EscalationModel = cfg.Extraction.EscalationModel
	ec.ConfidenceThreshold = cfg.Extraction.ConfidenceThreshold
	ec.PrimaryTemperature = cfg.Extraction.PrimaryTemperature
	ec.EscalationTemperature = cfg.Extraction.EscalationTemperature
	return ec
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("create data directory %q: %w", cfg.Storage.DataPath, err)
		}
		store, err := sqlite.NewStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open database at %q: %w", cfg.DBPath(), err)
		}
		return store, nil
	}
}

// newScheduler creates the background scheduler with the pipeline's steps
// registered. The caller starts and shuts it down.
func (a *app) newScheduler() (*engine.Scheduler, error) {
	sc := engine.DefaultConfig()
	sc.NumWorkers = a.cfg.Scheduler.Workers
	sc.QueueSize = a.cfg.Scheduler.QueueSize
	sc.MaxRetries = a.cfg.Scheduler.MaxRetries
	if a.cfg.Storage.Engine == "sqlite" && sc.NumWorkers > 1 {
		log.Printf("Using 1 worker for SQLite to avoid database locking (configured %d)", sc.NumWorkers)
		sc.NumWorkers = 1
	}

	s, err := engine.NewScheduler(sc)
	if err != nil {
		return nil, err
	}
	engine.RegisterIngestSteps(s, a.pipeline)
	return s, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
