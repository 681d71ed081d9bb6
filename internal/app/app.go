package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"PolicyWatch/internal/config"
	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/httpapi"
	"PolicyWatch/internal/implementation"
	"PolicyWatch/internal/infrastructure/llm"
	"PolicyWatch/internal/infrastructure/ml"
	"PolicyWatch/internal/infrastructure/parser"
	"PolicyWatch/internal/infrastructure/scheduler"
	"PolicyWatch/internal/infrastructure/storage"
	"PolicyWatch/internal/infrastructure/telegram"
	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/metrics"
	"PolicyWatch/internal/ports"
	"PolicyWatch/internal/research"
	"PolicyWatch/internal/sources"
	"PolicyWatch/internal/usecase"
	"PolicyWatch/internal/verification"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    storage.DocumentStore
	metrics  *metrics.Recorder
	pipeline *usecase.Pipeline
}

// New opens storage and builds the pipeline with its collaborators.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	baseLogger.Info("storage ready", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path)

	runs := storage.NewPipelineRepository(store)
	policies := storage.NewPolicyRepository(store)
	recorder := metrics.New()

	registry := sources.NewRegistry(cfg.Sources...)
	selected, err := registry.Select(cfg.Research.OnlySources...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("select sources: %w", err)
	}
	fetcher := parser.NewPageFetcher(&http.Client{Timeout: cfg.Research.FetchTimeout}, cfg.Research.UserAgent)
	classifier := newClassifier(cfg.Classifier, baseLogger)
	pacer := research.NewPacer(research.Intervals{
		PageFetch: cfg.Research.PageDelay,
		Classify:  cfg.Research.ClassifyDelay,
		Source:    cfg.Research.SourceDelay,
	})

	var notifier ports.Notifier
	tg := telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	if tg.Configured() {
		notifier = tg
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Store:    runs,
		Policies: policies,
		Research: research.NewStage(research.Deps{
			Fetcher:    fetcher,
			Classifier: classifier,
			Store:      runs,
			Pacer:      pacer,
			Logger:     baseLogger.With("component", "research"),
		}, research.Options{
			MaxLinksPerSource: cfg.Research.MaxLinksPerSource,
			MaxPagesPerSource: cfg.Research.MaxPagesPerSource,
			MinRelevance:      cfg.Research.MinRelevance,
		}),
		Verification:   verification.NewStage(runs, runs, baseLogger.With("component", "verification"), nil),
		Implementation: implementation.NewStage(policies, runs, baseLogger.With("component", "implementation"), nil),
		Sources:        selected,
		Notifier:       notifier,
		Metrics:        recorder,
		Logger:         baseLogger,
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		metrics:  recorder,
		pipeline: pipeline,
	}, nil
}

func newClassifier(cfg config.ClassifierConfig, logger *slog.Logger) ports.Classifier {
	if cfg.Provider == config.ProviderHTTP {
		return ml.NewHTTPClassifier(cfg.Endpoint, cfg.APIKey, cfg.Timeout, logger)
	}
	if cfg.APIKey == "" {
		logger.Warn("classifier has no API key; classification calls will fail", "provider", cfg.Provider)
	}
	return llm.NewOpenAIClassifier(cfg, logger)
}

// Pipeline exposes the use case for one-shot commands.
func (a *Application) Pipeline() *usecase.Pipeline { return a.pipeline }

// RunOnce starts a run with titles loaded from the policy dataset.
func (a *Application) RunOnce(ctx context.Context) error {
	titles, err := a.pipeline.ExistingPolicyTitles(ctx)
	if err != nil {
		return err
	}
	run, err := a.pipeline.Start(ctx, titles)
	if err != nil {
		return err
	}
	a.logger.Info("run finished", "run_id", run.ID, "stage", run.Stage, "findings", run.FindingsCount)
	if run.Stage == domain.StageFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
	}
	return nil
}

// Serve runs the HTTP API, and the scheduler when enabled, until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	server := httpapi.New(ctx, a.pipeline, a.metrics, a.logger)

	var sched *usecase.Scheduler
	if a.cfg.Scheduler.Enabled {
		sched = usecase.NewScheduler(scheduler.NewTickerScheduler(a.cfg.Scheduler.Interval, false), a.pipeline, a.logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(a.cfg.HTTP.Addr)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	a.logger.Info("server stopped")
	return serveErr
}

// Close releases storage.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
