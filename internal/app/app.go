package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ContrarianTracker/internal/analysis"
	"ContrarianTracker/internal/config"
	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/identity"
	"ContrarianTracker/internal/infrastructure/scheduler"
	"ContrarianTracker/internal/infrastructure/source"
	"ContrarianTracker/internal/infrastructure/storage"
	"ContrarianTracker/internal/infrastructure/telegram"
	"ContrarianTracker/internal/logging"
	"ContrarianTracker/internal/master"
	"ContrarianTracker/internal/ports"
	"ContrarianTracker/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    ports.MasterStore
	merger   *master.Merger
	pipeline *usecase.Pipeline
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.NewMasterStore(baseLogger.With("component", "storage"), cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open master store: %w", err)
	}

	merger := master.NewMerger(store, cfg.Analysis.SmoothingAlpha, baseLogger.With("component", "merger"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source.NewBatchSource(cfg.Providers.ArticleDir, baseLogger.With("component", "source")),
		Outcomes:   source.NewOutcomeFiles(cfg.Providers.OutcomeDir),
		Resolver:   identity.NewResolver(),
		Store:      store,
		Calculator: analysis.NewCalculator(cfg.Analysis.MinArticlesForConsensus, cfg.Analysis.MinorityThreshold, tieBreakOrder(cfg.Analysis.TieBreakOrder)),
		Scorer:     analysis.NewScorer(),
		Merger:     merger,
		Query:      master.NewQuery(store),
		Notifier:   notifier,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		merger:   merger,
		pipeline: pipeline,
	}, nil
}

// Run reconciles the aggregate against history, then executes either a
// single pipeline run or the recurring cron loop.
func (a *Application) Run(ctx context.Context) error {
	defer a.store.Close()

	report, err := a.merger.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	if report.Repaired {
		a.logger.Warn("aggregate repaired from history", "reason", report.Reason, "authors", report.Authors)
	}

	if !a.cfg.Scheduler.Enabled {
		_, err := a.pipeline.Run(ctx, time.Now().In(a.cfg.Scheduler.Location()))
		return err
	}

	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location())
	runner := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return runner.Stop(stopCtx)
}

func tieBreakOrder(labels []string) []domain.Prediction {
	order := make([]domain.Prediction, 0, len(labels))
	for _, label := range labels {
		order = append(order, domain.Prediction(label))
	}
	return order
}
