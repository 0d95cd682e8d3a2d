package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ContrarianTracker/internal/analysis"
	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/identity"
	"ContrarianTracker/internal/master"
	"ContrarianTracker/internal/ports"
)

// topContrariansInSummary caps the leaderboard section of a run summary.
const topContrariansInSummary = 5

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.ArticleSource
	Outcomes   ports.OutcomeSource
	Resolver   ports.AuthorResolver
	Store      ports.MasterStore
	Calculator *analysis.Calculator
	Scorer     *analysis.Scorer
	Merger     *master.Merger
	Query      *master.Query
	Notifier   ports.Notifier
	Logger     *slog.Logger
}

// Pipeline implements one contrarian-analysis run: rescore pending records,
// compute consensus per event, score minority authors, merge into the
// master database.
type Pipeline struct {
	source     ports.ArticleSource
	outcomes   ports.OutcomeSource
	resolver   ports.AuthorResolver
	store      ports.MasterStore
	calculator *analysis.Calculator
	scorer     *analysis.Scorer
	merger     *master.Merger
	query      *master.Query
	notifier   ports.Notifier
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		source:     deps.Source,
		outcomes:   deps.Outcomes,
		resolver:   deps.Resolver,
		store:      deps.Store,
		calculator: deps.Calculator,
		scorer:     deps.Scorer,
		merger:     deps.Merger,
		query:      deps.Query,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
	}
}

// RunSummary reports what one run did, with skipped, pending, and merged
// counts kept distinct.
type RunSummary struct {
	RunID                 string
	EventsProcessed       int
	EventsSkipped         int // insufficient data or unreadable batch
	ArticlesSeen          int
	ArticlesSkippedAuthor int // empty/whitespace author names
	ContrarianRecords     int // newly merged minority records
	PendingEmitted        int
	PendingResolved       int
	AuthorsMerged         int
	NewAuthors            int
	DuplicateRun          bool
}

// Run executes one full pipeline pass. Per-event failures are isolated:
// they are logged and counted, and the remaining events still process.
func (p *Pipeline) Run(ctx context.Context, now time.Time) (RunSummary, error) {
	summary := RunSummary{RunID: newRunID(now)}
	logger := p.log().With("run_id", summary.RunID)
	logger.Info("run started")

	rescored, err := p.rescorePending(ctx, logger)
	if err != nil {
		return summary, err
	}

	var fresh []domain.ContrarianRecord
	coverage := newCoverageSet()

	events, err := p.source.Events(ctx)
	if err != nil {
		return summary, fmt.Errorf("list events: %w", err)
	}

	for _, event := range events {
		records, err := p.processEvent(ctx, logger, event, summary.RunID, &summary, coverage)
		if err != nil {
			var insufficient *domain.InsufficientDataError
			if errors.As(err, &insufficient) {
				logger.Info("event skipped", "event", event.String(), "reason", insufficient.Error())
			} else {
				logger.Warn("event failed", "event", event.String(), "error", err)
			}
			summary.EventsSkipped++
			continue
		}

		fresh = append(fresh, records...)
		summary.EventsProcessed++
	}

	if len(fresh) == 0 && len(rescored) == 0 && coverage.empty() {
		logger.Info("nothing to merge")
		p.publish(ctx, summary, nil)
		return summary, nil
	}

	// The merger re-checks the payload against history and the pending view
	// under the store lock, so reprocessed batches cannot double-count.
	report, err := p.merger.MergeRun(ctx, master.RunInput{
		RunID:     summary.RunID,
		Timestamp: now,
		Records:   fresh,
		Rescored:  rescored,
		Coverage:  coverage.list(),
	})
	if err != nil {
		return summary, fmt.Errorf("merge run: %w", err)
	}

	summary.ContrarianRecords = len(fresh) - report.RecordsDeduped
	summary.PendingEmitted = report.PendingAdded
	summary.PendingResolved = report.PendingResolved
	summary.AuthorsMerged = report.AuthorsTouched
	summary.NewAuthors = report.NewAuthors
	summary.DuplicateRun = report.Duplicate

	logger.Info("run finished",
		"events_processed", summary.EventsProcessed,
		"events_skipped", summary.EventsSkipped,
		"articles_seen", summary.ArticlesSeen,
		"articles_skipped_author", summary.ArticlesSkippedAuthor,
		"contrarian_records", summary.ContrarianRecords,
		"pending_emitted", summary.PendingEmitted,
		"pending_resolved", summary.PendingResolved,
		"authors_merged", summary.AuthorsMerged,
		"records_deduped", report.RecordsDeduped,
		"rescores_dropped", report.RescoresDropped)

	p.publish(ctx, summary, p.topContrarians(ctx, logger))
	return summary, nil
}

// processEvent fetches, resolves, and scores one earnings event, recording
// coverage for every valid author.
func (p *Pipeline) processEvent(ctx context.Context, logger *slog.Logger, event domain.EventKey, runID string, summary *RunSummary, coverage *coverageSet) ([]domain.ContrarianRecord, error) {
	articles, err := p.source.FetchBatch(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	summary.ArticlesSeen += len(articles)

	var valid []domain.ArticleRecord
	var predictions []analysis.AuthorPrediction
	for _, article := range articles {
		authorID, err := p.resolver.Resolve(article.RawAuthorName)
		if err != nil {
			summary.ArticlesSkippedAuthor++
			logger.Warn("article skipped", "article_id", article.ID, "error", err)
			continue
		}
		if !article.Sentiment.Valid() || !article.Prediction.Valid() {
			logger.Warn("article skipped", "article_id", article.ID, "error", "unknown label")
			continue
		}

		valid = append(valid, article)
		predictions = append(predictions, analysis.AuthorPrediction{
			AuthorID:   authorID,
			AuthorName: identity.DisplayName(article.RawAuthorName),
			ArticleID:  article.ID,
			Prediction: article.Prediction,
			Confidence: article.Confidence,
		})
	}

	snapshot, err := p.calculator.Compute(event, valid)
	if err != nil {
		return nil, err
	}

	outcome, err := p.fetchOutcome(ctx, logger, event)
	if err != nil {
		return nil, err
	}

	for _, pred := range predictions {
		coverage.add(pred.AuthorID, pred.AuthorName, event)
	}

	return p.scorer.Score(snapshot, outcome, predictions, runID), nil
}

// fetchOutcome treats an unavailable outcome as nil so the scorer emits
// pending records; genuine read errors abort the event.
func (p *Pipeline) fetchOutcome(ctx context.Context, logger *slog.Logger, event domain.EventKey) (*domain.EarningsOutcome, error) {
	outcome, err := p.outcomes.Fetch(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrOutcomeUnavailable) {
			logger.Info("outcome not yet available", "event", event.String())
			return nil, nil
		}
		return nil, fmt.Errorf("fetch outcome: %w", err)
	}
	return &outcome, nil
}

// rescorePending finalizes stored pending records whose outcomes arrived
// since the run that emitted them.
func (p *Pipeline) rescorePending(ctx context.Context, logger *slog.Logger) ([]domain.ContrarianRecord, error) {
	pending, err := p.store.PendingRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending records: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	byEvent := map[domain.EventKey][]domain.ContrarianRecord{}
	var order []domain.EventKey
	for _, r := range pending {
		if _, ok := byEvent[r.Event]; !ok {
			order = append(order, r.Event)
		}
		byEvent[r.Event] = append(byEvent[r.Event], r)
	}

	var rescored []domain.ContrarianRecord
	for _, event := range order {
		outcome, err := p.outcomes.Fetch(ctx, event)
		if err != nil {
			if errors.Is(err, domain.ErrOutcomeUnavailable) {
				logger.Info("pending records still waiting", "event", event.String(), "count", len(byEvent[event]))
				continue
			}
			logger.Warn("outcome fetch failed for pending event", "event", event.String(), "error", err)
			continue
		}
		rescored = append(rescored, p.scorer.Rescore(byEvent[event], outcome)...)
	}

	if len(rescored) > 0 {
		logger.Info("pending records finalized", "count", len(rescored))
	}
	return rescored, nil
}

// topContrarians loads the current leaderboard for the run report.
func (p *Pipeline) topContrarians(ctx context.Context, logger *slog.Logger) []domain.AuthorProfile {
	if p.query == nil {
		return nil
	}
	top, err := p.query.TopContrarians(ctx, topContrariansInSummary)
	if err != nil {
		logger.Warn("load top contrarians", "error", err)
		return nil
	}
	for i, a := range top {
		logger.Info("top contrarian",
			"rank", i+1,
			"author_id", a.AuthorID,
			"score", a.OverallContrarianScore,
			"success_rate", a.SuccessRate,
			"instances", a.TotalContrarianInstances)
	}
	return top
}

func (p *Pipeline) publish(ctx context.Context, summary RunSummary, top []domain.AuthorProfile) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishSummary(ctx, formatSummary(summary, top)); err != nil {
		p.log().Warn("publish run summary", "run_id", summary.RunID, "error", err)
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

func formatSummary(s RunSummary, top []domain.AuthorProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"*Contrarian run %s*\nEvents: %d processed, %d skipped\nArticles: %d seen, %d skipped (invalid author)\nContrarian records: %d (%d pending)\nPending resolved: %d\nAuthors merged: %d (%d new)",
		s.RunID,
		s.EventsProcessed, s.EventsSkipped,
		s.ArticlesSeen, s.ArticlesSkippedAuthor,
		s.ContrarianRecords, s.PendingEmitted,
		s.PendingResolved,
		s.AuthorsMerged, s.NewAuthors)

	if len(top) > 0 {
		b.WriteString("\nTop contrarians:")
		for i, a := range top {
			fmt.Fprintf(&b, "\n%d. %s: %.1f (%d calls, %.0f%% correct)",
				i+1, a.AuthorName, a.OverallContrarianScore,
				a.TotalContrarianInstances, a.SuccessRate*100)
		}
	}
	return b.String()
}

func newRunID(now time.Time) string {
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

// coverageSet accumulates per-author event participation across the run.
type coverageSet struct {
	authors map[string]*master.AuthorCoverage
	order   []string
}

func newCoverageSet() *coverageSet {
	return &coverageSet{authors: map[string]*master.AuthorCoverage{}}
}

func (c *coverageSet) add(authorID, name string, event domain.EventKey) {
	cov, ok := c.authors[authorID]
	if !ok {
		cov = &master.AuthorCoverage{AuthorID: authorID, AuthorName: name}
		c.authors[authorID] = cov
		c.order = append(c.order, authorID)
	}
	for _, existing := range cov.Events {
		if existing == event {
			return
		}
	}
	cov.Events = append(cov.Events, event)
}

func (c *coverageSet) empty() bool {
	return len(c.authors) == 0
}

func (c *coverageSet) list() []master.AuthorCoverage {
	out := make([]master.AuthorCoverage, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.authors[id])
	}
	return out
}
