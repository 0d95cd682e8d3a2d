package ports

import (
	"context"
	"time"

	"ContrarianTracker/internal/domain"
)

// ArticleSource delivers pre-labeled article batches from the upstream
// news/sentiment collaborators, one batch per earnings event.
type ArticleSource interface {
	Events(ctx context.Context) ([]domain.EventKey, error)
	FetchBatch(ctx context.Context, event domain.EventKey) ([]domain.ArticleRecord, error)
}

// OutcomeSource retrieves the ground-truth earnings result for an event.
// Returns domain.ErrOutcomeUnavailable while the result is not published.
type OutcomeSource interface {
	Fetch(ctx context.Context, event domain.EventKey) (domain.EarningsOutcome, error)
}

// AuthorResolver maps a raw author name onto a stable identifier. The
// default implementation is exact normalized-string matching; a fuzzy
// strategy can be substituted without touching the merger.
type AuthorResolver interface {
	Resolve(rawName string) (string, error)
}

// MasterStore persists the aggregate author table, the append-only
// per-author histories, and the derived pending/run-ledger views.
type MasterStore interface {
	// AcquireLock enters the cross-process critical section around
	// "load aggregate, merge, commit". Held for the whole run.
	AcquireLock(ctx context.Context) (release func(), err error)

	// LoadProfiles reads the aggregate table, verifying invariants.
	// Returns *domain.DataIntegrityError when the table is corrupt.
	LoadProfiles(ctx context.Context) (map[string]domain.AuthorProfile, error)

	// RunApplied reports whether the run id was merged before.
	RunApplied(ctx context.Context, runID string) (bool, error)

	// AppliedRuns lists every merged run id in apply order.
	AppliedRuns(ctx context.Context) ([]string, error)

	// CommitRun atomically writes a merged run: history entries first,
	// then pending view, aggregate, and run ledger.
	CommitRun(ctx context.Context, commit domain.RunCommit) error

	// PendingRecords lists contrarian records still awaiting an outcome.
	PendingRecords(ctx context.Context) ([]domain.ContrarianRecord, error)

	// AuthorIDs lists every author with recorded history.
	AuthorIDs(ctx context.Context) ([]string, error)

	// AuthorHistory returns an author's entries in append order.
	AuthorHistory(ctx context.Context, authorID string) ([]domain.HistoryEntry, error)

	// ReplaceAggregate overwrites the derived state (aggregate table, run
	// ledger, pending view) from a history replay. Repair path only.
	ReplaceAggregate(ctx context.Context, profiles map[string]domain.AuthorProfile, appliedRuns []string, pending []domain.ContrarianRecord) error

	Close() error
}

// Notifier publishes run summaries to an outbound channel.
type Notifier interface {
	PublishSummary(ctx context.Context, summary string) error
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
