package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/ports"
)

// advisoryLockKey scopes the cross-process merge critical section. All
// writers of one master database share it.
const advisoryLockKey = 0x434f4e54 // "CONT"

// PostgresStore persists the master database in Postgres. Same contract as
// FileStore; the critical section uses a session advisory lock and the run
// commit is a single transaction.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.MasterStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB and ensures the schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS contrarian_authors (
			author_id TEXT PRIMARY KEY,
			author_name TEXT NOT NULL,
			first_seen_date TEXT NOT NULL,
			last_seen_date TEXT NOT NULL,
			total_earnings_calls INT NOT NULL,
			total_contrarian_instances INT NOT NULL,
			successful_contrarian_calls INT NOT NULL,
			failed_contrarian_calls INT NOT NULL,
			companies_covered TEXT[] NOT NULL DEFAULT '{}',
			success_rate DOUBLE PRECISION NOT NULL,
			overall_contrarian_score DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS author_history (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			author_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			ticker TEXT NOT NULL,
			earnings_date TEXT NOT NULL,
			article_id TEXT NOT NULL DEFAULT '',
			predicted TEXT NOT NULL DEFAULT '',
			minority_share DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS author_history_author_idx ON author_history (author_id, id)`,
		`CREATE TABLE IF NOT EXISTS pending_records (
			article_id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL,
			author_name TEXT NOT NULL,
			ticker TEXT NOT NULL,
			earnings_date TEXT NOT NULL,
			predicted TEXT NOT NULL,
			minority_share DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			run_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS applied_runs (
			run_id TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// AcquireLock takes a session advisory lock on a dedicated connection.
func (s *PostgresStore) AcquireLock(ctx context.Context) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("open lock connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)
		conn.Close()
	}
	return release, nil
}

// LoadProfiles reads and validates the aggregate table.
func (s *PostgresStore) LoadProfiles(ctx context.Context) (map[string]domain.AuthorProfile, error) {
	query := s.builder.
		Select("author_id", "author_name", "first_seen_date", "last_seen_date",
			"total_earnings_calls", "total_contrarian_instances",
			"successful_contrarian_calls", "failed_contrarian_calls",
			"companies_covered", "success_rate", "overall_contrarian_score").
		From("contrarian_authors")

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, &domain.DataIntegrityError{Source: "contrarian_authors", Reason: "query failed", Err: err}
	}
	defer rows.Close()

	profiles := map[string]domain.AuthorProfile{}
	for rows.Next() {
		var p domain.AuthorProfile
		var companies pq.StringArray
		if err := rows.Scan(&p.AuthorID, &p.AuthorName, &p.FirstSeenDate, &p.LastSeenDate,
			&p.TotalEarningsCalls, &p.TotalContrarianInstances,
			&p.SuccessfulContrarianCalls, &p.FailedContrarianCalls,
			&companies, &p.SuccessRate, &p.OverallContrarianScore); err != nil {
			return nil, &domain.DataIntegrityError{Source: "contrarian_authors", Reason: "scan failed", Err: err}
		}
		p.CompaniesCovered = []string(companies)
		if err := p.CheckInvariants(); err != nil {
			return nil, &domain.DataIntegrityError{Source: "contrarian_authors", Reason: "row violates invariants", Err: err}
		}
		profiles[p.AuthorID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.DataIntegrityError{Source: "contrarian_authors", Reason: "rows iteration", Err: err}
	}
	return profiles, nil
}

// RunApplied checks the run ledger.
func (s *PostgresStore) RunApplied(ctx context.Context, runID string) (bool, error) {
	var one int
	err := s.builder.
		Select("1").
		From("applied_runs").
		Where(sq.Eq{"run_id": runID}).
		Limit(1).
		RunWith(s.db).QueryRowContext(ctx).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check run %s: %w", runID, err)
	}
	return true, nil
}

// AppliedRuns lists the ledger in apply order.
func (s *PostgresStore) AppliedRuns(ctx context.Context) ([]string, error) {
	rows, err := s.builder.
		Select("run_id").
		From("applied_runs").
		OrderBy("applied_at", "run_id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applied runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		runs = append(runs, runID)
	}
	return runs, rows.Err()
}

// CommitRun writes one merged run in a single transaction.
func (s *PostgresStore) CommitRun(ctx context.Context, commit domain.RunCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, e := range commit.Entries {
		insert := s.builder.
			Insert("author_history").
			Columns("run_id", "author_id", "author_name", "kind", "ticker", "earnings_date",
				"article_id", "predicted", "minority_share", "confidence", "score", "outcome", "ts").
			Values(e.RunID, e.AuthorID, e.AuthorName, string(e.Kind), e.Event.Ticker, e.Event.Date,
				e.ArticleID, string(e.Predicted), e.MinorityShare, e.Confidence, e.Score,
				string(e.Outcome), e.Timestamp.UTC())
		if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("insert history entry: %w", err)
		}
	}

	if len(commit.ResolvePending) > 0 {
		del := s.builder.
			Delete("pending_records").
			Where(sq.Eq{"article_id": commit.ResolvePending})
		if _, err := del.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("resolve pending records: %w", err)
		}
	}

	for _, r := range commit.AddPending {
		insert := s.builder.
			Insert("pending_records").
			Columns("article_id", "author_id", "author_name", "ticker", "earnings_date",
				"predicted", "minority_share", "confidence", "run_id").
			Values(r.ArticleID, r.AuthorID, r.AuthorName, r.Event.Ticker, r.Event.Date,
				string(r.Predicted), r.MinorityShare, r.Confidence, r.RunID).
			Suffix("ON CONFLICT (article_id) DO NOTHING")
		if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("insert pending record: %w", err)
		}
	}

	for _, p := range commit.Profiles {
		if err := upsertProfile(ctx, tx, s.builder, p); err != nil {
			return err
		}
	}

	runInsert := s.builder.
		Insert("applied_runs").
		Columns("run_id", "applied_at").
		Values(commit.RunID, time.Now().UTC())
	if _, err := runInsert.RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("record applied run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", commit.RunID, err)
	}
	return nil
}

func upsertProfile(ctx context.Context, tx *sql.Tx, builder sq.StatementBuilderType, p domain.AuthorProfile) error {
	insert := builder.
		Insert("contrarian_authors").
		Columns("author_id", "author_name", "first_seen_date", "last_seen_date",
			"total_earnings_calls", "total_contrarian_instances",
			"successful_contrarian_calls", "failed_contrarian_calls",
			"companies_covered", "success_rate", "overall_contrarian_score").
		Values(p.AuthorID, p.AuthorName, p.FirstSeenDate, p.LastSeenDate,
			p.TotalEarningsCalls, p.TotalContrarianInstances,
			p.SuccessfulContrarianCalls, p.FailedContrarianCalls,
			pq.StringArray(p.CompaniesCovered), p.SuccessRate, p.OverallContrarianScore).
		Suffix(`ON CONFLICT (author_id) DO UPDATE SET
			author_name = EXCLUDED.author_name,
			first_seen_date = EXCLUDED.first_seen_date,
			last_seen_date = EXCLUDED.last_seen_date,
			total_earnings_calls = EXCLUDED.total_earnings_calls,
			total_contrarian_instances = EXCLUDED.total_contrarian_instances,
			successful_contrarian_calls = EXCLUDED.successful_contrarian_calls,
			failed_contrarian_calls = EXCLUDED.failed_contrarian_calls,
			companies_covered = EXCLUDED.companies_covered,
			success_rate = EXCLUDED.success_rate,
			overall_contrarian_score = EXCLUDED.overall_contrarian_score`)

	if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.AuthorID, err)
	}
	return nil
}

// PendingRecords lists unresolved contrarian records.
func (s *PostgresStore) PendingRecords(ctx context.Context) ([]domain.ContrarianRecord, error) {
	rows, err := s.builder.
		Select("article_id", "author_id", "author_name", "ticker", "earnings_date",
			"predicted", "minority_share", "confidence", "run_id").
		From("pending_records").
		OrderBy("run_id", "article_id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	defer rows.Close()

	var records []domain.ContrarianRecord
	for rows.Next() {
		r := domain.ContrarianRecord{WasMinority: true}
		var predicted string
		if err := rows.Scan(&r.ArticleID, &r.AuthorID, &r.AuthorName, &r.Event.Ticker, &r.Event.Date,
			&predicted, &r.MinorityShare, &r.Confidence, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan pending record: %w", err)
		}
		r.Predicted = domain.Prediction(predicted)
		records = append(records, r)
	}
	return records, rows.Err()
}

// AuthorIDs lists authors with recorded history.
func (s *PostgresStore) AuthorIDs(ctx context.Context) ([]string, error) {
	rows, err := s.builder.
		Select("DISTINCT author_id").
		From("author_history").
		OrderBy("author_id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan author id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AuthorHistory reads one author's log in append order.
func (s *PostgresStore) AuthorHistory(ctx context.Context, authorID string) ([]domain.HistoryEntry, error) {
	rows, err := s.builder.
		Select("run_id", "author_name", "kind", "ticker", "earnings_date",
			"article_id", "predicted", "minority_share", "confidence", "score", "outcome", "ts").
		From("author_history").
		Where(sq.Eq{"author_id": authorID}).
		OrderBy("id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", authorID, err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		e := domain.HistoryEntry{AuthorID: authorID}
		var kind, predicted, outcome string
		if err := rows.Scan(&e.RunID, &e.AuthorName, &kind, &e.Event.Ticker, &e.Event.Date,
			&e.ArticleID, &predicted, &e.MinorityShare, &e.Confidence, &e.Score, &outcome, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Kind = domain.HistoryKind(kind)
		e.Predicted = domain.Prediction(predicted)
		e.Outcome = domain.OutcomeStatus(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceAggregate rewrites the derived tables from a history replay.
func (s *PostgresStore) ReplaceAggregate(ctx context.Context, profiles map[string]domain.AuthorProfile, appliedRuns []string, pending []domain.ContrarianRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin repair: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"contrarian_authors", "pending_records", "applied_runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, p := range profiles {
		if err := upsertProfile(ctx, tx, s.builder, p); err != nil {
			return err
		}
	}

	for _, r := range pending {
		insert := s.builder.
			Insert("pending_records").
			Columns("article_id", "author_id", "author_name", "ticker", "earnings_date",
				"predicted", "minority_share", "confidence", "run_id").
			Values(r.ArticleID, r.AuthorID, r.AuthorName, r.Event.Ticker, r.Event.Date,
				string(r.Predicted), r.MinorityShare, r.Confidence, r.RunID)
		if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("reinsert pending record: %w", err)
		}
	}

	for i, runID := range appliedRuns {
		insert := s.builder.
			Insert("applied_runs").
			Columns("run_id", "applied_at").
			Values(runID, time.Now().UTC().Add(time.Duration(i)*time.Microsecond))
		if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("reinsert applied run: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit repair: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
