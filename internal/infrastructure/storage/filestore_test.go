package storage

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"ContrarianTracker/internal/domain"
)

func profileFixture() domain.AuthorProfile {
	return domain.AuthorProfile{
		AuthorID:                  "jane_doe",
		AuthorName:                "Jane Doe",
		FirstSeenDate:             "2026-01-16",
		LastSeenDate:              "2026-02-02",
		TotalEarningsCalls:        5,
		TotalContrarianInstances:  3,
		SuccessfulContrarianCalls: 2,
		FailedContrarianCalls:     1,
		CompaniesCovered:          []string{"AAPL", "MSFT", "NVDA"},
		SuccessRate:               0.6667,
		OverallContrarianScore:    61.25,
	}
}

func TestProfileRowRoundTrip(t *testing.T) {
	t.Parallel()

	want := profileFixture()
	got, err := parseProfileRow(profileRow(want))
	if err != nil {
		t.Fatalf("parseProfileRow error: %v", err)
	}

	if got.AuthorID != want.AuthorID || got.AuthorName != want.AuthorName {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if !slices.Equal(got.CompaniesCovered, want.CompaniesCovered) {
		t.Fatalf("companies = %v, want %v", got.CompaniesCovered, want.CompaniesCovered)
	}
	if got.SuccessRate != want.SuccessRate || got.OverallContrarianScore != want.OverallContrarianScore {
		t.Fatalf("floats did not round-trip: %+v", got)
	}
	if got.TotalEarningsCalls != 5 || got.TotalContrarianInstances != 3 {
		t.Fatalf("counters did not round-trip: %+v", got)
	}
}

func TestHistoryRowRoundTrip(t *testing.T) {
	t.Parallel()

	want := domain.HistoryEntry{
		RunID:         "run_20260116_060000_ab12cd34",
		AuthorID:      "jane_doe",
		AuthorName:    "Jane Doe",
		Kind:          domain.HistoryContrarian,
		Event:         domain.EventKey{Ticker: "AAPL", Date: "2026-01-15"},
		ArticleID:     "a1",
		Predicted:     domain.PredictionBeat,
		MinorityShare: 0.25,
		Confidence:    0.9,
		Score:         67.5,
		Outcome:       domain.OutcomeCorrect,
		Timestamp:     time.Date(2026, time.January, 16, 6, 0, 0, 0, time.UTC),
	}

	got, err := parseHistoryRow("jane_doe", historyRow(want))
	if err != nil {
		t.Fatalf("parseHistoryRow error: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\nwant: %+v\ngot:  %+v", want, got)
	}
}

func TestCommitRunPersistsAllViews(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	profile := profileFixture()
	pending := domain.ContrarianRecord{
		AuthorID:      "jane_doe",
		AuthorName:    "Jane Doe",
		ArticleID:     "a9",
		Event:         domain.EventKey{Ticker: "NVDA", Date: "2026-03-10"},
		Predicted:     domain.PredictionMiss,
		WasMinority:   true,
		MinorityShare: 0.2,
		Confidence:    0.7,
		RunID:         "run_1",
	}
	entry := domain.HistoryEntry{
		RunID:         "run_1",
		AuthorID:      "jane_doe",
		AuthorName:    "Jane Doe",
		Kind:          domain.HistoryContrarian,
		Event:         pending.Event,
		ArticleID:     "a9",
		Predicted:     domain.PredictionMiss,
		MinorityShare: 0.2,
		Confidence:    0.7,
		Outcome:       domain.OutcomePending,
		Timestamp:     time.Date(2026, time.March, 11, 6, 0, 0, 0, time.UTC),
	}

	commit := domain.RunCommit{
		RunID:      "run_1",
		Profiles:   map[string]domain.AuthorProfile{"jane_doe": profile},
		Entries:    []domain.HistoryEntry{entry},
		AddPending: []domain.ContrarianRecord{pending},
	}
	if err := store.CommitRun(ctx, commit); err != nil {
		t.Fatalf("CommitRun error: %v", err)
	}

	profiles, err := store.LoadProfiles(ctx)
	if err != nil {
		t.Fatalf("LoadProfiles error: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(profiles))
	}
	if profiles["jane_doe"].OverallContrarianScore != profile.OverallContrarianScore {
		t.Fatalf("profile did not persist: %+v", profiles["jane_doe"])
	}

	records, err := store.PendingRecords(ctx)
	if err != nil {
		t.Fatalf("PendingRecords error: %v", err)
	}
	if len(records) != 1 || records[0].ArticleID != "a9" || !records[0].Pending() {
		t.Fatalf("pending view = %+v", records)
	}

	applied, err := store.RunApplied(ctx, "run_1")
	if err != nil {
		t.Fatalf("RunApplied error: %v", err)
	}
	if !applied {
		t.Fatalf("run_1 missing from ledger")
	}

	ids, err := store.AuthorIDs(ctx)
	if err != nil {
		t.Fatalf("AuthorIDs error: %v", err)
	}
	if !slices.Equal(ids, []string{"jane_doe"}) {
		t.Fatalf("author ids = %v", ids)
	}

	history, err := store.AuthorHistory(ctx, "jane_doe")
	if err != nil {
		t.Fatalf("AuthorHistory error: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != domain.OutcomePending {
		t.Fatalf("history = %+v", history)
	}
}

func TestCommitRunResolvesPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	pending := domain.ContrarianRecord{
		AuthorID:    "jane_doe",
		ArticleID:   "a1",
		Event:       domain.EventKey{Ticker: "AAPL", Date: "2026-01-15"},
		Predicted:   domain.PredictionBeat,
		WasMinority: true,
		RunID:       "run_1",
	}
	if err := store.CommitRun(ctx, domain.RunCommit{
		RunID:      "run_1",
		Profiles:   map[string]domain.AuthorProfile{},
		AddPending: []domain.ContrarianRecord{pending},
	}); err != nil {
		t.Fatalf("first CommitRun error: %v", err)
	}

	if err := store.CommitRun(ctx, domain.RunCommit{
		RunID:          "run_2",
		Profiles:       map[string]domain.AuthorProfile{},
		ResolvePending: []string{"a1"},
	}); err != nil {
		t.Fatalf("second CommitRun error: %v", err)
	}

	records, err := store.PendingRecords(ctx)
	if err != nil {
		t.Fatalf("PendingRecords error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("pending view still has %d records", len(records))
	}

	runs, err := store.AppliedRuns(ctx)
	if err != nil {
		t.Fatalf("AppliedRuns error: %v", err)
	}
	if !slices.Equal(runs, []string{"run_1", "run_2"}) {
		t.Fatalf("run ledger = %v", runs)
	}
}

func TestHistoryAppendsAcrossCommits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	ts := time.Date(2026, time.January, 16, 6, 0, 0, 0, time.UTC)
	for i, runID := range []string{"run_1", "run_2"} {
		entry := domain.HistoryEntry{
			RunID:     runID,
			AuthorID:  "jane_doe",
			Kind:      domain.HistoryCoverage,
			Event:     domain.EventKey{Ticker: "AAPL", Date: "2026-01-15"},
			Outcome:   domain.OutcomeNone,
			Timestamp: ts.AddDate(0, 0, i),
		}
		if err := store.CommitRun(ctx, domain.RunCommit{
			RunID:    runID,
			Profiles: map[string]domain.AuthorProfile{},
			Entries:  []domain.HistoryEntry{entry},
		}); err != nil {
			t.Fatalf("CommitRun %s error: %v", runID, err)
		}
	}

	history, err := store.AuthorHistory(ctx, "jane_doe")
	if err != nil {
		t.Fatalf("AuthorHistory error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	if history[0].RunID != "run_1" || history[1].RunID != "run_2" {
		t.Fatalf("append order lost: %s, %s", history[0].RunID, history[1].RunID)
	}
}

func TestLoadProfilesRejectsCorruptTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	if err := writeFileAtomic(store.masterPath, func(f *os.File) error {
		_, err := f.WriteString("not,a,master,table\n")
		return err
	}); err != nil {
		t.Fatalf("corrupt table: %v", err)
	}

	_, err = store.LoadProfiles(ctx)
	if err == nil {
		t.Fatalf("expected integrity error")
	}
	var integrity *domain.DataIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("error type %T, want DataIntegrityError", err)
	}
}

func TestAcquireLockTakesOverStaleLock(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	// A lock file left by a crashed process, last touched well past the
	// stale cutoff.
	if err := os.WriteFile(store.lockPath, []byte("4242 2026-01-01T00:00:00Z\n"), 0o644); err != nil {
		t.Fatalf("write lock file: %v", err)
	}
	old := time.Now().Add(-lockStaleAfter - time.Minute)
	if err := os.Chtimes(store.lockPath, old, old); err != nil {
		t.Fatalf("age lock file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	release, err := store.AcquireLock(ctx)
	if err != nil {
		t.Fatalf("AcquireLock over stale lock error: %v", err)
	}
	release()

	if _, err := os.Stat(store.lockPath); !os.IsNotExist(err) {
		t.Fatalf("lock file still present after release: %v", err)
	}
}

func TestTakeOverStaleLockKeepsFreshLock(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	// The stat raced: by the time the takeover runs, the file is a live
	// lock from another process. It must survive the attempt.
	if err := os.WriteFile(store.lockPath, []byte("4242 now\n"), 0o644); err != nil {
		t.Fatalf("write lock file: %v", err)
	}

	store.takeOverStaleLock()

	if _, err := os.Stat(store.lockPath); err != nil {
		t.Fatalf("fresh lock was stolen: %v", err)
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	release, err := store.AcquireLock(context.Background())
	if err != nil {
		t.Fatalf("AcquireLock error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := store.AcquireLock(ctx); err == nil {
		t.Fatalf("second AcquireLock succeeded while lock held")
	}

	release()

	release2, err := store.AcquireLock(context.Background())
	if err != nil {
		t.Fatalf("AcquireLock after release error: %v", err)
	}
	release2()
}
