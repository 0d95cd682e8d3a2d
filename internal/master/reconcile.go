package master

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"ContrarianTracker/internal/domain"
)

// ReconcileReport describes a startup reconciliation pass.
type ReconcileReport struct {
	Authors  int
	Repaired bool
	Reason   string
}

// Reconcile replays the full history log and compares the result against the
// persisted aggregate and its derived views. On divergence (crash between a
// history append and the aggregate commit, or a corrupt table) the aggregate
// is rewritten from history, which is the authoritative state.
func (m *Merger) Reconcile(ctx context.Context) (ReconcileReport, error) {
	release, err := m.store.AcquireLock(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("acquire store lock: %w", err)
	}
	defer release()

	authorIDs, err := m.store.AuthorIDs(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list authors: %w", err)
	}

	rebuilt := make(map[string]domain.AuthorProfile, len(authorIDs))
	var runIDs []string
	var pending []domain.ContrarianRecord
	for _, authorID := range authorIDs {
		entries, err := m.store.AuthorHistory(ctx, authorID)
		if err != nil {
			return ReconcileReport{}, fmt.Errorf("read history for %s: %w", authorID, err)
		}
		profile, err := ReplayHistory(entries, m.alpha)
		if err != nil {
			return ReconcileReport{}, fmt.Errorf("replay history for %s: %w", authorID, err)
		}
		rebuilt[authorID] = profile
		pending = append(pending, PendingFromHistory(entries)...)
		for _, e := range entries {
			if !slices.Contains(runIDs, e.RunID) {
				runIDs = append(runIDs, e.RunID)
			}
		}
	}

	report := ReconcileReport{Authors: len(authorIDs)}

	reason := m.divergence(ctx, rebuilt, runIDs, pending)
	if reason == "" {
		return report, nil
	}

	m.info("aggregate diverged from history, repairing", "reason", reason, "authors", len(rebuilt))
	if err := m.store.ReplaceAggregate(ctx, rebuilt, runIDs, pending); err != nil {
		return ReconcileReport{}, fmt.Errorf("repair aggregate: %w", err)
	}
	report.Repaired = true
	report.Reason = reason
	return report, nil
}

// divergence returns a non-empty reason when the persisted aggregate or its
// derived views do not match the history replay.
func (m *Merger) divergence(ctx context.Context, rebuilt map[string]domain.AuthorProfile, runIDs []string, pending []domain.ContrarianRecord) string {
	profiles, err := m.store.LoadProfiles(ctx)
	if err != nil {
		var integrity *domain.DataIntegrityError
		if errors.As(err, &integrity) {
			return "aggregate table unreadable: " + integrity.Reason
		}
		return "aggregate table unreadable"
	}

	if len(profiles) != len(rebuilt) {
		return fmt.Sprintf("aggregate has %d authors, history has %d", len(profiles), len(rebuilt))
	}
	for id, want := range rebuilt {
		got, ok := profiles[id]
		if !ok {
			return "author " + id + " missing from aggregate"
		}
		if !profilesEqual(got, want) {
			return "author " + id + " differs from history replay"
		}
	}

	applied, err := m.store.AppliedRuns(ctx)
	if err != nil || !sameSet(applied, runIDs) {
		return "run ledger out of sync with history"
	}

	stored, err := m.store.PendingRecords(ctx)
	if err != nil || !samePending(stored, pending) {
		return "pending view out of sync with history"
	}

	return ""
}

func profilesEqual(a, b domain.AuthorProfile) bool {
	return a.AuthorID == b.AuthorID &&
		a.AuthorName == b.AuthorName &&
		a.FirstSeenDate == b.FirstSeenDate &&
		a.LastSeenDate == b.LastSeenDate &&
		a.TotalEarningsCalls == b.TotalEarningsCalls &&
		a.TotalContrarianInstances == b.TotalContrarianInstances &&
		a.SuccessfulContrarianCalls == b.SuccessfulContrarianCalls &&
		a.FailedContrarianCalls == b.FailedContrarianCalls &&
		slices.Equal(a.CompaniesCovered, b.CompaniesCovered) &&
		a.SuccessRate == b.SuccessRate &&
		a.OverallContrarianScore == b.OverallContrarianScore
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(as, bs)
}

func samePending(a, b []domain.ContrarianRecord) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(r domain.ContrarianRecord) string {
		return r.AuthorID + "|" + r.ArticleID
	}
	keys := make(map[string]bool, len(a))
	for _, r := range a {
		keys[key(r)] = true
	}
	for _, r := range b {
		if !keys[key(r)] {
			return false
		}
	}
	return true
}
