package master

import (
	"fmt"

	"ContrarianTracker/internal/domain"
)

// ReplayHistory folds an author's history entries, in append order, into a
// profile built from empty state. It applies the same per-run arithmetic as
// MergeRun, so the result matches the incrementally merged profile exactly.
func ReplayHistory(entries []domain.HistoryEntry, alpha float64) (domain.AuthorProfile, error) {
	if len(entries) == 0 {
		return domain.AuthorProfile{}, fmt.Errorf("no history entries to replay")
	}

	runs, order, err := groupByRun(entries)
	if err != nil {
		return domain.AuthorProfile{}, err
	}

	first := runs[order[0]][0]
	profile := domain.AuthorProfile{
		AuthorID:      first.AuthorID,
		AuthorName:    firstName(entries),
		FirstSeenDate: first.Timestamp.Format(dateLayout),
		LastSeenDate:  first.Timestamp.Format(dateLayout),
	}

	for _, runID := range order {
		group := runs[runID]
		stats := statsFromEntries(profile.AuthorID, group)
		applyRun(&profile, stats, group[0].Timestamp.Format(dateLayout), alpha)
	}

	return profile, nil
}

// PendingFromHistory derives the unresolved contrarian records from one
// author's entries: pending calls with no later finalization.
func PendingFromHistory(entries []domain.HistoryEntry) []domain.ContrarianRecord {
	open := map[string]domain.ContrarianRecord{}
	var order []string
	for _, e := range entries {
		switch e.Kind {
		case domain.HistoryContrarian:
			if e.Outcome == domain.OutcomePending {
				if _, seen := open[e.ArticleID]; !seen {
					order = append(order, e.ArticleID)
				}
				open[e.ArticleID] = entryRecord(e)
			} else {
				delete(open, e.ArticleID)
			}
		case domain.HistoryRescore:
			delete(open, e.ArticleID)
		}
	}

	var pending []domain.ContrarianRecord
	for _, id := range order {
		if r, ok := open[id]; ok {
			pending = append(pending, r)
		}
	}
	return pending
}

func groupByRun(entries []domain.HistoryEntry) (map[string][]domain.HistoryEntry, []string, error) {
	runs := map[string][]domain.HistoryEntry{}
	var order []string
	for _, e := range entries {
		if e.RunID == "" {
			return nil, nil, fmt.Errorf("history entry for %s has no run id", e.Event)
		}
		if _, ok := runs[e.RunID]; !ok {
			order = append(order, e.RunID)
		}
		runs[e.RunID] = append(runs[e.RunID], e)
	}
	return runs, order, nil
}

func statsFromEntries(authorID string, group []domain.HistoryEntry) *authorRunStats {
	stats := &authorRunStats{authorID: authorID, name: group[0].AuthorName}
	for _, e := range group {
		switch e.Kind {
		case domain.HistoryCoverage:
			stats.covered = append(stats.covered, e.Event)
			stats.tickers = append(stats.tickers, e.Event.Ticker)
		case domain.HistoryContrarian:
			stats.contrarian = append(stats.contrarian, entryRecord(e))
			stats.tickers = append(stats.tickers, e.Event.Ticker)
		case domain.HistoryRescore:
			stats.rescored = append(stats.rescored, entryRecord(e))
		}
	}
	return stats
}

func entryRecord(e domain.HistoryEntry) domain.ContrarianRecord {
	record := domain.ContrarianRecord{
		AuthorID:      e.AuthorID,
		AuthorName:    e.AuthorName,
		ArticleID:     e.ArticleID,
		Event:         e.Event,
		Predicted:     e.Predicted,
		WasMinority:   true,
		MinorityShare: e.MinorityShare,
		Confidence:    e.Confidence,
		Score:         e.Score,
		RunID:         e.RunID,
	}
	switch e.Outcome {
	case domain.OutcomeCorrect:
		match := true
		record.OutcomeMatch = &match
	case domain.OutcomeWrong:
		match := false
		record.OutcomeMatch = &match
	}
	return record
}

func firstName(entries []domain.HistoryEntry) string {
	for _, e := range entries {
		if e.AuthorName != "" {
			return e.AuthorName
		}
	}
	return ""
}
