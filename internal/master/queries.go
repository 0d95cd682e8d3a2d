package master

import (
	"context"
	"fmt"
	"sort"

	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/ports"
)

// Query serves read-side lookups over the aggregate table.
type Query struct {
	store ports.MasterStore
}

// NewQuery wraps a store for read-only access.
func NewQuery(store ports.MasterStore) *Query {
	return &Query{store: store}
}

// TopContrarians returns up to limit profiles ordered by overall contrarian
// score, success rate breaking ties.
func (q *Query) TopContrarians(ctx context.Context, limit int) ([]domain.AuthorProfile, error) {
	profiles, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].OverallContrarianScore != profiles[j].OverallContrarianScore {
			return profiles[i].OverallContrarianScore > profiles[j].OverallContrarianScore
		}
		if profiles[i].SuccessRate != profiles[j].SuccessRate {
			return profiles[i].SuccessRate > profiles[j].SuccessRate
		}
		return profiles[i].AuthorID < profiles[j].AuthorID
	})

	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

// RepeatContrarians returns authors with at least minInstances contrarian
// calls, ordered by instance count.
func (q *Query) RepeatContrarians(ctx context.Context, minInstances int) ([]domain.AuthorProfile, error) {
	profiles, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	repeat := profiles[:0]
	for _, p := range profiles {
		if p.TotalContrarianInstances >= minInstances {
			repeat = append(repeat, p)
		}
	}

	sort.Slice(repeat, func(i, j int) bool {
		if repeat[i].TotalContrarianInstances != repeat[j].TotalContrarianInstances {
			return repeat[i].TotalContrarianInstances > repeat[j].TotalContrarianInstances
		}
		return repeat[i].AuthorID < repeat[j].AuthorID
	})
	return repeat, nil
}

// AuthorHistory returns one author's full history in append order.
func (q *Query) AuthorHistory(ctx context.Context, authorID string) ([]domain.HistoryEntry, error) {
	entries, err := q.store.AuthorHistory(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", authorID, err)
	}
	return entries, nil
}

func (q *Query) load(ctx context.Context) ([]domain.AuthorProfile, error) {
	byID, err := q.store.LoadProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aggregate: %w", err)
	}
	profiles := make([]domain.AuthorProfile, 0, len(byID))
	for _, p := range byID {
		profiles = append(profiles, p)
	}
	return profiles, nil
}
