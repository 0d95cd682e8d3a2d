package master

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/ports"
)

const dateLayout = "2006-01-02"

// RunInput carries one run's merge payload.
type RunInput struct {
	RunID     string
	Timestamp time.Time
	// Records are this run's fresh contrarian records, finalized or pending.
	Records []domain.ContrarianRecord
	// Rescored are previously pending records finalized by this run.
	Rescored []domain.ContrarianRecord
	// Coverage lists every author touched this run with the events they
	// covered, contrarian or not.
	Coverage []AuthorCoverage
}

// AuthorCoverage is one author's participation in a run.
type AuthorCoverage struct {
	AuthorID   string
	AuthorName string
	Events     []domain.EventKey
}

// RunReport summarizes what a merge committed.
type RunReport struct {
	AuthorsTouched  int
	NewAuthors      int
	EntriesWritten  int
	PendingAdded    int
	PendingResolved int
	RecordsDeduped  int  // fresh records dropped: already recorded in history
	RescoresDropped int  // rescores dropped: record no longer pending
	Duplicate       bool // run id was already applied; merge was a no-op
}

// Merger folds per-run contrarian outcomes into the persisted author
// profiles. The store handle is explicit; there is no process-wide state.
type Merger struct {
	store  ports.MasterStore
	alpha  float64
	logger *slog.Logger
}

// NewMerger wires the merger with its store and smoothing factor.
func NewMerger(store ports.MasterStore, alpha float64, logger *slog.Logger) *Merger {
	return &Merger{store: store, alpha: alpha, logger: logger}
}

// MergeRun applies one run under the store lock. History entries are written
// before the aggregate, and the whole commit is atomic: either every author
// update lands or none does. Re-merging an already-applied run id is a
// logged no-op, and payload that history already records is dropped under
// the lock, so reprocessing identical input data never double-counts.
func (m *Merger) MergeRun(ctx context.Context, in RunInput) (RunReport, error) {
	release, err := m.store.AcquireLock(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("acquire store lock: %w", err)
	}
	defer release()

	applied, err := m.store.RunApplied(ctx, in.RunID)
	if err != nil {
		return RunReport{}, fmt.Errorf("check run ledger: %w", err)
	}
	if applied {
		m.info("run already applied, skipping merge", "run_id", in.RunID)
		return RunReport{Duplicate: true}, nil
	}

	profiles, err := m.store.LoadProfiles(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("load aggregate: %w", err)
	}

	processed, err := m.loadProcessedIndex(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("load processed index: %w", err)
	}
	pendingNow, err := m.store.PendingRecords(ctx)
	if err != nil {
		return RunReport{}, fmt.Errorf("load pending view: %w", err)
	}

	report := RunReport{}
	in = dedupeRun(in, processed, pendingNow, &report)

	stats := collectRunStats(in)
	if len(stats) == 0 {
		m.info("nothing new to merge",
			"run_id", in.RunID,
			"records_deduped", report.RecordsDeduped,
			"rescores_dropped", report.RescoresDropped)
		return report, nil
	}

	runDate := in.Timestamp.Format(dateLayout)
	report.AuthorsTouched = len(stats)
	var entries []domain.HistoryEntry
	var pendingAdded []domain.ContrarianRecord
	var resolved []string

	for _, authorID := range sortedKeys(stats) {
		s := stats[authorID]

		profile, exists := profiles[authorID]
		if !exists {
			report.NewAuthors++
			profile = domain.AuthorProfile{
				AuthorID:      authorID,
				AuthorName:    s.name,
				FirstSeenDate: runDate,
				LastSeenDate:  runDate,
			}
			// A rescore with no prior profile means the pending instance
			// was never counted; book it as a fresh contrarian call.
			s.promoteRescores()
		}

		authorEntries := s.historyEntries(in.RunID, in.Timestamp)
		entries = append(entries, authorEntries...)

		applyRun(&profile, s, runDate, m.alpha)
		if err := profile.CheckInvariants(); err != nil {
			return RunReport{}, &domain.DataIntegrityError{
				Source: "merge",
				Reason: "merged profile violates invariants",
				Err:    err,
			}
		}
		profiles[authorID] = profile

		for _, r := range s.contrarian {
			if r.Pending() {
				pendingAdded = append(pendingAdded, r)
			}
		}
		for _, r := range s.rescored {
			resolved = append(resolved, r.ArticleID)
		}
	}

	commit := domain.RunCommit{
		RunID:          in.RunID,
		Profiles:       profiles,
		Entries:        entries,
		AddPending:     pendingAdded,
		ResolvePending: resolved,
	}
	if err := m.store.CommitRun(ctx, commit); err != nil {
		return RunReport{}, fmt.Errorf("commit run %s: %w", in.RunID, err)
	}

	report.EntriesWritten = len(entries)
	report.PendingAdded = len(pendingAdded)
	report.PendingResolved = len(resolved)
	m.info("run merged",
		"run_id", in.RunID,
		"authors", report.AuthorsTouched,
		"new_authors", report.NewAuthors,
		"entries", report.EntriesWritten,
		"pending_added", report.PendingAdded,
		"pending_resolved", report.PendingResolved,
		"records_deduped", report.RecordsDeduped,
		"rescores_dropped", report.RescoresDropped)
	return report, nil
}

// processedIndex is what history already records: scored article ids and
// (author, event) participation pairs.
type processedIndex struct {
	articles map[string]bool
	pairs    map[string]bool
}

func pairKey(authorID string, event domain.EventKey) string {
	return authorID + "|" + event.String()
}

// loadProcessedIndex scans every author history under the store lock.
// Coverage and contrarian entries claim their (author, event) pair; rescore
// entries do not, the pair was claimed when the call went pending.
func (m *Merger) loadProcessedIndex(ctx context.Context) (processedIndex, error) {
	idx := processedIndex{articles: map[string]bool{}, pairs: map[string]bool{}}

	authorIDs, err := m.store.AuthorIDs(ctx)
	if err != nil {
		return idx, err
	}
	for _, authorID := range authorIDs {
		entries, err := m.store.AuthorHistory(ctx, authorID)
		if err != nil {
			return idx, err
		}
		for _, e := range entries {
			if e.ArticleID != "" {
				idx.articles[e.ArticleID] = true
			}
			if e.Kind == domain.HistoryCoverage || e.Kind == domain.HistoryContrarian {
				idx.pairs[pairKey(e.AuthorID, e.Event)] = true
			}
		}
	}
	return idx, nil
}

// dedupeRun drops run payload that would double-count: fresh records whose
// article or (author, event) pair has a history entry, coverage for pairs
// with an entry, and rescores whose record is no longer in the pending
// view. The pending re-check runs under the lock, so two overlapping runs
// cannot both finalize the same record.
func dedupeRun(in RunInput, processed processedIndex, pending []domain.ContrarianRecord, report *RunReport) RunInput {
	pendingByArticle := make(map[string]bool, len(pending))
	for _, r := range pending {
		pendingByArticle[r.ArticleID] = true
	}

	var records []domain.ContrarianRecord
	for _, r := range in.Records {
		if processed.articles[r.ArticleID] || processed.pairs[pairKey(r.AuthorID, r.Event)] {
			report.RecordsDeduped++
			continue
		}
		records = append(records, r)
	}

	var rescored []domain.ContrarianRecord
	for _, r := range in.Rescored {
		if !pendingByArticle[r.ArticleID] {
			report.RescoresDropped++
			continue
		}
		rescored = append(rescored, r)
	}

	var coverage []AuthorCoverage
	for _, cov := range in.Coverage {
		var events []domain.EventKey
		for _, event := range cov.Events {
			if processed.pairs[pairKey(cov.AuthorID, event)] {
				continue
			}
			events = append(events, event)
		}
		if len(events) == 0 {
			continue
		}
		cov.Events = events
		coverage = append(coverage, cov)
	}

	in.Records = records
	in.Rescored = rescored
	in.Coverage = coverage
	return in
}

// authorRunStats is one author's slice of a run.
type authorRunStats struct {
	authorID   string
	name       string
	covered    []domain.EventKey // events with no contrarian record
	contrarian []domain.ContrarianRecord
	rescored   []domain.ContrarianRecord
	tickers    []string
}

// promoteRescores reclassifies rescored records as fresh contrarian calls.
// Used only when the author has no profile, so instance counting stays
// consistent with a history replay.
func (s *authorRunStats) promoteRescores() {
	s.contrarian = append(s.contrarian, s.rescored...)
	s.rescored = nil
}

// historyEntries renders the author's run slice as history lines: one entry
// per covered event, one per contrarian record, one per rescore.
func (s *authorRunStats) historyEntries(runID string, ts time.Time) []domain.HistoryEntry {
	entries := make([]domain.HistoryEntry, 0, len(s.covered)+len(s.contrarian)+len(s.rescored))
	for _, event := range s.covered {
		entries = append(entries, domain.HistoryEntry{
			RunID:      runID,
			AuthorID:   s.authorID,
			AuthorName: s.name,
			Kind:       domain.HistoryCoverage,
			Event:      event,
			Outcome:    domain.OutcomeNone,
			Timestamp:  ts,
		})
	}
	for _, r := range s.contrarian {
		entries = append(entries, recordEntry(r, s.name, runID, domain.HistoryContrarian, ts))
	}
	for _, r := range s.rescored {
		entries = append(entries, recordEntry(r, s.name, runID, domain.HistoryRescore, ts))
	}
	return entries
}

func recordEntry(r domain.ContrarianRecord, name, runID string, kind domain.HistoryKind, ts time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		RunID:         runID,
		AuthorID:      r.AuthorID,
		AuthorName:    name,
		Kind:          kind,
		Event:         r.Event,
		ArticleID:     r.ArticleID,
		Predicted:     r.Predicted,
		MinorityShare: r.MinorityShare,
		Confidence:    r.Confidence,
		Score:         r.Score,
		Outcome:       outcomeStatus(r),
		Timestamp:     ts,
	}
}

func outcomeStatus(r domain.ContrarianRecord) domain.OutcomeStatus {
	switch {
	case r.Pending():
		return domain.OutcomePending
	case *r.OutcomeMatch:
		return domain.OutcomeCorrect
	default:
		return domain.OutcomeWrong
	}
}

// collectRunStats groups the run payload per author. Events with a
// contrarian record are excluded from plain coverage so each (author, event)
// pair yields exactly one entry.
func collectRunStats(in RunInput) map[string]*authorRunStats {
	stats := map[string]*authorRunStats{}
	get := func(authorID, name string) *authorRunStats {
		s, ok := stats[authorID]
		if !ok {
			s = &authorRunStats{authorID: authorID, name: name}
			stats[authorID] = s
		}
		if s.name == "" {
			s.name = name
		}
		return s
	}

	contrarianEvents := map[string]map[domain.EventKey]bool{}
	for _, r := range in.Records {
		s := get(r.AuthorID, r.AuthorName)
		s.contrarian = append(s.contrarian, r)
		s.tickers = append(s.tickers, r.Event.Ticker)
		if contrarianEvents[r.AuthorID] == nil {
			contrarianEvents[r.AuthorID] = map[domain.EventKey]bool{}
		}
		contrarianEvents[r.AuthorID][r.Event] = true
	}

	for _, r := range in.Rescored {
		s := get(r.AuthorID, r.AuthorName)
		s.rescored = append(s.rescored, r)
	}

	for _, cov := range in.Coverage {
		s := get(cov.AuthorID, cov.AuthorName)
		for _, event := range cov.Events {
			if contrarianEvents[cov.AuthorID][event] {
				continue
			}
			s.covered = append(s.covered, event)
			s.tickers = append(s.tickers, event.Ticker)
		}
	}

	return stats
}

// applyRun folds one author's run slice into the profile. ReplayHistory
// applies the identical arithmetic, so a replay from empty state reproduces
// the incrementally merged profile.
func applyRun(p *domain.AuthorProfile, s *authorRunStats, runDate string, alpha float64) {
	scoredBefore := p.Scored() > 0

	p.TotalEarningsCalls += len(s.covered) + len(s.contrarian)
	p.TotalContrarianInstances += len(s.contrarian)

	var scores []float64
	for _, r := range append(append([]domain.ContrarianRecord{}, s.contrarian...), s.rescored...) {
		if r.Pending() {
			continue
		}
		if r.Correct() {
			p.SuccessfulContrarianCalls++
		} else {
			p.FailedContrarianCalls++
		}
		scores = append(scores, r.Score)
	}

	if len(scores) > 0 {
		avg := mean(scores)
		if scoredBefore {
			p.OverallContrarianScore = round2(p.OverallContrarianScore*(1-alpha) + avg*alpha)
		} else {
			p.OverallContrarianScore = round2(avg)
		}
	}

	p.SuccessRate = successRate(p.SuccessfulContrarianCalls, p.TotalContrarianInstances)
	p.AddCompanies(s.tickers)
	if runDate > p.LastSeenDate {
		p.LastSeenDate = runDate
	}
}

// successRate is the cumulative correct share over all contrarian instances,
// defined as 0 when the denominator is 0.
func successRate(successful, instances int) float64 {
	if instances == 0 {
		return 0
	}
	return round4(float64(successful) / float64(instances))
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func sortedKeys(stats map[string]*authorRunStats) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Merger) info(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}
