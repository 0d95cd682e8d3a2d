package domain

import (
	"fmt"
	"sort"
	"time"
)

// AuthorProfile is the persisted aggregate row for one author. It is the only
// mutable entity in the system and is always reconstructable by replaying the
// author's history entries.
type AuthorProfile struct {
	AuthorID                  string
	AuthorName                string
	FirstSeenDate             string // YYYY-MM-DD
	LastSeenDate              string
	TotalEarningsCalls        int
	TotalContrarianInstances  int
	SuccessfulContrarianCalls int
	FailedContrarianCalls     int
	CompaniesCovered          []string // sorted, unique
	SuccessRate               float64  // [0,1]
	OverallContrarianScore    float64  // [0,100]
}

// Scored returns how many of the author's contrarian calls have a known
// outcome. Used to decide seeding vs smoothing of the overall score.
func (p AuthorProfile) Scored() int {
	return p.SuccessfulContrarianCalls + p.FailedContrarianCalls
}

// AddCompanies unions tickers into the covered set, keeping it sorted.
func (p *AuthorProfile) AddCompanies(tickers []string) {
	seen := make(map[string]bool, len(p.CompaniesCovered)+len(tickers))
	for _, c := range p.CompaniesCovered {
		seen[c] = true
	}
	for _, t := range tickers {
		if t != "" && !seen[t] {
			seen[t] = true
			p.CompaniesCovered = append(p.CompaniesCovered, t)
		}
	}
	sort.Strings(p.CompaniesCovered)
}

// CheckInvariants verifies the profile's declared ranges and counting rules.
func (p AuthorProfile) CheckInvariants() error {
	switch {
	case p.AuthorID == "":
		return fmt.Errorf("author id is empty")
	case p.TotalContrarianInstances > p.TotalEarningsCalls:
		return fmt.Errorf("author %s: contrarian instances %d exceed earnings calls %d",
			p.AuthorID, p.TotalContrarianInstances, p.TotalEarningsCalls)
	case p.Scored() > p.TotalContrarianInstances:
		return fmt.Errorf("author %s: scored calls %d exceed contrarian instances %d",
			p.AuthorID, p.Scored(), p.TotalContrarianInstances)
	case p.SuccessRate < 0 || p.SuccessRate > 1:
		return fmt.Errorf("author %s: success rate %f out of range", p.AuthorID, p.SuccessRate)
	case p.OverallContrarianScore < 0 || p.OverallContrarianScore > 100:
		return fmt.Errorf("author %s: overall score %f out of range", p.AuthorID, p.OverallContrarianScore)
	}
	return nil
}

// HistoryKind classifies a history entry.
type HistoryKind string

const (
	// HistoryCoverage records plain participation in an event (counts
	// toward earnings calls only).
	HistoryCoverage HistoryKind = "coverage"
	// HistoryContrarian records a minority call, finalized or pending.
	HistoryContrarian HistoryKind = "contrarian"
	// HistoryRescore finalizes a previously pending contrarian call
	// without re-counting the instance.
	HistoryRescore HistoryKind = "rescore"
)

// OutcomeStatus is the persisted form of a record's outcome check.
type OutcomeStatus string

const (
	OutcomeCorrect OutcomeStatus = "correct"
	OutcomeWrong   OutcomeStatus = "wrong"
	OutcomePending OutcomeStatus = "pending"
	OutcomeNone    OutcomeStatus = "none" // coverage entries
)

// HistoryEntry is one immutable line in an author's append-only history.
// The full history is the authoritative state the aggregate derives from.
type HistoryEntry struct {
	RunID         string
	AuthorID      string
	AuthorName    string
	Kind          HistoryKind
	Event         EventKey
	ArticleID     string
	Predicted     Prediction
	MinorityShare float64
	Confidence    float64
	Score         float64
	Outcome       OutcomeStatus
	Timestamp     time.Time
}

// RunCommit carries everything one merged run writes to the store. A commit
// is atomic: either all of it lands or none of it does.
type RunCommit struct {
	RunID          string
	Profiles       map[string]AuthorProfile // full replacement aggregate
	Entries        []HistoryEntry
	AddPending     []ContrarianRecord
	ResolvePending []string // article IDs finalized by this run
}
