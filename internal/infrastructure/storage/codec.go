package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ContrarianTracker/internal/domain"
)

// Column layouts for the persisted CSV files. The aggregate table follows
// the master database layout with one row per author; company sets are
// semicolon-delimited.

var masterHeader = []string{
	"Author_ID",
	"Author_Name",
	"First_Seen_Date",
	"Last_Seen_Date",
	"Total_Earnings_Calls",
	"Total_Contrarian_Instances",
	"Successful_Contrarian_Calls",
	"Failed_Contrarian_Calls",
	"Companies_Covered",
	"Success_Rate",
	"Overall_Contrarian_Score",
}

var historyHeader = []string{
	"Run_ID",
	"Kind",
	"Ticker",
	"Earnings_Date",
	"Article_ID",
	"Predicted",
	"Minority_Share",
	"Confidence",
	"Contrarian_Score",
	"Outcome",
	"Timestamp",
	"Author_Name",
}

var pendingHeader = []string{
	"Run_ID",
	"Author_ID",
	"Author_Name",
	"Article_ID",
	"Ticker",
	"Earnings_Date",
	"Predicted",
	"Minority_Share",
	"Confidence",
}

const companiesSeparator = ";"

func profileRow(p domain.AuthorProfile) []string {
	return []string{
		p.AuthorID,
		p.AuthorName,
		p.FirstSeenDate,
		p.LastSeenDate,
		strconv.Itoa(p.TotalEarningsCalls),
		strconv.Itoa(p.TotalContrarianInstances),
		strconv.Itoa(p.SuccessfulContrarianCalls),
		strconv.Itoa(p.FailedContrarianCalls),
		strings.Join(p.CompaniesCovered, companiesSeparator),
		formatFloat(p.SuccessRate),
		formatFloat(p.OverallContrarianScore),
	}
}

func parseProfileRow(row []string) (domain.AuthorProfile, error) {
	if len(row) != len(masterHeader) {
		return domain.AuthorProfile{}, fmt.Errorf("expected %d columns, got %d", len(masterHeader), len(row))
	}

	var p domain.AuthorProfile
	var err error
	p.AuthorID = row[0]
	p.AuthorName = row[1]
	p.FirstSeenDate = row[2]
	p.LastSeenDate = row[3]
	if p.TotalEarningsCalls, err = strconv.Atoi(row[4]); err != nil {
		return p, fmt.Errorf("total earnings calls: %w", err)
	}
	if p.TotalContrarianInstances, err = strconv.Atoi(row[5]); err != nil {
		return p, fmt.Errorf("total contrarian instances: %w", err)
	}
	if p.SuccessfulContrarianCalls, err = strconv.Atoi(row[6]); err != nil {
		return p, fmt.Errorf("successful contrarian calls: %w", err)
	}
	if p.FailedContrarianCalls, err = strconv.Atoi(row[7]); err != nil {
		return p, fmt.Errorf("failed contrarian calls: %w", err)
	}
	if row[8] != "" {
		p.CompaniesCovered = strings.Split(row[8], companiesSeparator)
	}
	if p.SuccessRate, err = strconv.ParseFloat(row[9], 64); err != nil {
		return p, fmt.Errorf("success rate: %w", err)
	}
	if p.OverallContrarianScore, err = strconv.ParseFloat(row[10], 64); err != nil {
		return p, fmt.Errorf("overall contrarian score: %w", err)
	}
	return p, nil
}

func historyRow(e domain.HistoryEntry) []string {
	return []string{
		e.RunID,
		string(e.Kind),
		e.Event.Ticker,
		e.Event.Date,
		e.ArticleID,
		string(e.Predicted),
		formatFloat(e.MinorityShare),
		formatFloat(e.Confidence),
		formatFloat(e.Score),
		string(e.Outcome),
		e.Timestamp.UTC().Format(time.RFC3339),
		e.AuthorName,
	}
}

func parseHistoryRow(authorID string, row []string) (domain.HistoryEntry, error) {
	if len(row) != len(historyHeader) {
		return domain.HistoryEntry{}, fmt.Errorf("expected %d columns, got %d", len(historyHeader), len(row))
	}

	e := domain.HistoryEntry{
		RunID:      row[0],
		AuthorID:   authorID,
		Kind:       domain.HistoryKind(row[1]),
		Event:      domain.EventKey{Ticker: row[2], Date: row[3]},
		ArticleID:  row[4],
		Predicted:  domain.Prediction(row[5]),
		Outcome:    domain.OutcomeStatus(row[9]),
		AuthorName: row[11],
	}

	var err error
	if e.MinorityShare, err = strconv.ParseFloat(row[6], 64); err != nil {
		return e, fmt.Errorf("minority share: %w", err)
	}
	if e.Confidence, err = strconv.ParseFloat(row[7], 64); err != nil {
		return e, fmt.Errorf("confidence: %w", err)
	}
	if e.Score, err = strconv.ParseFloat(row[8], 64); err != nil {
		return e, fmt.Errorf("score: %w", err)
	}
	if e.Timestamp, err = time.Parse(time.RFC3339, row[10]); err != nil {
		return e, fmt.Errorf("timestamp: %w", err)
	}
	return e, nil
}

func pendingRow(r domain.ContrarianRecord) []string {
	return []string{
		r.RunID,
		r.AuthorID,
		r.AuthorName,
		r.ArticleID,
		r.Event.Ticker,
		r.Event.Date,
		string(r.Predicted),
		formatFloat(r.MinorityShare),
		formatFloat(r.Confidence),
	}
}

func parsePendingRow(row []string) (domain.ContrarianRecord, error) {
	if len(row) != len(pendingHeader) {
		return domain.ContrarianRecord{}, fmt.Errorf("expected %d columns, got %d", len(pendingHeader), len(row))
	}

	r := domain.ContrarianRecord{
		RunID:       row[0],
		AuthorID:    row[1],
		AuthorName:  row[2],
		ArticleID:   row[3],
		Event:       domain.EventKey{Ticker: row[4], Date: row[5]},
		Predicted:   domain.Prediction(row[6]),
		WasMinority: true,
	}

	var err error
	if r.MinorityShare, err = strconv.ParseFloat(row[7], 64); err != nil {
		return r, fmt.Errorf("minority share: %w", err)
	}
	if r.Confidence, err = strconv.ParseFloat(row[8], 64); err != nil {
		return r, fmt.Errorf("confidence: %w", err)
	}
	return r, nil
}

// formatFloat keeps the shortest representation that round-trips exactly.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
