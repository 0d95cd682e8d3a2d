package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/ports"
)

// BatchSource reads labeled article batches dropped by the upstream
// news/sentiment collaborators as JSON files, one file per earnings event,
// named <TICKER>_<DATE>.json.
type BatchSource struct {
	dir    string
	logger *slog.Logger
}

var _ ports.ArticleSource = (*BatchSource)(nil)

// NewBatchSource points the source at a drop directory.
func NewBatchSource(dir string, logger *slog.Logger) *BatchSource {
	return &BatchSource{dir: dir, logger: logger}
}

type batchFile struct {
	Ticker       string         `json:"ticker"`
	EarningsDate string         `json:"earnings_date"`
	Articles     []batchArticle `json:"articles"`
}

type batchArticle struct {
	ID            string  `json:"id"`
	Author        string  `json:"author"`
	Sentiment     string  `json:"sentiment"`
	Prediction    string  `json:"prediction"`
	Confidence    float64 `json:"confidence"`
	PublishedDate string  `json:"published_date"`
}

// Events lists every event with a dropped batch file.
func (s *BatchSource) Events(ctx context.Context) ([]domain.EventKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list article batches: %w", err)
	}

	var events []domain.EventKey
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		event, ok := eventFromFileName(entry.Name())
		if !ok {
			s.warn("skipping batch file with unrecognized name", "file", entry.Name())
			continue
		}
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].Ticker < events[j].Ticker
	})
	return events, nil
}

// FetchBatch parses the event's batch file into article records.
func (s *BatchSource) FetchBatch(ctx context.Context, event domain.EventKey) ([]domain.ArticleRecord, error) {
	path := filepath.Join(s.dir, fileName(event))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", path, err)
	}

	var batch batchFile
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", path, err)
	}
	if batch.Ticker != "" && batch.Ticker != event.Ticker {
		return nil, fmt.Errorf("batch %s declares ticker %s", path, batch.Ticker)
	}

	records := make([]domain.ArticleRecord, 0, len(batch.Articles))
	for i, a := range batch.Articles {
		id := a.ID
		if id == "" {
			id = fmt.Sprintf("%s_%s_%d", event.Ticker, event.Date, i+1)
		}
		records = append(records, domain.ArticleRecord{
			ID:            id,
			RawAuthorName: a.Author,
			Sentiment:     domain.Sentiment(strings.ToLower(a.Sentiment)),
			Prediction:    domain.Prediction(strings.ToLower(a.Prediction)),
			Confidence:    a.Confidence,
			PublishedAt:   parseDate(a.PublishedDate),
			Ticker:        event.Ticker,
		})
	}
	return records, nil
}

func (s *BatchSource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// OutcomeFiles reads earnings outcomes from a drop directory with the same
// <TICKER>_<DATE>.json naming. A missing file means the outcome has not
// been published yet.
type OutcomeFiles struct {
	dir string
}

var _ ports.OutcomeSource = (*OutcomeFiles)(nil)

// NewOutcomeFiles points the source at the outcome drop directory.
func NewOutcomeFiles(dir string) *OutcomeFiles {
	return &OutcomeFiles{dir: dir}
}

type outcomeFile struct {
	Ticker         string  `json:"ticker"`
	EarningsDate   string  `json:"earnings_date"`
	ActualResult   string  `json:"actual_result"`
	PriceChangePct float64 `json:"price_change_pct"`
}

// Fetch returns the event outcome or domain.ErrOutcomeUnavailable.
func (s *OutcomeFiles) Fetch(ctx context.Context, event domain.EventKey) (domain.EarningsOutcome, error) {
	path := filepath.Join(s.dir, fileName(event))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.EarningsOutcome{}, fmt.Errorf("event %s: %w", event, domain.ErrOutcomeUnavailable)
		}
		return domain.EarningsOutcome{}, fmt.Errorf("read outcome %s: %w", path, err)
	}

	var file outcomeFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return domain.EarningsOutcome{}, fmt.Errorf("parse outcome %s: %w", path, err)
	}

	result := domain.Prediction(strings.ToLower(file.ActualResult))
	if !result.Valid() {
		return domain.EarningsOutcome{}, fmt.Errorf("event %s: unknown actual result %q: %w", event, file.ActualResult, domain.ErrOutcomeUnavailable)
	}

	return domain.EarningsOutcome{
		Ticker:         event.Ticker,
		Date:           event.Date,
		PriceChangePct: file.PriceChangePct,
		ActualResult:   result,
	}, nil
}

func fileName(event domain.EventKey) string {
	return event.Ticker + "_" + event.Date + ".json"
}

// eventFromFileName parses TICKER_YYYY-MM-DD.json.
func eventFromFileName(name string) (domain.EventKey, bool) {
	base := strings.TrimSuffix(name, ".json")
	idx := strings.LastIndex(base, "_")
	if idx <= 0 || idx == len(base)-1 {
		return domain.EventKey{}, false
	}
	ticker, date := base[:idx], base[idx+1:]
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.EventKey{}, false
	}
	return domain.EventKey{Ticker: ticker, Date: date}, true
}

func parseDate(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
