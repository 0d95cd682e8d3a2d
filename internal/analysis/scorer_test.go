package analysis

import (
	"testing"

	"ContrarianTracker/internal/domain"
)

func snapshotFixture() domain.ConsensusSnapshot {
	return domain.ConsensusSnapshot{
		Event: domain.EventKey{Ticker: "AAPL", Date: "2026-01-15"},
		PredictionDistribution: map[domain.Prediction]float64{
			domain.PredictionMiss: 0.70,
			domain.PredictionBeat: 0.30,
		},
		MajorityPrediction: domain.PredictionMiss,
		MinorityThreshold:  0.31,
		TotalArticles:      10,
	}
}

func TestScoreCorrectMinorityCall(t *testing.T) {
	t.Parallel()

	scorer := NewScorer()
	outcome := domain.EarningsOutcome{Ticker: "AAPL", Date: "2026-01-15", ActualResult: domain.PredictionBeat}

	predictions := []AuthorPrediction{
		{AuthorID: "jane_doe", AuthorName: "Jane Doe", ArticleID: "a1", Prediction: domain.PredictionBeat},
		{AuthorID: "bob_lee", AuthorName: "Bob Lee", ArticleID: "a2", Prediction: domain.PredictionMiss},
	}

	records := scorer.Score(snapshotFixture(), &outcome, predictions, "run_1")
	if len(records) != 1 {
		t.Fatalf("expected 1 record (majority authors excluded), got %d", len(records))
	}

	r := records[0]
	if r.AuthorID != "jane_doe" || !r.WasMinority {
		t.Fatalf("unexpected record: %+v", r)
	}
	if !r.Correct() {
		t.Fatalf("correct minority call not marked correct")
	}
	// Unreported confidence weighs 1.0: (1-0.30)*1.0*100 = 70.0.
	if r.Score != 70.0 {
		t.Fatalf("score = %v, want 70.0", r.Score)
	}
	if r.RunID != "run_1" {
		t.Fatalf("run id = %q", r.RunID)
	}
}

func TestScoreConfidenceWeighting(t *testing.T) {
	t.Parallel()

	scorer := NewScorer()
	outcome := domain.EarningsOutcome{Ticker: "AAPL", Date: "2026-01-15", ActualResult: domain.PredictionBeat}

	predictions := []AuthorPrediction{
		{AuthorID: "jane_doe", ArticleID: "a1", Prediction: domain.PredictionBeat, Confidence: 0.8},
	}

	records := scorer.Score(snapshotFixture(), &outcome, predictions, "run_1")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	// (1-0.30)*0.8*100 = 56.0
	if records[0].Score != 56.0 {
		t.Fatalf("score = %v, want 56.0", records[0].Score)
	}
}

func TestScoreWrongMinorityCallScoresZero(t *testing.T) {
	t.Parallel()

	scorer := NewScorer()
	outcome := domain.EarningsOutcome{Ticker: "AAPL", Date: "2026-01-15", ActualResult: domain.PredictionMiss}

	predictions := []AuthorPrediction{
		{AuthorID: "jane_doe", ArticleID: "a1", Prediction: domain.PredictionBeat, Confidence: 0.9},
	}

	records := scorer.Score(snapshotFixture(), &outcome, predictions, "run_1")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.Pending() || r.Correct() {
		t.Fatalf("wrong call not finalized as wrong: %+v", r)
	}
	if r.Score != 0 {
		t.Fatalf("wrong call scored %v, want 0", r.Score)
	}
}

func TestScoreWithoutOutcomeEmitsPending(t *testing.T) {
	t.Parallel()

	scorer := NewScorer()
	predictions := []AuthorPrediction{
		{AuthorID: "jane_doe", ArticleID: "a1", Prediction: domain.PredictionBeat, Confidence: 0.9},
	}

	records := scorer.Score(snapshotFixture(), nil, predictions, "run_1")
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !records[0].Pending() {
		t.Fatalf("record with no outcome should stay pending")
	}
	if records[0].Score != 0 {
		t.Fatalf("pending record carries score %v", records[0].Score)
	}
}

func TestRescoreFinalizesMatchingEventOnly(t *testing.T) {
	t.Parallel()

	scorer := NewScorer()
	pending := []domain.ContrarianRecord{
		{
			AuthorID:      "jane_doe",
			ArticleID:     "a1",
			Event:         domain.EventKey{Ticker: "AAPL", Date: "2026-01-15"},
			Predicted:     domain.PredictionBeat,
			WasMinority:   true,
			MinorityShare: 0.30,
			Confidence:    0.5,
		},
		{
			AuthorID:    "bob_lee",
			ArticleID:   "b1",
			Event:       domain.EventKey{Ticker: "MSFT", Date: "2026-02-01"},
			Predicted:   domain.PredictionMiss,
			WasMinority: true,
		},
	}

	outcome := domain.EarningsOutcome{Ticker: "AAPL", Date: "2026-01-15", ActualResult: domain.PredictionBeat}
	finalized := scorer.Rescore(pending, outcome)

	if len(finalized) != 1 {
		t.Fatalf("expected 1 finalized record, got %d", len(finalized))
	}
	r := finalized[0]
	if r.ArticleID != "a1" || !r.Correct() {
		t.Fatalf("unexpected finalized record: %+v", r)
	}
	// (1-0.30)*0.5*100 = 35.0
	if r.Score != 35.0 {
		t.Fatalf("score = %v, want 35.0", r.Score)
	}
}
