package analysis

import (
	"errors"
	"math"
	"testing"

	"ContrarianTracker/internal/domain"
)

func article(author string, sentiment domain.Sentiment, prediction domain.Prediction) domain.ArticleRecord {
	return domain.ArticleRecord{
		ID:            author + "-article",
		RawAuthorName: author,
		Sentiment:     sentiment,
		Prediction:    prediction,
	}
}

func repeat(n int, sentiment domain.Sentiment, prediction domain.Prediction) []domain.ArticleRecord {
	out := make([]domain.ArticleRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, article(string(rune('a'+i))+string(prediction), sentiment, prediction))
	}
	return out
}

func TestComputeDistributionsSumToOne(t *testing.T) {
	t.Parallel()

	calc := NewCalculator(3, 0.30, nil)
	event := domain.EventKey{Ticker: "AAPL", Date: "2026-01-15"}

	articles := append(repeat(7, domain.SentimentBullish, domain.PredictionBeat),
		repeat(3, domain.SentimentBearish, domain.PredictionMiss)...)

	snapshot, err := calc.Compute(event, articles)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}

	var sentimentSum, predictionSum float64
	for _, share := range snapshot.SentimentDistribution {
		sentimentSum += share
	}
	for _, share := range snapshot.PredictionDistribution {
		predictionSum += share
	}
	if math.Abs(sentimentSum-1) > 1e-6 {
		t.Fatalf("sentiment shares sum to %f", sentimentSum)
	}
	if math.Abs(predictionSum-1) > 1e-6 {
		t.Fatalf("prediction shares sum to %f", predictionSum)
	}

	if snapshot.MajorityPrediction != domain.PredictionBeat {
		t.Fatalf("majority = %s, want beat", snapshot.MajorityPrediction)
	}
	if snapshot.TotalArticles != 10 {
		t.Fatalf("total articles = %d, want 10", snapshot.TotalArticles)
	}
}

func TestComputeMinorityThresholdIsStrict(t *testing.T) {
	t.Parallel()

	event := domain.EventKey{Ticker: "MSFT", Date: "2026-02-01"}
	articles := append(repeat(7, domain.SentimentBearish, domain.PredictionMiss),
		repeat(3, domain.SentimentBullish, domain.PredictionBeat)...)

	// 3 of 10 is exactly the threshold share; strictly-below means not a
	// minority at 0.30.
	calc := NewCalculator(3, 0.30, nil)
	snapshot, err := calc.Compute(event, articles)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if snapshot.IsMinority(domain.PredictionBeat) {
		t.Fatalf("beat at share 0.30 flagged minority under threshold 0.30")
	}

	calc = NewCalculator(3, 0.31, nil)
	snapshot, err = calc.Compute(event, articles)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if !snapshot.IsMinority(domain.PredictionBeat) {
		t.Fatalf("beat at share 0.30 not flagged minority under threshold 0.31")
	}
	if got := snapshot.MinorityShare(domain.PredictionBeat); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("minority share = %f, want 0.3", got)
	}
}

func TestComputeMajorityTieBreakIsDeterministic(t *testing.T) {
	t.Parallel()

	event := domain.EventKey{Ticker: "NVDA", Date: "2026-03-10"}
	articles := append(repeat(2, domain.SentimentBullish, domain.PredictionBeat),
		repeat(2, domain.SentimentBearish, domain.PredictionMiss)...)
	articles = append(articles, repeat(1, domain.SentimentNeutral, domain.PredictionMeet)...)

	calc := NewCalculator(3, 0.30, nil)
	for i := 0; i < 20; i++ {
		snapshot, err := calc.Compute(event, articles)
		if err != nil {
			t.Fatalf("Compute error: %v", err)
		}
		if snapshot.MajorityPrediction != domain.PredictionBeat {
			t.Fatalf("iteration %d: tie broke to %s, want beat", i, snapshot.MajorityPrediction)
		}
	}

	calc = NewCalculator(3, 0.30, []domain.Prediction{domain.PredictionMiss, domain.PredictionBeat, domain.PredictionMeet})
	snapshot, err := calc.Compute(event, articles)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if snapshot.MajorityPrediction != domain.PredictionMiss {
		t.Fatalf("custom order tie broke to %s, want miss", snapshot.MajorityPrediction)
	}
}

func TestComputeIgnoresUnknownLabels(t *testing.T) {
	t.Parallel()

	event := domain.EventKey{Ticker: "TSLA", Date: "2026-04-20"}
	articles := append(repeat(3, domain.SentimentBullish, domain.PredictionBeat),
		domain.ArticleRecord{ID: "bad", RawAuthorName: "x", Sentiment: "mixed", Prediction: "crush"})

	calc := NewCalculator(3, 0.30, nil)
	snapshot, err := calc.Compute(event, articles)
	if err != nil {
		t.Fatalf("Compute error: %v", err)
	}
	if snapshot.TotalArticles != 3 {
		t.Fatalf("total articles = %d, want 3 (invalid labels skipped)", snapshot.TotalArticles)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	t.Parallel()

	event := domain.EventKey{Ticker: "AMD", Date: "2026-05-05"}
	calc := NewCalculator(3, 0.30, nil)

	_, err := calc.Compute(event, repeat(2, domain.SentimentBullish, domain.PredictionBeat))
	if err == nil {
		t.Fatalf("expected insufficient data error")
	}
	var insufficient *domain.InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("error type %T, want InsufficientDataError", err)
	}
	if insufficient.Got != 2 || insufficient.Need != 3 {
		t.Fatalf("got %d need %d, want 2 and 3", insufficient.Got, insufficient.Need)
	}
}
