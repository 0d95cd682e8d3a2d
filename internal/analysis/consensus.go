package analysis

import (
	"ContrarianTracker/internal/domain"
)

// Calculator computes per-event sentiment and prediction distributions and
// the majority/minority split.
type Calculator struct {
	minArticles       int
	minorityThreshold float64
	tieBreakOrder     []domain.Prediction
}

// NewCalculator builds a calculator with the configured thresholds. The tie
// break order decides exact majority ties deterministically: the earliest
// listed label wins (default beat, meet, miss).
func NewCalculator(minArticles int, minorityThreshold float64, tieBreakOrder []domain.Prediction) *Calculator {
	if len(tieBreakOrder) == 0 {
		tieBreakOrder = []domain.Prediction{domain.PredictionBeat, domain.PredictionMeet, domain.PredictionMiss}
	}
	return &Calculator{
		minArticles:       minArticles,
		minorityThreshold: minorityThreshold,
		tieBreakOrder:     tieBreakOrder,
	}
}

// Compute derives the consensus snapshot for one event from its labeled
// articles. Articles with unknown labels are ignored; fewer than the
// configured minimum of valid records yields InsufficientDataError.
func (c *Calculator) Compute(event domain.EventKey, articles []domain.ArticleRecord) (domain.ConsensusSnapshot, error) {
	sentimentCounts := map[domain.Sentiment]int{}
	predictionCounts := map[domain.Prediction]int{}

	valid := 0
	for _, a := range articles {
		if !a.Sentiment.Valid() || !a.Prediction.Valid() {
			continue
		}
		sentimentCounts[a.Sentiment]++
		predictionCounts[a.Prediction]++
		valid++
	}

	if valid < c.minArticles {
		return domain.ConsensusSnapshot{}, &domain.InsufficientDataError{Event: event, Got: valid, Need: c.minArticles}
	}

	snapshot := domain.ConsensusSnapshot{
		Event:                  event,
		SentimentDistribution:  make(map[domain.Sentiment]float64, len(sentimentCounts)),
		PredictionDistribution: make(map[domain.Prediction]float64, len(predictionCounts)),
		MinorityThreshold:      c.minorityThreshold,
		TotalArticles:          valid,
	}

	total := float64(valid)
	for label, n := range sentimentCounts {
		snapshot.SentimentDistribution[label] = float64(n) / total
	}
	for label, n := range predictionCounts {
		snapshot.PredictionDistribution[label] = float64(n) / total
	}

	snapshot.MajorityPrediction = c.majority(predictionCounts)
	return snapshot, nil
}

// majority returns the modal prediction, breaking exact ties by the
// canonical order rather than map iteration order.
func (c *Calculator) majority(counts map[domain.Prediction]int) domain.Prediction {
	best := domain.Prediction("")
	bestCount := -1
	for _, label := range c.tieBreakOrder {
		if n := counts[label]; n > bestCount {
			best = label
			bestCount = n
		}
	}
	// Labels outside the canonical order can still win outright.
	for label, n := range counts {
		if n > bestCount {
			best = label
			bestCount = n
		}
	}
	return best
}
