package analysis

import (
	"math"

	"ContrarianTracker/internal/domain"
)

// AuthorPrediction ties a resolved author to one article's earnings call.
type AuthorPrediction struct {
	AuthorID   string
	AuthorName string
	ArticleID  string
	Prediction domain.Prediction
	Confidence float64
}

// Scorer flags minority authors and assigns contrarian scores once the
// earnings outcome is known.
type Scorer struct{}

// NewScorer returns the strict scorer: a wrong minority call scores exactly
// 0, a correct one scores round1((1-minorityShare)*confidence*100).
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score produces one contrarian record per author prediction that sits in
// the snapshot's minority. With a nil outcome the records are emitted
// pending (no score, unknown match) and are finalized later via Rescore.
func (s *Scorer) Score(snapshot domain.ConsensusSnapshot, outcome *domain.EarningsOutcome, predictions []AuthorPrediction, runID string) []domain.ContrarianRecord {
	var records []domain.ContrarianRecord
	for _, p := range predictions {
		if !snapshot.IsMinority(p.Prediction) {
			continue
		}

		record := domain.ContrarianRecord{
			AuthorID:      p.AuthorID,
			AuthorName:    p.AuthorName,
			ArticleID:     p.ArticleID,
			Event:         snapshot.Event,
			Predicted:     p.Prediction,
			WasMinority:   true,
			MinorityShare: snapshot.PredictionDistribution[p.Prediction],
			Confidence:    p.Confidence,
			RunID:         runID,
		}

		if outcome != nil {
			finalize(&record, *outcome)
		}

		records = append(records, record)
	}
	return records
}

// Rescore finalizes previously pending records against a now-available
// outcome. Records for other events pass through untouched, so the call is
// safe to repeat; already-finalized records must not be fed back in (the
// store's pending view guarantees that).
func (s *Scorer) Rescore(pending []domain.ContrarianRecord, outcome domain.EarningsOutcome) []domain.ContrarianRecord {
	finalized := make([]domain.ContrarianRecord, 0, len(pending))
	for _, record := range pending {
		if record.Event != outcome.Event() || !record.Pending() {
			continue
		}
		finalize(&record, outcome)
		finalized = append(finalized, record)
	}
	return finalized
}

func finalize(record *domain.ContrarianRecord, outcome domain.EarningsOutcome) {
	match := record.Predicted == outcome.ActualResult
	record.OutcomeMatch = &match
	if match {
		record.Score = scoreValue(record.MinorityShare, record.Confidence)
	} else {
		record.Score = 0
	}
}

// scoreValue implements the correctness-gated score. Confidence 0 is treated
// as "not reported" and weighted 1.0.
func scoreValue(minorityShare, confidence float64) float64 {
	weight := confidence
	if weight <= 0 {
		weight = 1.0
	}
	if weight > 1 {
		weight = 1
	}
	return round1((1 - minorityShare) * weight * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
