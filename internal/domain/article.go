package domain

import "time"

// Sentiment is the tone label assigned to an article by the upstream
// sentiment collaborator.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Valid reports whether the sentiment is one of the known labels.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentBullish, SentimentBearish, SentimentNeutral:
		return true
	}
	return false
}

// Prediction is an author's call on the earnings result.
type Prediction string

const (
	PredictionBeat Prediction = "beat"
	PredictionMiss Prediction = "miss"
	PredictionMeet Prediction = "meet"
)

// Valid reports whether the prediction is one of the known labels.
func (p Prediction) Valid() bool {
	switch p {
	case PredictionBeat, PredictionMiss, PredictionMeet:
		return true
	}
	return false
}

// EventKey identifies one company earnings event.
type EventKey struct {
	Ticker string
	Date   string // YYYY-MM-DD
}

// String renders the key in ticker@date form for logs and storage rows.
func (k EventKey) String() string {
	return k.Ticker + "@" + k.Date
}

// ArticleRecord is one labeled article delivered by upstream collaborators.
// Immutable once ingested.
type ArticleRecord struct {
	ID            string
	RawAuthorName string
	Sentiment     Sentiment
	Prediction    Prediction
	Confidence    float64 // [0,1]; 0 means "not reported"
	PublishedAt   time.Time
	Ticker        string
}

// EarningsOutcome is the ground-truth result for one event. It may arrive
// after the articles were processed; until then records stay pending.
type EarningsOutcome struct {
	Ticker         string
	Date           string
	PriceChangePct float64
	ActualResult   Prediction
}

// Event returns the outcome's event key.
func (o EarningsOutcome) Event() EventKey {
	return EventKey{Ticker: o.Ticker, Date: o.Date}
}
