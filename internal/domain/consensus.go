package domain

// ConsensusSnapshot captures the per-event label distributions and the
// majority/minority split. Computed per scoring pass, never persisted.
type ConsensusSnapshot struct {
	Event                  EventKey
	SentimentDistribution  map[Sentiment]float64
	PredictionDistribution map[Prediction]float64
	MajorityPrediction     Prediction
	MinorityThreshold      float64
	TotalArticles          int
}

// IsMinority reports whether the prediction's share is strictly below the
// minority threshold. Shares between the threshold and the majority form the
// ambiguous middle and are neither majority nor minority.
func (s ConsensusSnapshot) IsMinority(p Prediction) bool {
	share, ok := s.PredictionDistribution[p]
	if !ok || share == 0 {
		return false
	}
	return p != s.MajorityPrediction && share < s.MinorityThreshold
}

// MinorityShare returns the distribution share for a minority prediction,
// or 0 when the prediction is not a minority one.
func (s ConsensusSnapshot) MinorityShare(p Prediction) float64 {
	if !s.IsMinority(p) {
		return 0
	}
	return s.PredictionDistribution[p]
}
