package domain

// ContrarianRecord is one author's minority call against one event, produced
// by the scorer. Records are created once per run and never mutated; a
// pending record is superseded by a finalized copy when the outcome arrives.
type ContrarianRecord struct {
	AuthorID      string
	AuthorName    string
	ArticleID     string
	Event         EventKey
	Predicted     Prediction
	WasMinority   bool
	MinorityShare float64
	Confidence    float64
	OutcomeMatch  *bool // nil while the earnings outcome is unknown
	Score         float64
	RunID         string // run that first emitted the record
}

// Pending reports whether the record still awaits the earnings outcome.
func (r ContrarianRecord) Pending() bool {
	return r.OutcomeMatch == nil
}

// Correct reports whether the record is finalized and matched the outcome.
func (r ContrarianRecord) Correct() bool {
	return r.OutcomeMatch != nil && *r.OutcomeMatch
}
