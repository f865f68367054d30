package crawler

// State is the lifecycle position of a single crawl target.
type State int

const (
	Pending State = iota
	Navigating
	Settled
	Extracted
	Persisted
	Failed
)

var stateNames = [...]string{
	Pending:     "pending",
	Navigating:  "navigating",
	Settled:     "settled",
	Extracted:   "extracted",
	Persisted:   "persisted",
	Failed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
