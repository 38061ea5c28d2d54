package engine

// State is how far a chat turn got. States only move forward; a failed turn
// keeps the last state it reached.
type State int

const (
	StateNew State = iota
	StateAdmitted
	StateHistoryChecked
	StateSeeded
	StateSkipSeed
	StateUserTurnWritten
	StateContextAssembled
	StateGenerationDispatched
	StateResponseWritten
)

var stateNames = [...]string{
	StateNew:                  "new",
	StateAdmitted:             "admitted",
	StateHistoryChecked:       "history_checked",
	StateSeeded:               "seeded",
	StateSkipSeed:             "skip_seed",
	StateUserTurnWritten:      "user_turn_written",
	StateContextAssembled:     "context_assembled",
	StateGenerationDispatched: "generation_dispatched",
	StateResponseWritten:      "response_written",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
