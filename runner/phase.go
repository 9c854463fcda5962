package runner

// Phase is a state of the sync state machine. A pass starts Idle and ends in
// Done or Aborted.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseFetching
	PhaseFiltering
	PhaseParsing
	PhaseDeduplicating
	PhaseAppending
	PhaseConfirmingRead
	PhasePersisting
	PhaseDone
	PhaseAborted
)

var phaseNames = [...]string{
	PhaseIdle:           "idle",
	PhaseAuthenticating: "authenticating",
	PhaseFetching:       "fetching",
	PhaseFiltering:      "filtering",
	PhaseParsing:        "parsing",
	PhaseDeduplicating:  "deduplicating",
	PhaseAppending:      "appending",
	PhaseConfirmingRead: "confirming-read",
	PhasePersisting:     "persisting",
	PhaseDone:           "done",
	PhaseAborted:        "aborted",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseAborted
}
