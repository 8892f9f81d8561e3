package workflow

// Status is the outcome of a run. Values are totally ordered by severity:
// SUCCESS < FAILED_TESTS < FAILED_SMOKE < FAILED_GOVERNANCE < ERROR.
type Status string

const (
	StatusSuccess          Status = "SUCCESS"
	StatusFailedTests      Status = "FAILED_TESTS"
	StatusFailedSmoke      Status = "FAILED_SMOKE"
	StatusFailedGovernance Status = "FAILED_GOVERNANCE"
	StatusError            Status = "ERROR"
)

var statusRank = map[Status]int{
	StatusSuccess:          0,
	StatusFailedTests:      1,
	StatusFailedSmoke:      2,
	StatusFailedGovernance: 3,
	StatusError:            4,
}

// Rank returns the precedence of s; unknown values rank as ERROR.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return statusRank[StatusError]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Worst returns the most severe of the given statuses, SUCCESS when empty.
func Worst(statuses ...Status) Status {
	worst := StatusSuccess
	for _, s := range statuses {
		if s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}

// State is a position in the run state machine.
type State string

const (
	StatePending    State = "PENDING"
	StateCodegen    State = "CODEGEN"
	StateTesting    State = "TESTING"
	StateSmoke      State = "SMOKE"
	StateGovernance State = "GOVERNANCE"
	StatePRPrep     State = "PR_PREP"
	StateTerminal   State = "TERMINAL"
)

var stateOrder = map[State]int{
	StatePending:    0,
	StateCodegen:    1,
	StateTesting:    2,
	StateSmoke:      3,
	StateGovernance: 4,
	StatePRPrep:     5,
	StateTerminal:   6,
}

// CanTransition reports whether the machine may move from s to next.
// States only move forward; any state may jump straight to TERMINAL, and
// TERMINAL is never left.
func (s State) CanTransition(next State) bool {
	from, ok := stateOrder[s]
	if !ok || s == StateTerminal {
		return false
	}
	to, ok := stateOrder[next]
	if !ok {
		return false
	}
	return to > from
}
