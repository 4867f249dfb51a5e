package engine

// Phase is a step of the liquidation machine.
type Phase int

const (
	PhaseRequested Phase = iota
	PhaseAuthorized
	PhaseLedgerUpdating
	PhaseCacheSyncing
	PhaseCompleted
	PhaseRejected
)

// validTransitions defines the allowed phase edges. Rejected is reachable
// only before the ledger update starts; once both ledger writes commit the
// machine always reaches Completed (cache sync cannot fail it).
var validTransitions = map[Phase][]Phase{
	PhaseRequested:      {PhaseAuthorized, PhaseRejected},
	PhaseAuthorized:     {PhaseLedgerUpdating, PhaseRejected},
	PhaseLedgerUpdating: {PhaseCacheSyncing, PhaseRejected},
	PhaseCacheSyncing:   {PhaseCompleted},
	PhaseCompleted:      {},
	PhaseRejected:       {},
}

// CanTransitionTo reports whether the edge p -> next is allowed.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range validTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (p Phase) String() string {
	switch p {
	case PhaseRequested:
		return "Requested"
	case PhaseAuthorized:
		return "Authorized"
	case PhaseLedgerUpdating:
		return "LedgerUpdating"
	case PhaseCacheSyncing:
		return "CacheSyncing"
	case PhaseCompleted:
		return "Completed"
	case PhaseRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}
