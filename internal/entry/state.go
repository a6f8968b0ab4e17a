// Package entry implements the multi-step expense entry flow: a per-user
// state machine that collects name, amount, payer and participants across
// several interactions before committing one expense to the ledger.
package entry

// State is the position of a draft in the entry flow.
type State int

const (
	Idle State = iota
	AwaitingDetails
	AwaitingPayer
	AwaitingMembers
	Committed
	Abandoned
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingDetails:
		return "awaiting_details"
	case AwaitingPayer:
		return "awaiting_payer"
	case AwaitingMembers:
		return "awaiting_members"
	case Committed:
		return "committed"
	case Abandoned:
		return "abandoned"
	}
	return "unknown"
}

// Terminal reports whether no further events are accepted.
func (s State) Terminal() bool { return s == Committed || s == Abandoned }

// Toggle tells whether a participant toggle added or removed the member.
type Toggle int

const (
	Added Toggle = iota + 1
	Removed
)

func (t Toggle) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	}
	return ""
}
