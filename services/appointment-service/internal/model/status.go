package model

// Status is the lifecycle state of an appointment. Transitions only move
// forward: pending -> confirmed -> due -> one of joined/declined/expired.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDue       Status = "due"
	StatusJoined    Status = "joined"
	StatusDeclined  Status = "declined"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDue, StatusJoined, StatusDeclined, StatusExpired:
		return true
	default:
		return false
	}
}

// Rank orders statuses for monotonicity checks. All terminal states share the
// highest rank.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	case StatusDue:
		return 2
	case StatusJoined, StatusDeclined, StatusExpired:
		return 3
	default:
		return -1
	}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusJoined, StatusDeclined, StatusExpired:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal single step. Resolution
// must pass through due; nothing leaves a terminal state.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed
	case StatusConfirmed:
		return to == StatusDue
	case StatusDue:
		return to == StatusJoined || to == StatusDeclined || to == StatusExpired
	default:
		return false
	}
}
