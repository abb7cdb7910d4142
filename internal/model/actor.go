package model

// RoleOperator marks staff allowed to act on any booking or pod.
const RoleOperator = "operator"

// Actor is the party initiating a user-facing transition.
type Actor struct {
	UserID string
	Role   string
}

// Operator reports whether the actor may act on bookings it does not own.
func (a Actor) Operator() bool {
	return a.Role == RoleOperator
}

// System is the actor used by background jobs.
var System = Actor{UserID: "system", Role: RoleOperator}
