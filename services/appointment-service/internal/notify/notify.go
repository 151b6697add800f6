package notify

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

type EventType string

const (
	EventDueSoon         EventType = "due_soon"
	EventPartnerJoined   EventType = "partner_joined"
	EventPartnerDeclined EventType = "partner_declined"
	EventExpired         EventType = "expired"
	// EventResolvedNoop is the audit record for an action that lost a
	// resolution race; it never causes a second transition.
	EventResolvedNoop EventType = "resolved_noop"
)

// Event is what the coordinator hands to the dispatcher for one party.
type Event struct {
	Type          EventType
	AppointmentID string
	Appointment   model.Appointment
	Actor         string        // party that triggered the transition, if any
	Remaining     time.Duration // due_soon only
}

// Dispatcher delivers events to a party. Delivery is fire-and-forget from the
// coordinator's point of view: errors are logged by implementations, never
// bubbled into the transition path.
type Dispatcher interface {
	Notify(ctx context.Context, party model.PartyRef, evt Event)
}
