package render

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/clock"
)

// Invite is one invite event as it arrives off the wire.
type Invite struct {
	AppointmentID    string `json:"appointment_id"`
	PartyID          string `json:"party_id"`
	Channel          string `json:"channel"`
	Recipient        string `json:"recipient"`
	Event            string `json:"event"`
	Actor            string `json:"actor"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Title            string `json:"title"`
	MeetingType      string `json:"meeting_type"`
	StartTime        string `json:"start_time"`
}

func (inv Invite) Valid() bool {
	return inv.AppointmentID != "" && inv.PartyID != "" && inv.Recipient != "" && inv.Event != ""
}

// Message renders the human-facing subject and body for one invite event.
// Rendering is channel-agnostic; email uses both parts, push folds the
// subject into the notification title.
func Message(inv Invite) (subject string, body string) {
	title := inv.Title
	if title == "" {
		title = "Your appointment"
	}

	switch inv.Event {
	case "due_soon":
		countdown := clock.FormatCountdown(time.Duration(inv.RemainingSeconds) * time.Second)
		subject = fmt.Sprintf("%s is ready to start", title)
		body = fmt.Sprintf("%s is due now. Join within %s, or it will expire.", title, countdown)
	case "partner_joined":
		subject = fmt.Sprintf("Your partner joined %s", title)
		body = fmt.Sprintf("The other participant has joined %s. %s", title, joinPrompt(inv.MeetingType))
	case "partner_declined":
		subject = fmt.Sprintf("%s was declined", title)
		body = fmt.Sprintf("The other participant declined %s. You can book a new time.", title)
	case "expired":
		subject = fmt.Sprintf("%s expired", title)
		body = fmt.Sprintf("%s expired because neither side responded in time.", title)
	case "resolved_noop":
		subject = fmt.Sprintf("%s was already settled", title)
		body = fmt.Sprintf("Your response to %s arrived after it was already resolved; nothing was changed.", title)
	default:
		subject = fmt.Sprintf("Update for %s", title)
		body = fmt.Sprintf("There is a new update for %s.", title)
	}
	return subject, body
}

func joinPrompt(meetingType string) string {
	switch meetingType {
	case "video":
		return "Join now to start the video call."
	case "call":
		return "Join now to start the call."
	default:
		return "They are ready when you are."
	}
}
