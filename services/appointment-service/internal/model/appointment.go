package model

import "time"

type MeetingType string

const (
	MeetingVideo    MeetingType = "video"
	MeetingCall     MeetingType = "call"
	MeetingInPerson MeetingType = "in_person"
)

func (m MeetingType) Valid() bool {
	switch m {
	case MeetingVideo, MeetingCall, MeetingInPerson:
		return true
	default:
		return false
	}
}

// Channel is how a party receives invite notifications.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// PartyRef identifies one of the two participants and where to reach them.
type PartyRef struct {
	ID      string
	Channel Channel
	Address string
}

type Appointment struct {
	ID              string
	Title           string
	Description     string
	Location        string
	MeetingType     MeetingType
	StartTime       time.Time
	DurationMinutes int
	BookerID        string
	BookerName      string
	BookerEmail     string
	BookerPhone     string
	CounterpartyID  string
	Status          Status
	Notes           string
	ResolvedBy      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Parties returns both participants, booker first.
func (a Appointment) Parties() [2]PartyRef {
	return [2]PartyRef{
		{ID: a.BookerID, Channel: ChannelEmail, Address: a.BookerEmail},
		{ID: a.CounterpartyID, Channel: ChannelPush, Address: a.CounterpartyID},
	}
}

// OtherParty returns the participant that is not partyID. The second return is
// false when partyID belongs to neither participant.
func (a Appointment) OtherParty(partyID string) (PartyRef, bool) {
	parties := a.Parties()
	switch partyID {
	case parties[0].ID:
		return parties[1], true
	case parties[1].ID:
		return parties[0], true
	default:
		return PartyRef{}, false
	}
}

func (a Appointment) HasParty(partyID string) bool {
	parties := a.Parties()
	return partyID == parties[0].ID || partyID == parties[1].ID
}
