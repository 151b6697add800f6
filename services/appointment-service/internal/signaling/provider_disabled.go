//go:build !protogen

package signaling

import (
	"context"
)

// RoomInfo locates the live call room created for a joined appointment.
type RoomInfo struct {
	RoomID  string
	JoinURL string
}

// Provider fronts the external call-signaling service. Media negotiation is
// entirely its concern; this side only asks for a room.
type Provider interface {
	CreateRoom(ctx context.Context, appointmentID string, meetingType string) (RoomInfo, error)
}

func NewProvider(_ string) (Provider, error) {
	return nil, nil
}
