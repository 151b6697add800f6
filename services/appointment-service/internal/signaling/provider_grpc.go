//go:build protogen

package signaling

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/grpcx"
	signalingv1 "github.com/md-rashed-zaman/meetsync/protos/gen/signaling/v1"
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

type grpcProvider struct {
	client signalingv1.SignalingServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: signalingv1.NewSignalingServiceClient(conn)}, nil
}

func (p *grpcProvider) CreateRoom(ctx context.Context, appointmentID string, meetingType string) (RoomInfo, error) {
	resp, err := p.client.CreateRoom(ctx, &signalingv1.CreateRoomRequest{
		AppointmentId: appointmentID,
		MeetingType:   meetingType,
	})
	if err != nil {
		return RoomInfo{}, err
	}
	return RoomInfo{
		RoomID:  resp.GetRoomId(),
		JoinURL: resp.GetJoinUrl(),
	}, nil
}
