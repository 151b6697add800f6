package render

import (
	"strings"
	"testing"
)

func TestMessage_DueSoonIncludesCountdown(t *testing.T) {
	subject, body := Message(Invite{
		AppointmentID:    "apt-1",
		PartyID:          "p-1",
		Recipient:        "a@example.com",
		Event:            "due_soon",
		Title:            "Quarterly review",
		RemainingSeconds: 89,
	})
	if !strings.Contains(subject, "Quarterly review") {
		t.Fatalf("subject missing title: %q", subject)
	}
	if !strings.Contains(body, "01:29") {
		t.Fatalf("body missing countdown: %q", body)
	}
}

func TestMessage_PartnerJoinedVariesByMeetingType(t *testing.T) {
	_, video := Message(Invite{Event: "partner_joined", Title: "Sync", MeetingType: "video"})
	if !strings.Contains(video, "video call") {
		t.Fatalf("expected video prompt, got %q", video)
	}
	_, call := Message(Invite{Event: "partner_joined", Title: "Sync", MeetingType: "call"})
	if !strings.Contains(call, "start the call") {
		t.Fatalf("expected call prompt, got %q", call)
	}
}

func TestMessage_FallbackTitle(t *testing.T) {
	subject, _ := Message(Invite{Event: "expired"})
	if !strings.Contains(subject, "Your appointment") {
		t.Fatalf("expected fallback title, got %q", subject)
	}
}

func TestInviteValid(t *testing.T) {
	inv := Invite{AppointmentID: "apt-1", PartyID: "p-1", Recipient: "a@example.com", Event: "due_soon"}
	if !inv.Valid() {
		t.Fatal("expected valid invite")
	}
	inv.Recipient = ""
	if inv.Valid() {
		t.Fatal("expected invalid invite without recipient")
	}
}
