package booking

import (
	"testing"

	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

func TestValidate_OK(t *testing.T) {
	sub := Submission{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@example.com",
		PhoneNumber: "+4930123456",
		MeetingType: model.MeetingCall,
		Notes:       "prefers mornings",
	}
	if verr := sub.Validate(); verr != nil {
		t.Fatalf("expected valid submission, got %v", verr)
	}
}

func TestValidate_EmailShape(t *testing.T) {
	for _, email := range []string{"", "plain", "a@b", "two@@example.com", "a b@example.com"} {
		sub := Submission{FirstName: "A", LastName: "B", Email: email, PhoneNumber: "1", MeetingType: model.MeetingVideo}
		verr := sub.Validate()
		if verr == nil {
			t.Fatalf("email %q should fail validation", email)
		}
		if len(verr.Fields) != 1 || verr.Fields[0] != "email" {
			t.Fatalf("email %q: expected only email field, got %v", email, verr.Fields)
		}
	}
}

func TestSlotStartTime(t *testing.T) {
	start, err := Slot{Date: "2026-04-01", Time: "09:30"}.StartTime()
	if err != nil {
		t.Fatalf("slot parse failed: %v", err)
	}
	if got := start.Format("2006-01-02T15:04"); got != "2026-04-01T09:30" {
		t.Fatalf("unexpected start %s", got)
	}

	if _, err := (Slot{Date: "01/04/2026", Time: "09:30"}).StartTime(); err == nil {
		t.Fatal("bad date must fail")
	}
	if _, err := (Slot{Date: "2026-04-01", Time: "9am"}).StartTime(); err == nil {
		t.Fatal("bad time must fail")
	}
}
