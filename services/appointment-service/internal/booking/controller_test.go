package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

type fakeCreator struct {
	mu      sync.Mutex
	calls   int
	keys    []string
	failN   int // fail the first N calls
	created []model.Appointment

	block chan struct{} // when set, Create blocks until closed
}

func (f *fakeCreator) CreateAppointment(ctx context.Context, draft model.Appointment, key string) (model.Appointment, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.keys = append(f.keys, key)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if call <= f.failN {
		return model.Appointment{}, errors.New("store unavailable")
	}
	draft.ID = "appt-1"
	draft.Status = model.StatusConfirmed
	f.mu.Lock()
	f.created = append(f.created, draft)
	f.mu.Unlock()
	return draft, nil
}

func validSubmission() Submission {
	return Submission{
		FirstName:   "Ada",
		LastName:    "Lovelace",
		Email:       "ada@example.com",
		PhoneNumber: "+4930123456",
		MeetingType: model.MeetingVideo,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmit_ValidationBlocksStore(t *testing.T) {
	creator := &fakeCreator{}
	ctrl := NewController(creator, testLogger(), nil, nil)

	sub := validSubmission()
	sub.FirstName = ""
	_, err := ctrl.Submit(context.Background(), sub, Slot{Date: "2026-04-01", Time: "10:00"}, Draft{CounterpartyID: "u-2", DurationMinutes: 30})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	found := false
	for _, f := range verr.Fields {
		if f == "firstName" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ValidationError must list firstName, got %v", verr.Fields)
	}
	if creator.calls != 0 {
		t.Fatalf("no create request may be sent on validation failure, got %d", creator.calls)
	}
}

func TestSubmit_ValidationListsAllFailingFields(t *testing.T) {
	ctrl := NewController(&fakeCreator{}, testLogger(), nil, nil)
	_, err := ctrl.Submit(context.Background(), Submission{Email: "not-an-email", Notes: strings.Repeat("x", maxNotesLength+1)}, Slot{Date: "2026-04-01", Time: "10:00"}, Draft{})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"firstName", "lastName", "email", "phoneNumber", "meetingType", "notes"}
	if len(verr.Fields) != len(want) {
		t.Fatalf("expected fields %v, got %v", want, verr.Fields)
	}
	for i, f := range want {
		if verr.Fields[i] != f {
			t.Fatalf("expected fields %v, got %v", want, verr.Fields)
		}
	}
}

func TestSubmit_Success(t *testing.T) {
	creator := &fakeCreator{}
	var submitted []model.Appointment
	ctrl := NewController(creator, testLogger(), func(a model.Appointment) { submitted = append(submitted, a) }, nil)

	appt, err := ctrl.Submit(context.Background(), validSubmission(), Slot{Date: "2026-04-01", Time: "10:00"}, Draft{Title: "Intro call", CounterpartyID: "u-2", DurationMinutes: 45})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if appt.BookerName != "Ada Lovelace" {
		t.Fatalf("unexpected booker name %q", appt.BookerName)
	}
	if got := appt.StartTime.Format("2006-01-02 15:04"); got != "2026-04-01 10:00" {
		t.Fatalf("unexpected start time %s", got)
	}
	if len(submitted) != 1 {
		t.Fatalf("onSubmit must fire exactly once, got %d", len(submitted))
	}
}

func TestSubmit_RefusesReentryWhileInFlight(t *testing.T) {
	creator := &fakeCreator{block: make(chan struct{})}
	ctrl := NewController(creator, testLogger(), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Submit(context.Background(), validSubmission(), Slot{Date: "2026-04-01", Time: "10:00"}, Draft{CounterpartyID: "u-2", DurationMinutes: 30})
		done <- err
	}()

	// Wait for the first submit to reach the creator.
	for {
		creator.mu.Lock()
		started := creator.calls == 1
		creator.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, err := ctrl.Submit(context.Background(), validSubmission(), Slot{Date: "2026-04-01", Time: "10:00"}, Draft{CounterpartyID: "u-2", DurationMinutes: 30})
	if !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}

	close(creator.block)
	if err := <-done; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if creator.calls != 1 {
		t.Fatalf("double-click must not send a second request, got %d", creator.calls)
	}
}

func TestSubmit_RetryReusesIdempotencyKey(t *testing.T) {
	creator := &fakeCreator{failN: 1}
	ctrl := NewController(creator, testLogger(), nil, nil)

	slot := Slot{Date: "2026-04-01", Time: "10:00"}
	draft := Draft{CounterpartyID: "u-2", DurationMinutes: 30}

	if _, err := ctrl.Submit(context.Background(), validSubmission(), slot, draft); err == nil {
		t.Fatal("first submit should fail")
	}
	if _, err := ctrl.Submit(context.Background(), validSubmission(), slot, draft); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(creator.keys) != 2 || creator.keys[0] != creator.keys[1] {
		t.Fatalf("retry must reuse the idempotency key, got %v", creator.keys)
	}

	// A fresh logical submission after success gets a new key.
	if _, err := ctrl.Submit(context.Background(), validSubmission(), slot, draft); err != nil {
		t.Fatalf("third submit failed: %v", err)
	}
	if creator.keys[2] == creator.keys[1] {
		t.Fatal("new submission must not reuse the resolved key")
	}
}
