package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/clock"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/notify"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/storage"
)

// fakeStore arbitrates status writes with a mutex, mirroring the database's
// conditional update semantics.
type fakeStore struct {
	mu    sync.Mutex
	appts map[string]model.Appointment

	// casEntered/casRelease let a test hold a conditional update open to
	// widen the race window deterministically.
	casEntered chan string
	casRelease chan struct{}
}

func newFakeStore(appts ...model.Appointment) *fakeStore {
	s := &fakeStore{appts: map[string]model.Appointment{}}
	for _, a := range appts {
		s.appts[a.ID] = a
	}
	return s
}

var errNotFound = errors.New("appointment not found")

func (s *fakeStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, errNotFound
	}
	return appt, nil
}

func (s *fakeStore) ConditionalUpdateStatus(_ context.Context, id string, expected, next model.Status, resolvedBy string) (storage.UpdateResult, error) {
	if s.casEntered != nil {
		s.casEntered <- string(next)
		<-s.casRelease
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return storage.UpdateResult{}, errNotFound
	}
	if appt.Status != expected {
		return storage.UpdateResult{Applied: false, Current: appt}, nil
	}
	appt.Status = next
	if resolvedBy != "" {
		appt.ResolvedBy = resolvedBy
	}
	s.appts[id] = appt
	return storage.UpdateResult{Applied: true, Current: appt}, nil
}

type recordedEvent struct {
	party model.PartyRef
	evt   notify.Event
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (d *recordingDispatcher) Notify(_ context.Context, party model.PartyRef, evt notify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, recordedEvent{party: party, evt: evt})
}

func (d *recordingDispatcher) byType(t notify.EventType) []recordedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []recordedEvent
	for _, e := range d.events {
		if e.evt.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func dueAppointment() model.Appointment {
	return model.Appointment{
		ID:              "a-1",
		MeetingType:     model.MeetingVideo,
		StartTime:       time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		BookerID:        "b-1",
		BookerEmail:     "ada@example.com",
		CounterpartyID:  "u-2",
		Status:          model.StatusDue,
	}
}

func newTestCoordinator(store Store, dispatcher notify.Dispatcher) *Coordinator {
	clk := clock.NewManual(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	return New(store, dispatcher, nil, clk, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestMarkDue_AtMostOnce(t *testing.T) {
	appt := dueAppointment()
	appt.Status = model.StatusConfirmed
	store := newFakeStore(appt)
	dispatcher := &recordingDispatcher{}
	coord := newTestCoordinator(store, dispatcher)

	const n = 8
	applied := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := coord.MarkDue(context.Background(), "a-1")
			if err != nil {
				t.Errorf("MarkDue error: %v", err)
			}
			applied <- ok
		}()
	}
	wg.Wait()
	close(applied)

	owners := 0
	for ok := range applied {
		if ok {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("exactly one caller must own the due transition, got %d", owners)
	}
	got, _ := store.Get(context.Background(), "a-1")
	if got.Status != model.StatusDue {
		t.Fatalf("expected status due, got %s", got.Status)
	}
	if evts := dispatcher.byType(notify.EventDueSoon); len(evts) != 2 {
		t.Fatalf("due invitation must reach each party exactly once, got %d events", len(evts))
	}
}

func TestJoin_NotifiesOtherParty(t *testing.T) {
	store := newFakeStore(dueAppointment())
	dispatcher := &recordingDispatcher{}
	coord := newTestCoordinator(store, dispatcher)

	appt, err := coord.Join(context.Background(), "a-1", "u-2")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if appt.Status != model.StatusJoined || appt.ResolvedBy != "u-2" {
		t.Fatalf("unexpected resolution %s by %q", appt.Status, appt.ResolvedBy)
	}

	evts := dispatcher.byType(notify.EventPartnerJoined)
	if len(evts) != 1 {
		t.Fatalf("expected one partner_joined event, got %d", len(evts))
	}
	if evts[0].party.ID != "b-1" {
		t.Fatalf("partner_joined must go to the other party, went to %s", evts[0].party.ID)
	}
}

func TestDecline_NotifiesOtherParty(t *testing.T) {
	store := newFakeStore(dueAppointment())
	dispatcher := &recordingDispatcher{}
	coord := newTestCoordinator(store, dispatcher)

	appt, err := coord.Decline(context.Background(), "a-1", "b-1")
	if err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if appt.Status != model.StatusDeclined {
		t.Fatalf("unexpected status %s", appt.Status)
	}

	evts := dispatcher.byType(notify.EventPartnerDeclined)
	if len(evts) != 1 || evts[0].party.ID != "u-2" {
		t.Fatalf("partner_declined must reach the counterparty once, got %+v", evts)
	}
}

func TestJoinWinsRace(t *testing.T) {
	store := newFakeStore(dueAppointment())
	store.casEntered = make(chan string, 2)
	store.casRelease = make(chan struct{})
	dispatcher := &recordingDispatcher{}
	coord := newTestCoordinator(store, dispatcher)

	joinDone := make(chan error, 1)
	declineDone := make(chan error, 1)

	go func() {
		_, err := coord.Join(context.Background(), "a-1", "u-2")
		joinDone <- err
	}()
	// The join is now registered and parked inside its conditional update.
	if op := <-store.casEntered; op != string(model.StatusJoined) {
		t.Fatalf("expected join to reach the store first, got %s", op)
	}

	go func() {
		_, err := coord.Decline(context.Background(), "a-1", "b-1")
		declineDone <- err
	}()

	// Let both writes proceed; the decline waits out the in-flight join.
	close(store.casRelease)

	if err := <-joinDone; err != nil {
		t.Fatalf("join must win the race, got %v", err)
	}
	if err := <-declineDone; !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("racing decline must resolve as no-op, got %v", err)
	}

	got, _ := store.Get(context.Background(), "a-1")
	if got.Status != model.StatusJoined || got.ResolvedBy != "u-2" {
		t.Fatalf("final state must be joined by u-2, got %s by %q", got.Status, got.ResolvedBy)
	}
	if evts := dispatcher.byType(notify.EventResolvedNoop); len(evts) != 1 || evts[0].party.ID != "b-1" {
		t.Fatalf("decliner must get exactly one audit no-op, got %+v", evts)
	}
}

func TestResolve_AfterTerminalIsAlreadyResolved(t *testing.T) {
	store := newFakeStore(dueAppointment())
	dispatcher := &recordingDispatcher{}
	coord := newTestCoordinator(store, dispatcher)

	if _, err := coord.Join(context.Background(), "a-1", "u-2"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if _, err := coord.Join(context.Background(), "a-1", "u-2"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("repeated join must be rejected, got %v", err)
	}
	if _, err := coord.Decline(context.Background(), "a-1", "b-1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("decline after join must be rejected, got %v", err)
	}

	got, _ := store.Get(context.Background(), "a-1")
	if got.Status != model.StatusJoined {
		t.Fatalf("terminal state must not move, got %s", got.Status)
	}
}

func TestResolve_BeforeDueIsRejected(t *testing.T) {
	appt := dueAppointment()
	appt.Status = model.StatusConfirmed
	coord := newTestCoordinator(newFakeStore(appt), &recordingDispatcher{})

	if _, err := coord.Join(context.Background(), "a-1", "u-2"); !errors.Is(err, ErrNotDue) {
		t.Fatalf("join before due must be rejected, got %v", err)
	}
}

func TestResolve_UnknownParty(t *testing.T) {
	coord := newTestCoordinator(newFakeStore(dueAppointment()), &recordingDispatcher{})
	if _, err := coord.Join(context.Background(), "a-1", "stranger"); !errors.Is(err, ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}
}

func TestExpire_ExactlyOnce(t *testing.T) {
	store := newFakeStore(dueAppointment())
	dispatcher := &recordingDispatcher{}
	coord := newTestCoordinator(store, dispatcher)

	_, applied, err := coord.Expire(context.Background(), "a-1")
	if err != nil || !applied {
		t.Fatalf("first expire must apply, got applied=%v err=%v", applied, err)
	}
	_, applied, err = coord.Expire(context.Background(), "a-1")
	if err != nil || applied {
		t.Fatalf("second expire must be a no-op, got applied=%v err=%v", applied, err)
	}

	if evts := dispatcher.byType(notify.EventExpired); len(evts) != 2 {
		t.Fatalf("expiry must notify each party exactly once, got %d", len(evts))
	}

	if _, err := coord.Join(context.Background(), "a-1", "u-2"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("join after expiry must be rejected, got %v", err)
	}
	if _, err := coord.Decline(context.Background(), "a-1", "b-1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("decline after expiry must be rejected, got %v", err)
	}
}

func TestConfirm_Idempotent(t *testing.T) {
	appt := dueAppointment()
	appt.Status = model.StatusPending
	store := newFakeStore(appt)
	coord := newTestCoordinator(store, &recordingDispatcher{})

	got, err := coord.Confirm(context.Background(), "a-1")
	if err != nil || got.Status != model.StatusConfirmed {
		t.Fatalf("confirm failed: %v (status %s)", err, got.Status)
	}
	got, err = coord.Confirm(context.Background(), "a-1")
	if err != nil || got.Status != model.StatusConfirmed {
		t.Fatalf("second confirm must be a no-op: %v (status %s)", err, got.Status)
	}
}
