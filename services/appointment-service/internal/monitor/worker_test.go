package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/clock"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/coordinator"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/notify"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/storage"
)

type sweepStore struct {
	mu    sync.Mutex
	appts map[string]model.Appointment
}

func (s *sweepStore) Get(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appts[id], nil
}

func (s *sweepStore) ConditionalUpdateStatus(_ context.Context, id string, expected, next model.Status, resolvedBy string) (storage.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt := s.appts[id]
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

func (s *sweepStore) FetchDueCandidates(_ context.Context, now time.Time, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, a := range s.appts {
		if a.Status == model.StatusConfirmed && !a.StartTime.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *sweepStore) FetchExpireCandidates(_ context.Context, now time.Time, grace time.Duration, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, a := range s.appts {
		if a.Status == model.StatusDue && !a.StartTime.Add(grace).After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type silentDispatcher struct{}

func (silentDispatcher) Notify(context.Context, model.PartyRef, notify.Event) {}

func TestSweep_DueThenExpire(t *testing.T) {
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	store := &sweepStore{appts: map[string]model.Appointment{
		"a-1": {ID: "a-1", StartTime: start, Status: model.StatusConfirmed, BookerID: "b-1", CounterpartyID: "u-2"},
		"a-2": {ID: "a-2", StartTime: start.Add(time.Hour), Status: model.StatusConfirmed, BookerID: "b-1", CounterpartyID: "u-2"},
	}}
	clk := clock.NewManual(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := coordinator.New(store, silentDispatcher{}, nil, clk, logger, nil)
	worker := NewWorker(store, coord, clk, logger, Config{Grace: 2 * time.Minute})

	if err := worker.sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if got, _ := store.Get(context.Background(), "a-1"); got.Status != model.StatusDue {
		t.Fatalf("a-1 should be due, got %s", got.Status)
	}
	if got, _ := store.Get(context.Background(), "a-2"); got.Status != model.StatusConfirmed {
		t.Fatalf("a-2 starts later and must stay confirmed, got %s", got.Status)
	}

	// Within the grace window nothing expires.
	clk.Advance(time.Minute)
	if err := worker.sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if got, _ := store.Get(context.Background(), "a-1"); got.Status != model.StatusDue {
		t.Fatalf("a-1 should still be due inside grace, got %s", got.Status)
	}

	// Past the grace window the invitation expires exactly once.
	clk.Advance(2 * time.Minute)
	if err := worker.sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if got, _ := store.Get(context.Background(), "a-1"); got.Status != model.StatusExpired {
		t.Fatalf("a-1 should be expired, got %s", got.Status)
	}
}
