package watch

import (
	"testing"

	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

func TestHub_PublishReachesSubscribers(t *testing.T) {
	hub := NewHub()
	ch1, cancel1 := hub.Subscribe("a-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("a-1")
	defer cancel2()
	other, cancelOther := hub.Subscribe("a-2")
	defer cancelOther()

	hub.Publish(model.Appointment{ID: "a-1", Status: model.StatusDue})

	for _, ch := range []<-chan model.Appointment{ch1, ch2} {
		select {
		case appt := <-ch:
			if appt.Status != model.StatusDue {
				t.Fatalf("unexpected status %s", appt.Status)
			}
		default:
			t.Fatal("subscriber did not receive snapshot")
		}
	}
	select {
	case <-other:
		t.Fatal("unrelated subscriber must not receive snapshot")
	default:
	}
}

func TestHub_SlowSubscriberKeepsLatest(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("a-1")
	defer cancel()

	hub.Publish(model.Appointment{ID: "a-1", Status: model.StatusDue})
	hub.Publish(model.Appointment{ID: "a-1", Status: model.StatusJoined})

	appt := <-ch
	if appt.Status != model.StatusJoined {
		t.Fatalf("expected latest snapshot joined, got %s", appt.Status)
	}
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("a-1")
	cancel()
	cancel() // safe twice

	hub.Publish(model.Appointment{ID: "a-1", Status: model.StatusDue})

	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscriber channel should be closed and empty")
	}
}
