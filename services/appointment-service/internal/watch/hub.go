package watch

import (
	"sync"

	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

// Hub fans appointment status changes out to subscribed views. A subscriber
// that falls behind loses intermediate snapshots, never the stream: the
// channel always holds the latest state.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan model.Appointment
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[int]chan model.Appointment{}}
}

// Subscribe registers interest in one appointment. The returned cancel func
// must be called when the view closes; it is safe to call more than once.
func (h *Hub) Subscribe(appointmentID string) (<-chan model.Appointment, func()) {
	ch := make(chan model.Appointment, 1)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[appointmentID] == nil {
		h.subs[appointmentID] = map[int]chan model.Appointment{}
	}
	h.subs[appointmentID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if m := h.subs[appointmentID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, appointmentID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the latest appointment snapshot to every subscriber,
// replacing any undelivered older one.
func (h *Hub) Publish(appt model.Appointment) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[appt.ID] {
		select {
		case ch <- appt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- appt:
			default:
			}
		}
	}
}
