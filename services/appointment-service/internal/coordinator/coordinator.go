package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/clock"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/notify"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/signaling"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/storage"
)

var (
	// ErrAlreadyResolved means the appointment reached a terminal state
	// before the caller's action landed. A no-op notice, not a failure.
	ErrAlreadyResolved = errors.New("appointment already resolved")
	// ErrNotDue means join/decline arrived before the due transition.
	ErrNotDue = errors.New("appointment is not due")
	// ErrUnknownParty means the acting party is not a participant.
	ErrUnknownParty = errors.New("party is not a participant")
)

// Store is the slice of the appointment store the coordinator needs. The
// conditional update is the only synchronization primitive: no transition
// happens outside it.
type Store interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	ConditionalUpdateStatus(ctx context.Context, id string, expected, next model.Status, resolvedBy string) (storage.UpdateResult, error)
}

// Coordinator resolves due appointments into joined/declined/expired and owns
// every notification side effect: exactly one event per affected party per
// transition, exactly one status write.
type Coordinator struct {
	store      Store
	dispatcher notify.Dispatcher
	signaling  signaling.Provider
	clk        clock.Clock
	logger     *slog.Logger
	publish    func(model.Appointment)

	gatesMu sync.Mutex
	gates   map[string]*joinGate
}

// joinGate counts joins that have been accepted but whose conditional update
// has not landed yet. Declines evaluated in the same window wait for the
// count to drain so a racing join always wins.
type joinGate struct {
	inFlight atomic.Int32
}

func New(store Store, dispatcher notify.Dispatcher, provider signaling.Provider, clk clock.Clock, logger *slog.Logger, publish func(model.Appointment)) *Coordinator {
	if publish == nil {
		publish = func(model.Appointment) {}
	}
	return &Coordinator{
		store:      store,
		dispatcher: dispatcher,
		signaling:  provider,
		clk:        clk,
		logger:     logger,
		publish:    publish,
		gates:      map[string]*joinGate{},
	}
}

func (c *Coordinator) dropGate(id string) {
	c.gatesMu.Lock()
	delete(c.gates, id)
	c.gatesMu.Unlock()
}

func (c *Coordinator) gateFor(id string) *joinGate {
	c.gatesMu.Lock()
	defer c.gatesMu.Unlock()
	g := c.gates[id]
	if g == nil {
		g = &joinGate{}
		c.gates[id] = g
	}
	return g
}

// Confirm applies pending -> confirmed. Used when auto-confirm is off.
func (c *Coordinator) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	res, err := c.store.ConditionalUpdateStatus(ctx, id, model.StatusPending, model.StatusConfirmed, "")
	if err != nil {
		return model.Appointment{}, err
	}
	if !res.Applied {
		// Already confirmed (or beyond) is fine; confirming twice is a no-op.
		return res.Current, nil
	}
	c.publish(res.Current)
	return res.Current, nil
}

// MarkDue applies confirmed -> due. Any number of observers may call this for
// the same appointment; the one whose conditional update lands owns the
// transition and emits the due invitation to both parties. Everyone else gets
// applied=false and reconciles from the returned current record.
func (c *Coordinator) MarkDue(ctx context.Context, id string) (model.Appointment, bool, error) {
	res, err := c.store.ConditionalUpdateStatus(ctx, id, model.StatusConfirmed, model.StatusDue, "")
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !res.Applied {
		return res.Current, false, nil
	}

	appt := res.Current
	remaining := clock.Remaining(c.clk, appt.StartTime)
	for _, party := range appt.Parties() {
		c.dispatcher.Notify(ctx, party, notify.Event{
			Type:          notify.EventDueSoon,
			AppointmentID: appt.ID,
			Appointment:   appt,
			Remaining:     remaining,
		})
	}
	c.publish(appt)
	c.logger.Info("appointment due", "appointment_id", appt.ID)
	return appt, true, nil
}

// Join applies due -> joined for partyID. In a join/decline race, join wins:
// a join landing first turns the later decline into a recorded no-op.
func (c *Coordinator) Join(ctx context.Context, id, partyID string) (model.Appointment, error) {
	return c.resolve(ctx, id, partyID, model.StatusJoined)
}

// Decline applies due -> declined for partyID.
func (c *Coordinator) Decline(ctx context.Context, id, partyID string) (model.Appointment, error) {
	return c.resolve(ctx, id, partyID, model.StatusDeclined)
}

func (c *Coordinator) resolve(ctx context.Context, id, partyID string, next model.Status) (model.Appointment, error) {
	appt, err := c.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.HasParty(partyID) {
		return model.Appointment{}, ErrUnknownParty
	}

	gate := c.gateFor(id)
	if next == model.StatusJoined {
		gate.inFlight.Add(1)
		defer gate.inFlight.Add(-1)
	} else {
		// Join wins a same-window race: a party already in the call must not
		// be disconnected by a simultaneous decline.
		for gate.inFlight.Load() > 0 {
			select {
			case <-ctx.Done():
				return model.Appointment{}, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}

	res, err := c.store.ConditionalUpdateStatus(ctx, id, model.StatusDue, next, partyID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !res.Applied {
		current := res.Current
		if current.Status.Terminal() {
			c.dropGate(id)
			c.recordNoop(ctx, current, partyID, next)
			return current, ErrAlreadyResolved
		}
		return current, ErrNotDue
	}
	defer c.dropGate(id)

	appt = res.Current
	if other, ok := appt.OtherParty(partyID); ok {
		evtType := notify.EventPartnerJoined
		if next == model.StatusDeclined {
			evtType = notify.EventPartnerDeclined
		}
		c.dispatcher.Notify(ctx, other, notify.Event{
			Type:          evtType,
			AppointmentID: appt.ID,
			Appointment:   appt,
			Actor:         partyID,
		})
	}
	c.publish(appt)
	c.logger.Info("appointment resolved", "appointment_id", appt.ID, "status", appt.Status, "party_id", partyID)

	if next == model.StatusJoined && c.signaling != nil {
		// Fire-and-forget: the call transport is the signaling service's
		// problem, a room failure must not undo the join.
		if _, err := c.signaling.CreateRoom(ctx, appt.ID, string(appt.MeetingType)); err != nil {
			c.logger.Error("signaling room creation failed", "err", err, "appointment_id", appt.ID)
		}
	}
	return appt, nil
}

// Expire applies due -> expired once the grace window has elapsed with no
// action from either party. Returns whether this caller owned the transition.
func (c *Coordinator) Expire(ctx context.Context, id string) (model.Appointment, bool, error) {
	res, err := c.store.ConditionalUpdateStatus(ctx, id, model.StatusDue, model.StatusExpired, "")
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !res.Applied {
		return res.Current, false, nil
	}

	appt := res.Current
	for _, party := range appt.Parties() {
		c.dispatcher.Notify(ctx, party, notify.Event{
			Type:          notify.EventExpired,
			AppointmentID: appt.ID,
			Appointment:   appt,
		})
	}
	c.publish(appt)
	c.dropGate(id)
	c.logger.Info("appointment expired", "appointment_id", appt.ID)
	return appt, true, nil
}

func (c *Coordinator) recordNoop(ctx context.Context, appt model.Appointment, partyID string, attempted model.Status) {
	parties := appt.Parties()
	var actor model.PartyRef
	for _, p := range parties {
		if p.ID == partyID {
			actor = p
		}
	}
	c.dispatcher.Notify(ctx, actor, notify.Event{
		Type:          notify.EventResolvedNoop,
		AppointmentID: appt.ID,
		Appointment:   appt,
		Actor:         partyID,
	})
	c.logger.Info("late action recorded as no-op", "appointment_id", appt.ID,
		"party_id", partyID, "attempted", attempted, "status", appt.Status)
}
