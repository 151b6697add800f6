package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

// ErrSubmitInFlight means a submission is already outstanding; the caller must
// wait for it to resolve before re-submitting.
var ErrSubmitInFlight = errors.New("booking submit already in flight")

// Creator is the store-facing side of the controller.
type Creator interface {
	CreateAppointment(ctx context.Context, draft model.Appointment, idempotencyKey string) (model.Appointment, error)
}

// Draft carries the meeting details that accompany the contact form.
type Draft struct {
	Title           string
	Description     string
	Location        string
	CounterpartyID  string
	DurationMinutes int
}

// Controller collects a booking form and sends exactly one atomic create
// request per logical submission. A double-click cannot produce two requests:
// re-entry is refused while one is outstanding, and a retry after failure
// reuses the same idempotency key so the store can deduplicate.
type Controller struct {
	creator  Creator
	logger   *slog.Logger
	onSubmit func(model.Appointment)
	onBack   func()

	mu       sync.Mutex
	inFlight bool
	key      string
}

func NewController(creator Creator, logger *slog.Logger, onSubmit func(model.Appointment), onBack func()) *Controller {
	return &Controller{
		creator:  creator,
		logger:   logger,
		onSubmit: onSubmit,
		onBack:   onBack,
	}
}

// UseKey adopts a caller-supplied idempotency key (e.g. an Idempotency-Key
// header) instead of generating one. Ignored while a submit is in flight.
func (c *Controller) UseKey(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	c.mu.Lock()
	if !c.inFlight {
		c.key = key
	}
	c.mu.Unlock()
}

func (c *Controller) Submit(ctx context.Context, sub Submission, slot Slot, draft Draft) (model.Appointment, error) {
	if verr := sub.Validate(); verr != nil {
		return model.Appointment{}, verr
	}
	start, err := slot.StartTime()
	if err != nil {
		return model.Appointment{}, &ValidationError{Fields: []string{"selectedSlot"}}
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return model.Appointment{}, ErrSubmitInFlight
	}
	c.inFlight = true
	if c.key == "" {
		c.key = uuid.NewString()
	}
	key := c.key
	c.mu.Unlock()

	appt := model.Appointment{
		Title:           strings.TrimSpace(draft.Title),
		Description:     strings.TrimSpace(draft.Description),
		Location:        strings.TrimSpace(draft.Location),
		MeetingType:     sub.MeetingType,
		StartTime:       start,
		DurationMinutes: draft.DurationMinutes,
		BookerName:      strings.TrimSpace(sub.FirstName) + " " + strings.TrimSpace(sub.LastName),
		BookerEmail:     strings.TrimSpace(sub.Email),
		BookerPhone:     strings.TrimSpace(sub.PhoneNumber),
		CounterpartyID:  strings.TrimSpace(draft.CounterpartyID),
		Notes:           sub.Notes,
	}

	created, err := c.creator.CreateAppointment(ctx, appt, key)

	c.mu.Lock()
	c.inFlight = false
	if err == nil {
		// Next logical submission gets a fresh key; a failed one keeps this
		// key so the retry dedupes against any write that did land.
		c.key = ""
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("booking submit failed", "err", err)
		return model.Appointment{}, err
	}
	if c.onSubmit != nil {
		c.onSubmit(created)
	}
	return created, nil
}

// Back signals navigation away from the form. It has no store effect.
func (c *Controller) Back() {
	if c.onBack != nil {
		c.onBack()
	}
}
