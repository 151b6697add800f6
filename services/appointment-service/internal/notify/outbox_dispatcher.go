package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/db"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/outbox"
)

// OutboxDispatcher persists one outbox row per (party, event); the publisher
// goroutine moves them to Kafka where the notification service renders them.
type OutboxDispatcher struct {
	pool   *db.Pool
	repo   *outbox.Repository
	logger *slog.Logger
}

func NewOutboxDispatcher(pool *db.Pool, repo *outbox.Repository, logger *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{pool: pool, repo: repo, logger: logger}
}

func (d *OutboxDispatcher) Notify(ctx context.Context, party model.PartyRef, evt Event) {
	if err := d.notify(ctx, party, evt); err != nil {
		d.logger.Error("invite event dispatch failed", "err", err,
			"appointment_id", evt.AppointmentID, "party_id", party.ID, "event", evt.Type)
	}
}

func (d *OutboxDispatcher) notify(ctx context.Context, party model.PartyRef, evt Event) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id":    evt.AppointmentID,
		"party_id":          party.ID,
		"channel":           party.Channel,
		"recipient":         party.Address,
		"event":             evt.Type,
		"actor":             evt.Actor,
		"remaining_seconds": int(evt.Remaining / time.Second),
		"title":             evt.Appointment.Title,
		"meeting_type":      evt.Appointment.MeetingType,
		"start_time":        evt.Appointment.StartTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := d.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   evt.AppointmentID,
		EventType:     topicFor(evt.Type),
		Payload:       payload,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func topicFor(t EventType) string {
	switch t {
	case EventDueSoon:
		return "appointment.invite.due.v1"
	case EventPartnerJoined:
		return "appointment.invite.joined.v1"
	case EventPartnerDeclined:
		return "appointment.invite.declined.v1"
	case EventExpired:
		return "appointment.invite.expired.v1"
	case EventResolvedNoop:
		return "appointment.invite.noop.v1"
	default:
		return "appointment.invite.unknown.v1"
	}
}
