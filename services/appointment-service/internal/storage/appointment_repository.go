package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/meetsync/libs/db"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

const appointmentColumns = `id, title, description, location, meeting_type, start_time, duration_minutes,
	booker_id, booker_name, booker_email, booker_phone, counterparty_id,
	status, notes, COALESCE(resolved_by, ''), created_at, updated_at`

type AppointmentRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// UpdateResult reports the outcome of a conditional status update. When
// Applied is false, Current carries the record as some other actor left it.
type UpdateResult struct {
	Applied bool
	Current model.Appointment
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *AppointmentRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *AppointmentRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointment_idempotency_keys
		SET appointment_id = NULLIF($2, '')::uuid,
			status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE idempotency_key = $1
	`, key, appointmentID, statusCode, response)
	return err
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(title, description, location, meeting_type, start_time, duration_minutes,
			 booker_id, booker_name, booker_email, booker_phone, counterparty_id, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, appt.Title, appt.Description, appt.Location, appt.MeetingType, appt.StartTime, appt.DurationMinutes,
		appt.BookerID, appt.BookerName, appt.BookerEmail, appt.BookerPhone, appt.CounterpartyID,
		appt.Status, appt.Notes).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// ConditionalUpdateStatus performs the compare-and-swap that arbitrates every
// concurrent transition in the system: the status write lands only if the
// record still carries expected. On a miss the current record is re-read so
// the caller can reconcile instead of retrying blindly.
func (r *AppointmentRepository) ConditionalUpdateStatus(ctx context.Context, id string, expected, next model.Status, resolvedBy string) (UpdateResult, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
			resolved_by = COALESCE(NULLIF($4, ''), resolved_by),
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, expected, next, resolvedBy)

	appt, err := scanAppointment(row)
	if err == nil {
		return UpdateResult{Applied: true, Current: appt}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return UpdateResult{}, err
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{Applied: false, Current: current}, nil
}

func (r *AppointmentRepository) ListForParty(ctx context.Context, partyID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE booker_id = $1 OR counterparty_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, partyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListBookedIntervals returns appointments that block new bookings for the
// counterparty within [start, end). Terminal declined/expired records and
// unconfirmed pendings do not block.
func (r *AppointmentRepository) ListBookedIntervals(ctx context.Context, counterpartyID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE counterparty_id = $1
			AND status IN ('confirmed', 'due', 'joined')
			AND start_time < $3
			AND start_time + make_interval(mins => duration_minutes) > $2
		ORDER BY start_time ASC
	`, counterpartyID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// FetchDueCandidates lists confirmed appointments whose start time has passed.
// Callers transition each candidate through ConditionalUpdateStatus, so a
// concurrent scan racing this one is harmless.
func (r *AppointmentRepository) FetchDueCandidates(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.fetchIDs(ctx, `
		SELECT id FROM appointments
		WHERE status = 'confirmed' AND start_time <= $1
		ORDER BY start_time
		LIMIT $2
	`, now, limit)
}

// FetchExpireCandidates lists due appointments whose grace window has elapsed.
func (r *AppointmentRepository) FetchExpireCandidates(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]string, error) {
	return r.fetchIDs(ctx, `
		SELECT id FROM appointments
		WHERE status = 'due' AND start_time <= $1
		ORDER BY start_time
		LIMIT $2
	`, now.Add(-grace), limit)
}

func (r *AppointmentRepository) fetchIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

// IsConflict reports an exclusion-constraint violation, i.e. the requested
// timespan overlaps an active appointment for the same counterparty.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.Title,
		&appt.Description,
		&appt.Location,
		&appt.MeetingType,
		&appt.StartTime,
		&appt.DurationMinutes,
		&appt.BookerID,
		&appt.BookerName,
		&appt.BookerEmail,
		&appt.BookerPhone,
		&appt.CounterpartyID,
		&appt.Status,
		&appt.Notes,
		&appt.ResolvedBy,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (r *AppointmentRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM appointment_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, key).Scan(
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
