package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/meetsync/libs/clock"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/availability"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/booking"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/coordinator"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/detector"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/outbox"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/storage"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/watch"
)

type AppointmentHandler struct {
	repo         *storage.AppointmentRepository
	outboxRepo   *outbox.Repository
	coord        *coordinator.Coordinator
	hub          *watch.Hub
	clk          clock.Clock
	logger       *slog.Logger
	tickInterval time.Duration
	autoConfirm  bool
}

func NewAppointmentHandler(repo *storage.AppointmentRepository, outboxRepo *outbox.Repository, coord *coordinator.Coordinator, hub *watch.Hub, clk clock.Clock, logger *slog.Logger, tickInterval time.Duration, autoConfirm bool) *AppointmentHandler {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &AppointmentHandler{
		repo:         repo,
		outboxRepo:   outboxRepo,
		coord:        coord,
		hub:          hub,
		clk:          clk,
		logger:       logger,
		tickInterval: tickInterval,
		autoConfirm:  autoConfirm,
	}
}

type bookRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	MeetingType     string `json:"meeting_type"`
	CounterpartyID  string `json:"counterparty_id"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	PhoneNumber     string `json:"phone_number"`
	Notes           string `json:"notes"`
	SlotDate        string `json:"slot_date"`
	SlotTime        string `json:"slot_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	Location        string `json:"location,omitempty"`
	MeetingType     string `json:"meeting_type"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	BookerID        string `json:"booker_id"`
	BookerName      string `json:"booker_name"`
	CounterpartyID  string `json:"counterparty_id"`
	Status          string `json:"status"`
	ResolvedBy      string `json:"resolved_by,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type actionRequest struct {
	AppointmentID string `json:"appointment_id"`
	PartyID       string `json:"party_id"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.CounterpartyID = strings.TrimSpace(req.CounterpartyID)
	if req.CounterpartyID == "" {
		http.Error(w, "counterparty_id required", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes <= 0 || req.DurationMinutes > 8*60 {
		http.Error(w, "duration_minutes must be between 1 and 480", http.StatusBadRequest)
		return
	}

	sub := booking.Submission{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		MeetingType: model.MeetingType(strings.TrimSpace(req.MeetingType)),
		Notes:       req.Notes,
	}
	slot := booking.Slot{Date: req.SlotDate, Time: req.SlotTime}
	draft := booking.Draft{
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		CounterpartyID:  req.CounterpartyID,
		DurationMinutes: req.DurationMinutes,
	}

	// One controller per request: the in-flight guard protects a client-side
	// form, while cross-request dedupe rides on the Idempotency-Key header.
	ctrl := booking.NewController(h.creator(), h.logger, nil, nil)
	ctrl.UseKey(r.Header.Get("Idempotency-Key"))

	appt, err := ctrl.Submit(r.Context(), sub, slot, draft)
	if err != nil {
		var verr *booking.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "invalid booking submission",
				"fields": verr.Fields,
			})
		case storage.IsConflict(err):
			http.Error(w, "time slot already booked", http.StatusConflict)
		default:
			h.logger.Error("booking failed", "err", err)
			http.Error(w, "booking temporarily unavailable, please retry", http.StatusServiceUnavailable)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toItem(appt))
}

// creator is the store-facing side handed to the booking controller: one
// atomic, idempotent create per logical submission.
func (h *AppointmentHandler) creator() booking.Creator {
	return creatorFunc(func(ctx context.Context, draft model.Appointment, key string) (model.Appointment, error) {
		tx, err := h.repo.Begin(ctx)
		if err != nil {
			return model.Appointment{}, err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, key)
		if err != nil {
			return model.Appointment{}, err
		}
		if exists && rec.AppointmentID != "" {
			if err := tx.Commit(ctx); err != nil {
				return model.Appointment{}, err
			}
			return h.repo.Get(ctx, rec.AppointmentID)
		}

		draft.BookerID = uuid.NewString()
		draft.Status = model.StatusPending
		if h.autoConfirm {
			draft.Status = model.StatusConfirmed
		}

		id, err := h.repo.Create(ctx, tx, &draft)
		if err != nil {
			return model.Appointment{}, err
		}
		draft.ID = id

		payload, err := json.Marshal(map[string]any{
			"appointment_id":  id,
			"counterparty_id": draft.CounterpartyID,
			"meeting_type":    draft.MeetingType,
			"start_time":      draft.StartTime.UTC().Format(time.RFC3339),
			"status":          draft.Status,
		})
		if err != nil {
			return model.Appointment{}, err
		}
		if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   id,
			EventType:     "appointment.booked.v1",
			Payload:       payload,
		}); err != nil {
			return model.Appointment{}, err
		}

		if err := h.repo.FinalizeIdempotency(ctx, tx, key, id, http.StatusCreated, payload); err != nil {
			return model.Appointment{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return model.Appointment{}, err
		}
		return h.repo.Get(ctx, id)
	})
}

type creatorFunc func(ctx context.Context, draft model.Appointment, key string) (model.Appointment, error)

func (f creatorFunc) CreateAppointment(ctx context.Context, draft model.Appointment, key string) (model.Appointment, error) {
	return f(ctx, draft, key)
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counterpartyID := strings.TrimSpace(r.URL.Query().Get("counterparty_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if counterpartyID == "" || dateStr == "" {
		http.Error(w, "counterparty_id and date are required", http.StatusBadRequest)
		return
	}

	durationMins := queryInt(r, "duration_minutes", 30, 1, 8*60)
	stepMins := queryInt(r, "slot_step_minutes", 15, 1, 120)
	if durationMins < 0 || stepMins < 0 {
		http.Error(w, "invalid slot parameters", http.StatusBadRequest)
		return
	}

	workStart := strings.TrimSpace(r.URL.Query().Get("workday_start"))
	if workStart == "" {
		workStart = "09:00"
	}
	workEnd := strings.TrimSpace(r.URL.Query().Get("workday_end"))
	if workEnd == "" {
		workEnd = "17:00"
	}

	window, ok := availability.DayWindow(dateStr, workStart, workEnd)
	if !ok {
		writeJSON(w, http.StatusOK, []slotItem{})
		return
	}

	booked, err := h.repo.ListBookedIntervals(r.Context(), counterpartyID, window.Start, window.End)
	if err != nil {
		http.Error(w, "failed to load booked slots", http.StatusInternalServerError)
		return
	}
	busy := make([]availability.Window, 0, len(booked))
	for _, a := range booked {
		busy = append(busy, availability.Window{Start: a.StartTime, End: a.EndTime()})
	}

	duration := time.Duration(durationMins) * time.Minute
	starts := availability.SelectableSlots(window, duration, time.Duration(stepMins)*time.Minute, busy, h.clk.Now())

	resp := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		resp = append(resp, slotItem{
			StartTime: s.UTC().Format(time.RFC3339),
			EndTime:   s.Add(duration).UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	appt, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	partyID := strings.TrimSpace(r.URL.Query().Get("party_id"))
	if partyID == "" {
		http.Error(w, "party_id required", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 50, 1, 200)

	appts, err := h.repo.ListForParty(r.Context(), partyID, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	appt, err := h.coord.Confirm(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to confirm appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

func (h *AppointmentHandler) Join(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.coord.Join)
}

func (h *AppointmentHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.coord.Decline)
}

func (h *AppointmentHandler) resolve(w http.ResponseWriter, r *http.Request, action func(context.Context, string, string) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	partyID := strings.TrimSpace(req.PartyID)
	if id == "" || partyID == "" {
		http.Error(w, "appointment_id and party_id required", http.StatusBadRequest)
		return
	}

	appt, err := action(r.Context(), id, partyID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toItem(appt))
	case errors.Is(err, coordinator.ErrAlreadyResolved):
		// A no-op notice, not an error: the record already reached a terminal
		// state and the caller just reconciles to it.
		writeJSON(w, http.StatusOK, map[string]any{
			"noop":        true,
			"appointment": toItem(appt),
		})
	case errors.Is(err, coordinator.ErrNotDue):
		http.Error(w, "appointment is not due yet", http.StatusConflict)
	case errors.Is(err, coordinator.ErrUnknownParty):
		http.Error(w, "party is not a participant", http.StatusForbidden)
	case storage.IsNotFound(err):
		http.Error(w, "appointment not found", http.StatusNotFound)
	default:
		h.logger.Error("resolution failed", "err", err, "appointment_id", id)
		http.Error(w, "failed to update appointment", http.StatusInternalServerError)
	}
}

// Watch streams countdown ticks and status changes for one appointment as
// server-sent events. The tick timer lives and dies with this connection:
// closing the view cancels the request context, which stops the detector
// session before another tick can fire.
func (h *AppointmentHandler) Watch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if _, err := h.repo.Get(r.Context(), id); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := h.hub.Subscribe(id)
	defer unsubscribe()

	ticks := make(chan detector.Tick, 1)
	session := detector.NewSession(id, h.repo, h.coord, h.clk, h.tickInterval, h.logger, func(tk detector.Tick) {
		select {
		case ticks <- tk:
		case <-ctx.Done():
		}
	})
	sessionDone := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(sessionDone)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionDone:
			return
		case tk := <-ticks:
			h.writeSSE(w, flusher, "tick", map[string]any{
				"appointment_id": tk.Appointment.ID,
				"status":         tk.Appointment.Status,
				"countdown":      tk.Countdown,
				"remaining_ms":   tk.Remaining.Milliseconds(),
			})
			if tk.Appointment.Status.Terminal() {
				return
			}
		case appt, open := <-updates:
			if !open {
				return
			}
			h.writeSSE(w, flusher, "status", toItem(appt))
			if appt.Status.Terminal() {
				return
			}
		}
	}
}

func (h *AppointmentHandler) writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode sse payload", "err", err)
		return
	}
	if _, err := w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n")); err != nil {
		return
	}
	flusher.Flush()
}

func toItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:   a.ID,
		Title:           a.Title,
		Description:     a.Description,
		Location:        a.Location,
		MeetingType:     string(a.MeetingType),
		StartTime:       a.StartTime.UTC().Format(time.RFC3339),
		DurationMinutes: a.DurationMinutes,
		BookerID:        a.BookerID,
		BookerName:      a.BookerName,
		CounterpartyID:  a.CounterpartyID,
		Status:          string(a.Status),
		ResolvedBy:      a.ResolvedBy,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func queryInt(r *http.Request, key string, fallback, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return -1
	}
	return n
}
