package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/clock"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/model"
)

// Reader reads the authoritative appointment record.
type Reader interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
}

// Resolver owns the confirmed -> due transition side effects; the detector
// only decides when to attempt it.
type Resolver interface {
	MarkDue(ctx context.Context, id string) (model.Appointment, bool, error)
}

// Tick is one countdown observation pushed to the open view.
type Tick struct {
	Appointment model.Appointment
	Remaining   time.Duration
	Countdown   string // MM:SS, pinned at 00:00 once start has passed
}

// Session drives the countdown for one open appointment view. It ticks while
// the view stays open and stops synchronously when the context is cancelled;
// reopening a view means constructing a fresh session. Run on a session that
// is already running is a no-op, so a re-rendered view cannot double-tick.
//
// The session never blocks its cadence on the store: a failed read or a
// transient write error is simply retried on the next tick, and a lost
// due-transition race is resolved by reconciling to whatever state the winner
// left behind.
type Session struct {
	appointmentID string
	reader        Reader
	resolver      Resolver
	clk           clock.Clock
	interval      time.Duration
	logger        *slog.Logger
	onTick        func(Tick)

	mu      sync.Mutex
	running bool
}

func NewSession(appointmentID string, reader Reader, resolver Resolver, clk clock.Clock, interval time.Duration, logger *slog.Logger, onTick func(Tick)) *Session {
	if interval <= 0 {
		interval = time.Second
	}
	return &Session{
		appointmentID: appointmentID,
		reader:        reader,
		resolver:      resolver,
		clk:           clk,
		interval:      interval,
		logger:        logger,
		onTick:        onTick,
	}
}

// Run ticks until ctx is cancelled. It returns immediately if the session is
// already running.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := s.tick(ctx); done {
				return
			}
		}
	}
}

// tick performs one evaluation. It reports true once the appointment has
// reached a terminal state and the view has nothing left to count down.
func (s *Session) tick(ctx context.Context) bool {
	appt, err := s.reader.Get(ctx, s.appointmentID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Transient store failure: the next tick is the retry.
		s.logger.Warn("due-time poll failed", "err", err, "appointment_id", s.appointmentID)
		return false
	}

	remaining := clock.Remaining(s.clk, appt.StartTime)
	if remaining == 0 && appt.Status == model.StatusConfirmed {
		current, owned, err := s.resolver.MarkDue(ctx, s.appointmentID)
		switch {
		case err != nil:
			s.logger.Warn("due transition attempt failed", "err", err, "appointment_id", s.appointmentID)
		case owned:
			appt = current
		default:
			// Another observer owned the transition; adopt its outcome.
			appt = current
		}
	}

	if s.onTick != nil {
		s.onTick(Tick{
			Appointment: appt,
			Remaining:   remaining,
			Countdown:   clock.FormatCountdown(remaining),
		})
	}
	return appt.Status.Terminal()
}
