package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/clock"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/coordinator"
)

// Candidates lists appointments whose next transition is overdue.
type Candidates interface {
	FetchDueCandidates(ctx context.Context, now time.Time, limit int) ([]string, error)
	FetchExpireCandidates(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]string, error)
}

// Worker is the server-side backstop for clients that are not watching: it
// periodically sweeps for confirmed appointments past their start time and due
// appointments past the grace window. Every transition still goes through the
// coordinator's conditional update, so a sweep racing an open view (or another
// replica) costs nothing.
type Worker struct {
	candidates Candidates
	coord      *coordinator.Coordinator
	clk        clock.Clock
	logger     *slog.Logger
	interval   time.Duration
	grace      time.Duration
	batchSize  int
}

type Config struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int
}

func NewWorker(candidates Candidates, coord *coordinator.Coordinator, clk clock.Clock, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 120 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		candidates: candidates,
		coord:      coord,
		clk:        clk,
		logger:     logger,
		interval:   cfg.Interval,
		grace:      cfg.Grace,
		batchSize:  cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("appointment sweep failed", "err", err)
			}
		}
	}
}

func (w *Worker) sweep(ctx context.Context) error {
	now := w.clk.Now()

	dueIDs, err := w.candidates.FetchDueCandidates(ctx, now, w.batchSize)
	if err != nil {
		return err
	}
	for _, id := range dueIDs {
		if _, _, err := w.coord.MarkDue(ctx, id); err != nil {
			w.logger.Warn("due sweep transition failed", "err", err, "appointment_id", id)
		}
	}

	expireIDs, err := w.candidates.FetchExpireCandidates(ctx, now, w.grace, w.batchSize)
	if err != nil {
		return err
	}
	for _, id := range expireIDs {
		if _, _, err := w.coord.Expire(ctx, id); err != nil {
			w.logger.Warn("expiry sweep transition failed", "err", err, "appointment_id", id)
		}
	}
	return nil
}
