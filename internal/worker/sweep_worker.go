package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/skolastik/skolastik-backend/internal/service"
)

// SweepBatchLimit caps how many overdue sessions one tick finalizes.
const SweepBatchLimit = 100

// SweepWorker periodically finalizes sessions whose deadline passed
// while no client was attached (closed tab, lost connection). Together
// with the per-connection deadline watcher this guarantees no attempt
// dangles in IN_PROGRESS forever. Finalization is idempotent, so a
// sweep racing a reconnecting client is harmless.
type SweepWorker struct {
	sessions *service.SessionService
	interval time.Duration
	log      zerolog.Logger
}

// NewSweepWorker creates a new SweepWorker.
func NewSweepWorker(sessions *service.SessionService, interval time.Duration, log zerolog.Logger) *SweepWorker {
	return &SweepWorker{
		sessions: sessions,
		interval: interval,
		log:      log.With().Str("component", "sweep_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *SweepWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			swept, err := w.sessions.SweepOverdue(ctx, SweepBatchLimit)
			if err != nil {
				w.log.Error().Err(err).Msg("Sweep failed")
				continue
			}
			if swept > 0 {
				w.log.Info().Int("count", swept).Msg("Finalized overdue sessions")
			}
		}
	}
}
