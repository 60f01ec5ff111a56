package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/models"
	"voxbill/backend/internal/queue"
)

// Reaper requeues requests stuck in processing past the deadline, typically
// left behind by a crashed worker. Requeues count against the same attempt
// ceiling as transient failures, so a poisoned job cannot loop forever.
type Reaper struct {
	jobs        *jobs.Store
	transport   queue.Transport
	deadline    time.Duration
	interval    time.Duration
	maxAttempts int
	log         zerolog.Logger
}

func NewReaper(js *jobs.Store, t queue.Transport, deadline, interval time.Duration,
	maxAttempts int, log zerolog.Logger) *Reaper {
	return &Reaper{
		jobs:        js,
		transport:   t,
		deadline:    deadline,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "reaper").Logger(),
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass over stuck requests.
func (r *Reaper) Sweep(ctx context.Context) {
	stuck, err := r.jobs.StuckProcessing(time.Now().Add(-r.deadline))
	if err != nil {
		r.log.Error().Err(err).Msg("stuck scan failed")
		return
	}
	for _, req := range stuck {
		log := r.log.With().Str("request_id", req.RequestID).Int("attempts", req.AttemptCount).Logger()
		if req.AttemptCount >= r.maxAttempts {
			reason := fmt.Sprintf("processing deadline exceeded after %d attempts", req.AttemptCount)
			if err := r.jobs.MarkFailed(req.ID, reason); err != nil {
				log.Error().Err(err).Msg("mark failed errored")
				continue
			}
			log.Warn().Msg("stuck request abandoned")
			continue
		}
		// Publish before the transition: if the transition then loses to a
		// worker that woke up, the extra message is a duplicate of a finished
		// job, which consumers discard. The reverse order could strand the
		// request in dispatched with no message in flight.
		msg := queue.Message{RequestID: req.RequestID, UserID: req.UserID, AudioRef: req.AudioRef}
		if err := r.transport.Publish(ctx, msg); err != nil {
			log.Error().Err(err).Msg("republish failed, will retry next sweep")
			continue
		}
		if err := r.jobs.Transition(req.ID, models.StatusProcessing, models.StatusDispatched); err != nil {
			// The worker woke up and finished it in the meantime.
			log.Debug().Err(err).Msg("request no longer stuck")
			continue
		}
		log.Info().Msg("stuck request requeued")
	}
}
