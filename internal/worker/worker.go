// Package worker consumes job messages, runs transcription and drives each
// request to a terminal state. Acknowledgment is the last step of handling,
// so a crash mid-job causes redelivery instead of silent loss; duplicate
// deliveries are collapsed by the settlement coordinator and the job store's
// compare-and-set transitions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/ledger"
	"voxbill/backend/internal/models"
	"voxbill/backend/internal/pricing"
	"voxbill/backend/internal/queue"
	"voxbill/backend/internal/settle"
	"voxbill/backend/internal/transcribe"
)

type Pool struct {
	jobs        *jobs.Store
	transport   queue.Transport
	transcriber transcribe.Transcriber
	settler     *settle.Coordinator
	model       pricing.Model
	maxAttempts int
	workers     int
	log         zerolog.Logger
}

func NewPool(js *jobs.Store, t queue.Transport, tr transcribe.Transcriber,
	sc *settle.Coordinator, model pricing.Model, maxAttempts, workers int,
	log zerolog.Logger) *Pool {
	return &Pool{
		jobs:        js,
		transport:   t,
		transcriber: tr,
		settler:     sc,
		model:       model,
		maxAttempts: maxAttempts,
		workers:     workers,
		log:         log.With().Str("component", "worker").Logger(),
	}
}

// Run consumes until ctx is cancelled. All workers share one delivery
// channel; requests for different users process in full parallelism.
func (p *Pool) Run(ctx context.Context) error {
	deliveries, err := p.transport.Consume(ctx)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				p.handle(ctx, d)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pool) handle(ctx context.Context, d queue.Delivery) {
	log := p.log.With().Str("request_id", d.RequestID).Logger()

	req, err := p.jobs.Get(d.RequestID)
	if err != nil {
		if errors.Is(err, jobs.ErrRequestNotFound) {
			log.Warn().Msg("message for unknown request, dropping")
			_ = d.Ack()
			return
		}
		log.Error().Err(err).Msg("lookup failed")
		_ = d.Nack(true)
		return
	}

	if models.Terminal(req.Status) {
		// Duplicate delivery of a finished job: a no-op, not an error.
		log.Debug().Str("status", req.Status).Msg("request already finished")
		_ = d.Ack()
		return
	}

	if err := p.jobs.Transition(req.ID, models.StatusDispatched, models.StatusProcessing); err != nil {
		if errors.Is(err, jobs.ErrStaleTransition) {
			// Another worker holds this request. Drop the duplicate; the
			// reaper requeues it if that worker died.
			log.Debug().Msg("request taken by another worker")
			_ = d.Ack()
			return
		}
		log.Error().Err(err).Msg("transition to processing failed")
		_ = d.Nack(true)
		return
	}

	attempts, err := p.jobs.IncrementAttempt(req.ID)
	if err != nil {
		log.Error().Err(err).Msg("attempt increment failed")
		p.requeue(ctx, d, req.ID, log)
		return
	}
	log = log.With().Int("attempt", attempts).Logger()

	res, err := p.transcriber.Transcribe(ctx, req.AudioRef)
	if err != nil {
		if transcribe.IsTransient(err) && attempts < p.maxAttempts {
			log.Warn().Err(err).Msg("transient transcription failure, requeueing")
			p.requeue(ctx, d, req.ID, log)
			return
		}
		reason := fmt.Sprintf("transcription failed: %v", err)
		if transcribe.IsTransient(err) {
			reason = fmt.Sprintf("transcription failed after %d attempts: %v", attempts, err)
		}
		p.fail(d, req.ID, reason, log)
		return
	}

	cost, err := p.model.Cost(res.DurationSec)
	if err != nil {
		p.fail(d, req.ID, fmt.Sprintf("billing rejected duration %.1fs: %v", res.DurationSec, err), log)
		return
	}

	err = p.settler.Settle(req, res.DurationSec, cost, res.Text)
	switch {
	case err == nil:
		log.Info().Str("cost", cost.String()).Msg("request completed")
		_ = d.Ack()
	case errors.Is(err, ledger.ErrInsufficientFunds):
		// Terminal: the coordinator already marked the request failed.
		_ = d.Ack()
	case errors.Is(err, jobs.ErrStaleTransition):
		// Lost a settlement race; the winning delivery finished the job.
		_ = d.Ack()
	default:
		log.Error().Err(err).Msg("settlement failed, requeueing")
		p.requeue(ctx, d, req.ID, log)
	}
}

// requeue hands the request back to the queue for another attempt.
func (p *Pool) requeue(ctx context.Context, d queue.Delivery, id uint, log zerolog.Logger) {
	if err := p.jobs.Transition(id, models.StatusProcessing, models.StatusDispatched); err != nil &&
		!errors.Is(err, jobs.ErrStaleTransition) {
		log.Error().Err(err).Msg("requeue transition failed")
	}
	_ = d.Nack(true)
}

func (p *Pool) fail(d queue.Delivery, id uint, reason string, log zerolog.Logger) {
	if err := p.jobs.MarkFailed(id, reason); err != nil && !errors.Is(err, jobs.ErrStaleTransition) {
		log.Error().Err(err).Msg("mark failed errored")
		_ = d.Nack(true)
		return
	}
	log.Warn().Str("reason", reason).Msg("request failed")
	_ = d.Ack()
}
