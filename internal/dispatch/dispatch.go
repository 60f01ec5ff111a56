// Package dispatch accepts transcription submissions and hands them to the
// queue. Submission is fire-and-forget: the caller gets the request id back
// and polls for the outcome. Funds are not checked here; cost depends on the
// measured duration, so the funds check happens at settlement.
package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/media"
	"voxbill/backend/internal/models"
	"voxbill/backend/internal/queue"
)

// ErrDispatchUnavailable is returned when the transport rejects the publish.
// The request is rolled back to submitted; the caller may retry.
var ErrDispatchUnavailable = errors.New("dispatch unavailable")

type Dispatcher struct {
	jobs       *jobs.Store
	transport  queue.Transport
	classifier media.Classifier
	log        zerolog.Logger
}

func New(js *jobs.Store, t queue.Transport, c media.Classifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:       js,
		transport:  t,
		classifier: c,
		log:        log.With().Str("component", "dispatch").Logger(),
	}
}

// Submit validates the audio reference, records the request and publishes the
// job message. Returns the client-facing request id.
func (d *Dispatcher) Submit(ctx context.Context, userID uint, audioRef string) (string, error) {
	if err := d.classifier.Accept(audioRef); err != nil {
		return "", err
	}

	req, err := d.jobs.Create(userID, audioRef)
	if err != nil {
		return "", err
	}
	if err := d.jobs.Transition(req.ID, req.Status, models.StatusDispatched); err != nil {
		return "", err
	}

	msg := queue.Message{RequestID: req.RequestID, UserID: userID, AudioRef: audioRef}
	if err := d.transport.Publish(ctx, msg); err != nil {
		// Undo the dispatch so a later submission retry starts clean.
		if rbErr := d.jobs.Transition(req.ID, models.StatusDispatched, models.StatusSubmitted); rbErr != nil {
			d.log.Error().Err(rbErr).Str("request_id", req.RequestID).Msg("dispatch rollback failed")
		}
		d.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("publish failed")
		return "", errors.Join(ErrDispatchUnavailable, err)
	}

	d.log.Info().Str("request_id", req.RequestID).Uint("user_id", userID).Msg("job dispatched")
	return req.RequestID, nil
}
