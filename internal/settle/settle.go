// Package settle is the pipeline's idempotency boundary: however many times a
// completion event for one request arrives, the ledger is debited once and
// the request reaches its terminal state once.
package settle

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/ledger"
	"voxbill/backend/internal/locks"
	"voxbill/backend/internal/models"
)

// Coordinator composes the has-settled check and the debit into one critical
// section per request, so two workers racing on a redelivered completion
// cannot both charge the user.
type Coordinator struct {
	ledger   *ledger.Store
	jobs     *jobs.Store
	requests *locks.Keyed
	log      zerolog.Logger
}

func New(ls *ledger.Store, js *jobs.Store, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		ledger:   ls,
		jobs:     js,
		requests: locks.NewKeyed(),
		log:      log.With().Str("component", "settle").Logger(),
	}
}

// Settle debits the user for a finished transcription and finalizes the
// request. Safe to call any number of times for the same request.
func (c *Coordinator) Settle(req models.Request, duration float64, cost decimal.Decimal, transcript string) error {
	unlock := c.requests.Lock(req.ID)
	defer unlock()

	settled, err := c.ledger.HasSettled(req.ID)
	if err != nil {
		return err
	}
	if settled {
		// Redelivered success event. The debit already happened; only make
		// sure the request is finalized.
		if err := c.jobs.Complete(req.ID, duration, cost, transcript); err != nil {
			if errors.Is(err, jobs.ErrStaleTransition) {
				c.log.Debug().Str("request_id", req.RequestID).Msg("already settled")
				return nil
			}
			return err
		}
		return nil
	}

	if _, err := c.ledger.Debit(req.UserID, cost, req.ID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			// Balance dropped between submission and completion. Retrying
			// will not create funds; the job fails.
			c.log.Warn().Str("request_id", req.RequestID).Uint("user_id", req.UserID).
				Str("cost", cost.String()).Msg("insufficient funds at settlement")
			if mfErr := c.jobs.MarkFailed(req.ID, "insufficient funds"); mfErr != nil &&
				!errors.Is(mfErr, jobs.ErrStaleTransition) {
				return mfErr
			}
			return ledger.ErrInsufficientFunds
		}
		return err
	}

	if err := c.jobs.Complete(req.ID, duration, cost, transcript); err != nil {
		if errors.Is(err, jobs.ErrStaleTransition) {
			c.log.Error().Str("request_id", req.RequestID).
				Msg("debited but request no longer processing")
		}
		return err
	}

	c.log.Info().Str("request_id", req.RequestID).Uint("user_id", req.UserID).
		Str("cost", cost.String()).Msg("settled")
	return nil
}
