// Package jobs owns request processing state. All status changes go through
// compare-and-set transitions so duplicate deliveries and racing workers
// cannot apply a state change out of order.
package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"voxbill/backend/internal/models"
)

var (
	// ErrStaleTransition is returned when the current status no longer matches
	// the expected one. Expected under duplicate delivery; logged, not escalated.
	ErrStaleTransition = errors.New("stale transition")
	// ErrInvalidTransition is returned for edges the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrRequestNotFound is returned when no request has the given id.
	ErrRequestNotFound = errors.New("request not found")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new request in submitted state and returns it.
func (s *Store) Create(userID uint, audioRef string) (models.Request, error) {
	req := models.Request{
		RequestID: uuid.New().String(),
		UserID:    userID,
		AudioRef:  audioRef,
		Status:    models.StatusSubmitted,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&req).Error; err != nil {
		return models.Request{}, err
	}
	return req, nil
}

// Get loads a request by its client-facing id.
func (s *Store) Get(requestID string) (models.Request, error) {
	var req models.Request
	err := s.db.Where("request_id = ?", requestID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return req, ErrRequestNotFound
	}
	return req, err
}

// Transition applies expected -> next if and only if the stored status still
// equals expected. A mismatch yields ErrStaleTransition; an edge the state
// machine forbids yields ErrInvalidTransition.
func (s *Store) Transition(id uint, expected, next string) error {
	if !validTransition(expected, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}
	updates := map[string]any{"status": next, "updated_at": time.Now()}
	if next == models.StatusProcessing {
		updates["started_at"] = time.Now()
	}
	res := s.db.Model(&models.Request{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, expected, next)
	}
	return nil
}

// IncrementAttempt bumps the attempt counter and returns the new count.
func (s *Store) IncrementAttempt(id uint) (int, error) {
	var count int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Request{}).Where("id = ?", id).
			Update("attempt_count", gorm.Expr("attempt_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRequestNotFound
		}
		var req models.Request
		if err := tx.First(&req, id).Error; err != nil {
			return err
		}
		count = req.AttemptCount
		return nil
	})
	return count, err
}

// MarkFailed moves a request from dispatched or processing to the terminal
// failed state and records the reason.
func (s *Store) MarkFailed(id uint, reason string) error {
	res := s.db.Model(&models.Request{}).
		Where("id = ? AND status IN ?", id, []string{models.StatusDispatched, models.StatusProcessing}).
		Updates(map[string]any{
			"status":      models.StatusFailed,
			"fail_reason": reason,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: -> %s", ErrStaleTransition, models.StatusFailed)
	}
	return nil
}

// Complete writes the settlement results and moves processing -> completed in
// one compare-and-set update.
func (s *Store) Complete(id uint, duration float64, cost decimal.Decimal, transcript string) error {
	if len(transcript) > models.MaxTranscriptLen {
		transcript = transcript[:models.MaxTranscriptLen]
	}
	res := s.db.Model(&models.Request{}).
		Where("id = ? AND status = ?", id, models.StatusProcessing).
		Updates(map[string]any{
			"status":     models.StatusCompleted,
			"duration":   duration,
			"cost":       cost,
			"transcript": transcript,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrStaleTransition, models.StatusProcessing, models.StatusCompleted)
	}
	return nil
}

// StuckProcessing lists requests that entered processing before the cutoff
// and never reached a terminal state. The reaper requeues them.
func (s *Store) StuckProcessing(cutoff time.Time) ([]models.Request, error) {
	var reqs []models.Request
	err := s.db.Where("status = ? AND started_at < ?", models.StatusProcessing, cutoff).
		Find(&reqs).Error
	return reqs, err
}

// validTransition enforces the allowed state machine edges. Dispatched ->
// submitted is the dispatcher's rollback when publishing fails; processing ->
// dispatched is a requeue after a transient failure or a reaped worker crash.
func validTransition(from, to string) bool {
	switch from {
	case models.StatusSubmitted:
		return to == models.StatusDispatched
	case models.StatusDispatched:
		return to == models.StatusProcessing || to == models.StatusSubmitted || to == models.StatusFailed
	case models.StatusProcessing:
		return to == models.StatusCompleted || to == models.StatusFailed || to == models.StatusDispatched
	default:
		return false
	}
}
