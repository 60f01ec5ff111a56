// Package ledger is the sole mutator of user balances. Every balance change
// appends a transaction, so the balance always equals the sum of
// replenishments minus the sum of decreases.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"voxbill/backend/internal/locks"
	"voxbill/backend/internal/models"
)

var (
	// ErrInvalidAmount is returned when a credit or debit amount is not positive.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUserNotFound is returned when the user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Store serializes balance mutations per user: read balance, check, write and
// append the transaction form one critical section, so concurrent credits and
// debits can never act on a stale balance.
type Store struct {
	db    *gorm.DB
	users *locks.Keyed
	log   zerolog.Logger
}

func NewStore(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{
		db:    db,
		users: locks.NewKeyed(),
		log:   log.With().Str("component", "ledger").Logger(),
	}
}

// Credit increases the user's balance and appends a replenishment
// transaction. Returns the new balance.
func (s *Store) Credit(userID uint, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	unlock := s.users.Lock(userID)
	defer unlock()

	var balance decimal.Decimal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		u, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		u.Balance = u.Balance.Add(amount)
		if err := tx.Model(&models.User{}).Where("id = ?", u.ID).
			Update("balance", u.Balance).Error; err != nil {
			return err
		}
		balance = u.Balance
		return tx.Create(&models.Transaction{
			AuditID:          uuid.New().String(),
			UserID:           userID,
			Kind:             models.KindReplenishment,
			Amount:           amount,
			ResultingBalance: u.Balance,
			CreatedAt:        time.Now(),
		}).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	s.log.Info().Uint("user_id", userID).Str("amount", amount.String()).
		Str("balance", balance.String()).Msg("credit applied")
	return balance, nil
}

// Debit decreases the user's balance and appends a decrease transaction
// referencing the settling request. Fails with ErrInsufficientFunds without
// writing anything if the balance does not cover the amount.
func (s *Store) Debit(userID uint, amount decimal.Decimal, requestID uint) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	unlock := s.users.Lock(userID)
	defer unlock()

	var balance decimal.Decimal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		u, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if u.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		u.Balance = u.Balance.Sub(amount)
		if err := tx.Model(&models.User{}).Where("id = ?", u.ID).
			Update("balance", u.Balance).Error; err != nil {
			return err
		}
		balance = u.Balance
		ref := requestID
		return tx.Create(&models.Transaction{
			AuditID:          uuid.New().String(),
			UserID:           userID,
			Kind:             models.KindDecrease,
			Amount:           amount,
			ResultingBalance: u.Balance,
			RequestRef:       &ref,
			CreatedAt:        time.Now(),
		}).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	s.log.Info().Uint("user_id", userID).Uint("request_id", requestID).
		Str("amount", amount.String()).Str("balance", balance.String()).Msg("debit applied")
	return balance, nil
}

// BalanceOf returns a snapshot of the user's balance.
func (s *Store) BalanceOf(userID uint) (decimal.Decimal, error) {
	u, err := loadUser(s.db, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.Balance, nil
}

// HasSettled reports whether a decrease transaction already references the
// request. The settlement coordinator uses it as its idempotency check.
func (s *Store) HasSettled(requestID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.Transaction{}).
		Where("request_ref = ? AND kind = ?", requestID, models.KindDecrease).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// History returns the user's transactions, newest first.
func (s *Store) History(userID uint) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.Where("user_id = ?", userID).Order("id desc").Find(&txs).Error
	return txs, err
}

func loadUser(tx *gorm.DB, userID uint) (models.User, error) {
	var u models.User
	if err := tx.First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return u, ErrUserNotFound
		}
		return u, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}
