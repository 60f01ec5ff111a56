package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request status values. Completed and Failed are terminal.
const (
	StatusSubmitted  = "submitted"
	StatusDispatched = "dispatched"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Transaction kinds.
const (
	KindReplenishment = "replenishment"
	KindDecrease      = "decrease"
)

// MaxTranscriptLen caps stored transcript size; longer results are truncated.
const MaxTranscriptLen = 30000

type User struct {
	ID        uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	Email     string          `json:"email" gorm:"uniqueIndex;not null"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(12,2);not null"`
	CreatedAt time.Time       `json:"created_at"`
}

// Request is one transcription job. Status is mutated only through the jobs
// store's compare-and-set; duration, cost and transcript are written once at
// settlement.
type Request struct {
	ID           uint            `json:"-" gorm:"primaryKey;autoIncrement"`
	RequestID    string          `json:"request_id" gorm:"uniqueIndex;not null"`
	UserID       uint            `json:"user_id" gorm:"index;not null"`
	AudioRef     string          `json:"audio_ref" gorm:"not null"`
	Duration     float64         `json:"duration"`
	Cost         decimal.Decimal `json:"cost" gorm:"type:decimal(12,2)"`
	Transcript   string          `json:"transcript,omitempty"`
	Status       string          `json:"status" gorm:"index;not null"`
	FailReason   *string         `json:"fail_reason,omitempty"`
	AttemptCount int             `json:"attempt_count" gorm:"not null"`
	StartedAt    *time.Time      `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"-"`
}

// Transaction is an append-only ledger record; never updated or deleted.
// RequestRef is set only on decrease transactions that settle a job and is
// unique, so one request can settle at most once.
type Transaction struct {
	ID               uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	AuditID          string          `json:"audit_id" gorm:"uniqueIndex;not null"`
	UserID           uint            `json:"user_id" gorm:"index;not null"`
	Kind             string          `json:"kind" gorm:"not null"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	ResultingBalance decimal.Decimal `json:"resulting_balance" gorm:"type:decimal(12,2);not null"`
	RequestRef       *uint           `json:"request_ref,omitempty" gorm:"uniqueIndex"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Terminal reports whether a status accepts no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
