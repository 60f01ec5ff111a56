// Package pricing maps measured audio duration to a charge.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidDuration is returned for durations outside the accepted range.
var ErrInvalidDuration = errors.New("invalid duration")

// Accepted audio duration bounds in seconds.
const (
	MinDurationSec = 5
	MaxDurationSec = 600
)

// Model charges UnitPrice per second, rounding the total up to the nearest
// billable Unit so a fraction of a unit is never undercharged.
type Model struct {
	UnitPrice decimal.Decimal
	Unit      decimal.Decimal
}

func NewModel(unitPrice, unit float64) Model {
	return Model{
		UnitPrice: decimal.NewFromFloat(unitPrice),
		Unit:      decimal.NewFromFloat(unit),
	}
}

// Cost computes the charge for the given duration in seconds.
func (m Model) Cost(durationSec float64) (decimal.Decimal, error) {
	if durationSec < MinDurationSec || durationSec > MaxDurationSec {
		return decimal.Zero, ErrInvalidDuration
	}
	raw := m.UnitPrice.Mul(decimal.NewFromFloat(durationSec))
	units := raw.Div(m.Unit).Ceil()
	return units.Mul(m.Unit), nil
}
