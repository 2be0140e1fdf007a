package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type InvestmentStatus string

const (
	StatusAvailable InvestmentStatus = "Available"
	StatusMatched   InvestmentStatus = "Matched"
	StatusSold      InvestmentStatus = "Sold"
	StatusMatured   InvestmentStatus = "Matured"
)

// DefaultTermDays is the maturation term used when a deposit does not carry one.
const DefaultTermDays = 30

type Investment struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	InvestorID      uint             `gorm:"not null;index" json:"investor_id"`
	PrincipalAmount decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"principal_amount"`
	RemainingAmount decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"remaining_amount"`
	TermDays        int              `gorm:"not null;default:30" json:"term_days"`
	MaturationDate  time.Time        `gorm:"not null;index" json:"maturation_date"`
	IsMatured       bool             `gorm:"not null;default:false;index" json:"is_matured"`
	MaturedAt       *time.Time       `json:"matured_at,omitempty"`
	Status          InvestmentStatus `gorm:"size:20;not null;default:'Available'" json:"status"`
	Paired          bool             `gorm:"not null;default:false" json:"paired"`
	IsForSale       bool             `gorm:"not null;default:false" json:"is_for_sale"`
	ArchivedAt      *time.Time       `gorm:"index" json:"archived_at,omitempty"`
	Version         uint             `gorm:"not null;default:0" json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (Investment) TableName() string {
	return "investments"
}

// Validate checks the amount and date fields before any write.
func (inv *Investment) Validate() error {
	if !inv.PrincipalAmount.IsPositive() {
		return fmt.Errorf("%w: principal amount must be positive, got %s", ErrValidation, inv.PrincipalAmount)
	}
	if inv.RemainingAmount.IsNegative() {
		return fmt.Errorf("%w: remaining amount must not be negative, got %s", ErrValidation, inv.RemainingAmount)
	}
	if inv.RemainingAmount.GreaterThan(inv.PrincipalAmount) {
		return fmt.Errorf("%w: remaining amount %s exceeds principal %s", ErrValidation, inv.RemainingAmount, inv.PrincipalAmount)
	}
	if inv.MaturationDate.IsZero() {
		return fmt.Errorf("%w: maturation date is required", ErrValidation)
	}
	if inv.TermDays <= 0 {
		return fmt.Errorf("%w: term must be at least one day, got %d", ErrValidation, inv.TermDays)
	}
	return nil
}

// Term is the maturation countdown length.
func (inv *Investment) Term() time.Duration {
	days := inv.TermDays
	if days <= 0 {
		days = DefaultTermDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// IsDue reports whether the maturation date has been reached and the
// investment has not matured yet.
func (inv *Investment) IsDue(now time.Time) bool {
	return !inv.IsMatured && !now.Before(inv.MaturationDate)
}

// Allocate takes amount off the remaining balance and keeps the paired flag
// in step with it. It never clamps: an allocation larger than what remains
// is an invariant violation.
func (inv *Investment) Allocate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: allocation on investment %d must be positive, got %s", ErrInvariantViolation, inv.ID, amount)
	}
	next := inv.RemainingAmount.Sub(amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: allocating %s on investment %d would leave %s", ErrInvariantViolation, amount, inv.ID, next)
	}
	inv.RemainingAmount = next
	inv.Paired = next.IsZero()
	return nil
}

// Funded is the part of the principal other investors have paid in. It is
// only meaningful before maturation.
func (inv *Investment) Funded() decimal.Decimal {
	return inv.PrincipalAmount.Sub(inv.RemainingAmount)
}

// Mature performs the one-way Active -> Matured transition. What was funded
// becomes the amount owed back to the owner and re-enters the pool unpaired.
// An investment nobody funded matures owing nothing and is archived.
func (inv *Investment) Mature(now time.Time) error {
	if inv.IsMatured {
		return fmt.Errorf("%w: investment %d already matured", ErrInvalidState, inv.ID)
	}
	owed := inv.Funded()
	inv.IsMatured = true
	inv.MaturedAt = &now
	inv.Status = StatusMatured
	inv.IsForSale = false
	inv.RemainingAmount = owed
	inv.Paired = owed.IsZero()
	if owed.IsZero() {
		inv.ArchivedAt = &now
	}
	return nil
}

// ListForSale flags a fully funded, immature investment as on the market.
func (inv *Investment) ListForSale() error {
	switch {
	case inv.IsMatured || inv.ArchivedAt != nil:
		return fmt.Errorf("%w: investment %d is no longer active", ErrInvalidState, inv.ID)
	case !inv.Paired || inv.Status != StatusMatched:
		return fmt.Errorf("%w: investment %d is not fully funded", ErrInvalidState, inv.ID)
	case inv.IsForSale:
		return fmt.Errorf("%w: investment %d is already for sale", ErrInvalidState, inv.ID)
	}
	inv.IsForSale = true
	return nil
}

// Sold closes the seller's side of a completed sale.
func (inv *Investment) Sold(now time.Time) error {
	if !inv.IsForSale || inv.IsMatured || inv.ArchivedAt != nil {
		return fmt.Errorf("%w: investment %d is not for sale", ErrInvalidState, inv.ID)
	}
	inv.IsForSale = false
	inv.Status = StatusSold
	inv.ArchivedAt = &now
	return nil
}

// DailyInterest is the per-day accrual at rate (0.01 is one percent).
func (inv *Investment) DailyInterest(rate decimal.Decimal) decimal.Decimal {
	return inv.PrincipalAmount.Mul(rate).Round(2)
}

// ProjectedInterest accrues DailyInterest over the whole days between
// creation and maturation.
func (inv *Investment) ProjectedInterest(rate decimal.Decimal) decimal.Decimal {
	days := int64(inv.MaturationDate.Sub(inv.CreatedAt) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	return inv.DailyInterest(rate).Mul(decimal.NewFromInt(days))
}

// EndReturn is principal plus projected interest. Reporting only; the
// matching path allocates remaining amounts.
func (inv *Investment) EndReturn(rate decimal.Decimal) decimal.Decimal {
	return inv.PrincipalAmount.Add(inv.ProjectedInterest(rate))
}
