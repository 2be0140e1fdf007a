package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultReferralRate is the share of a referred investor's paid-in capital
// credited to the referrer.
var DefaultReferralRate = decimal.RequireFromString("0.05")

// ReferralEarning credits a referrer for one confirmed pairing paid by an
// investor they referred. A pairing earns at most once.
type ReferralEarning struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ReferrerID uint            `gorm:"not null;index" json:"referrer_id"`
	ReferredID uint            `gorm:"not null;index" json:"referred_id"`
	PairingID  uint            `gorm:"not null;uniqueIndex" json:"pairing_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Rate       decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rate"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (ReferralEarning) TableName() string {
	return "referral_earnings"
}

// ReferralAmount is rate applied to amount, rounded down to the cent.
func ReferralAmount(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Truncate(2)
}
