package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pairing allocates part of an immature investment's capital to a matured
// investment. InvestorID is the immature side (the payer); the matured
// investment's owner confirms receipt.
type Pairing struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	InvestorID           uint            `gorm:"not null;index" json:"investor_id"`
	ImmatureInvestmentID uint            `gorm:"not null;index" json:"immature_investment_id"`
	PairedInvestmentID   uint            `gorm:"not null;index" json:"paired_investment_id"`
	PairedAmount         decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"paired_amount"`
	IntentKey            string          `gorm:"size:80;not null;uniqueIndex" json:"-"`
	Confirmed            bool            `gorm:"not null;default:false;index" json:"confirmed"`
	ConfirmedAt          *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

func (Pairing) TableName() string {
	return "pairings"
}
