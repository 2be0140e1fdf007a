package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Investor struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	UserID              uint            `gorm:"not null;uniqueIndex" json:"user_id"`
	AvailableBalance    decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"available_balance"`
	IsWaiting           bool            `gorm:"not null;default:false;index" json:"is_waiting"`
	WaitingSince        *time.Time      `json:"waiting_since,omitempty"`
	WaitingInvestmentID *uint           `gorm:"column:waiting_investment_id" json:"waiting_investment_id,omitempty"`
	ReferralCode        string          `gorm:"size:36;uniqueIndex" json:"referral_code"`
	ReferredBy          *uint           `gorm:"column:referred_by;index" json:"referred_by,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"-"`
}

func (Investor) TableName() string {
	return "investors"
}

// BeforeCreate assigns a referral code when the caller did not provide one.
func (i *Investor) BeforeCreate(tx *gorm.DB) error {
	if i.ReferralCode == "" {
		i.ReferralCode = uuid.NewString()
	}
	return nil
}

// StartWaiting flags the investor as waiting on investmentID. An investor
// already waiting keeps its original waitingSince.
func (i *Investor) StartWaiting(investmentID uint, now time.Time) {
	if !i.IsWaiting || i.WaitingSince == nil {
		i.WaitingSince = &now
	}
	i.IsWaiting = true
	id := investmentID
	i.WaitingInvestmentID = &id
}

func (i *Investor) StopWaiting() {
	i.IsWaiting = false
	i.WaitingSince = nil
	i.WaitingInvestmentID = nil
}
