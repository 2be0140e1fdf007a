package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SalePending   SaleStatus = "pending"
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

// InvestmentSale lists a fully funded, immature investment for another
// investor to take over at Price.
type InvestmentSale struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	InvestmentID uint            `gorm:"not null;index" json:"investment_id"`
	SellerID     uint            `gorm:"not null;index" json:"seller_id"`
	BuyerID      *uint           `gorm:"index" json:"buyer_id,omitempty"`
	Price        decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"price"`
	Status       SaleStatus      `gorm:"size:20;not null;default:'pending';index" json:"status"`
	// TransferredID is the investment created for the buyer.
	TransferredID *uint      `json:"transferred_investment_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

func (InvestmentSale) TableName() string {
	return "investment_sales"
}

func (s *InvestmentSale) Pending() bool { return s.Status == SalePending }
