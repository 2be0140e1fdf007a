// Package ledger is the durable store for investors, investments and
// pairings. Financial fields are only written through Tx, inside one atomic
// unit opened by Store.Transaction.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/supergidii/Loans/models"
)

// Store is the read side of the ledger plus the transaction boundary.
type Store interface {
	// Transaction runs fn in one atomic unit. Returning an error rolls back.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// ListMatured returns matured, unarchived investments with a positive
	// remaining amount.
	ListMatured(ctx context.Context) ([]models.Investment, error)
	// ListImmature returns immature investments with a positive remaining
	// amount whose owner is waiting.
	ListImmature(ctx context.Context) ([]models.Investment, error)
	// ListDueForMaturation returns investments whose countdown has elapsed
	// at now: not matured and every funding pairing confirmed.
	ListDueForMaturation(ctx context.Context, now time.Time) ([]models.Investment, error)

	FindInvestment(ctx context.Context, id uint) (*models.Investment, error)
	FindInvestor(ctx context.Context, id uint) (*models.Investor, error)
	FindInvestorByUserID(ctx context.Context, userID uint) (*models.Investor, error)
	FindPairing(ctx context.Context, id uint) (*models.Pairing, error)
	// ListPairings returns every pairing where investmentID is either side.
	ListPairings(ctx context.Context, investmentID uint) ([]models.Pairing, error)
	FindSale(ctx context.Context, id uint) (*models.InvestmentSale, error)
	// ListReferralEarnings returns what referrerID earned, newest first.
	ListReferralEarnings(ctx context.Context, referrerID uint) ([]models.ReferralEarning, error)

	CreateInvestor(ctx context.Context, inv *models.Investor) error
	// CreateInvestment records a deposit and puts its owner in the waiting queue.
	CreateInvestment(ctx context.Context, inv *models.Investment, now time.Time) error
}

// Tx is one atomic unit of ledger work. Reads lock the row for the rest of
// the transaction; investment writes fail with models.ErrConflict when the
// row changed since it was read.
type Tx interface {
	ReadInvestment(id uint) (*models.Investment, error)
	WriteInvestment(inv *models.Investment) error
	// CreateInvestment inserts inv as given. It does not touch the waiting
	// queue.
	CreateInvestment(inv *models.Investment) error

	CreatePairing(p *models.Pairing) (uint, error)
	PairingExists(intentKey string) (bool, error)
	ReadPairing(id uint) (*models.Pairing, error)
	WritePairing(p *models.Pairing) error
	// PendingFunding counts unconfirmed pairings that fund investmentID.
	PendingFunding(investmentID uint) (int64, error)
	// PendingSettlement counts unconfirmed pairings that pay investmentID.
	PendingSettlement(investmentID uint) (int64, error)

	ReadInvestor(id uint) (*models.Investor, error)
	WriteInvestor(inv *models.Investor) error
	ReadInvestorBalance(id uint) (decimal.Decimal, error)
	WriteInvestorBalance(id uint, amount decimal.Decimal) error
	// OpenInvestments returns the investor's immature investments that still
	// have a remaining amount, oldest first.
	OpenInvestments(investorID uint) ([]models.Investment, error)

	CreateReferralEarning(e *models.ReferralEarning) error

	CreateSale(sale *models.InvestmentSale) error
	ReadSale(id uint) (*models.InvestmentSale, error)
	WriteSale(sale *models.InvestmentSale) error
	// OpenSale returns the pending sale of investmentID, or nil when there
	// is none.
	OpenSale(investmentID uint) (*models.InvestmentSale, error)
}
