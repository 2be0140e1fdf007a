// Package market lets an investor hand a fully funded investment over to
// another investor before it matures. The buyer pays the listed price out of
// their available balance and takes over the remaining countdown.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/logger"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/notify"
)

type Exchange struct {
	store    ledger.Store
	notifier notify.Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Exchange)

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func NewExchange(store ledger.Store, notifier notify.Dispatcher, log *zap.Logger, opts ...Option) *Exchange {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	e := &Exchange{store: store, notifier: notifier, log: logger.OrNop(log), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// List puts investmentID on the market at price. Only the owner can list,
// and only once every pairing that funds the investment is confirmed.
func (e *Exchange) List(ctx context.Context, investorID, investmentID uint, price decimal.Decimal) (*models.InvestmentSale, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive, got %s", models.ErrValidation, price)
	}
	now := e.now().UTC()
	var sale *models.InvestmentSale
	err := e.store.Transaction(ctx, func(tx ledger.Tx) error {
		inv, err := tx.ReadInvestment(investmentID)
		if err != nil {
			return err
		}
		if inv.InvestorID != investorID {
			return fmt.Errorf("%w: investor %d does not own investment %d", models.ErrAuthorization, investorID, investmentID)
		}
		pending, err := tx.PendingFunding(investmentID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: investment %d has %d unconfirmed payments", models.ErrInvalidState, investmentID, pending)
		}
		if err := inv.ListForSale(); err != nil {
			return err
		}
		if err := tx.WriteInvestment(inv); err != nil {
			return err
		}
		sale = &models.InvestmentSale{
			InvestmentID: inv.ID,
			SellerID:     investorID,
			Price:        price.Round(2),
			Status:       models.SalePending,
			CreatedAt:    now,
		}
		return tx.CreateSale(sale)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("investment listed",
		zap.Uint("sale_id", sale.ID),
		zap.Uint("investment_id", investmentID),
		zap.String("price", sale.Price.StringFixed(2)),
	)
	e.send(ctx, investorID, notify.SaleListed, notify.Payload{"sale_id": sale.ID, "investment_id": investmentID})
	return sale, nil
}

// Cancel withdraws a pending sale. Only the seller can cancel.
func (e *Exchange) Cancel(ctx context.Context, investorID, saleID uint) (*models.InvestmentSale, error) {
	now := e.now().UTC()
	var sale *models.InvestmentSale
	err := e.store.Transaction(ctx, func(tx ledger.Tx) error {
		s, err := tx.ReadSale(saleID)
		if err != nil {
			return err
		}
		if s.SellerID != investorID {
			return fmt.Errorf("%w: investor %d is not the seller of sale %d", models.ErrAuthorization, investorID, saleID)
		}
		if !s.Pending() {
			return fmt.Errorf("%w: sale %d is %s", models.ErrInvalidState, saleID, s.Status)
		}
		inv, err := tx.ReadInvestment(s.InvestmentID)
		if err != nil {
			return err
		}
		inv.IsForSale = false
		if err := tx.WriteInvestment(inv); err != nil {
			return err
		}
		s.Status = models.SaleCancelled
		s.ClosedAt = &now
		sale = s
		return tx.WriteSale(s)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("sale cancelled", zap.Uint("sale_id", saleID))
	return sale, nil
}

// Buy settles a pending sale. The buyer's balance pays the seller, the
// seller's investment is closed as sold and the buyer receives an
// equivalent funded investment with the same maturation date.
func (e *Exchange) Buy(ctx context.Context, investorID, saleID uint) (*models.InvestmentSale, *models.Investment, error) {
	now := e.now().UTC()
	var (
		sale   *models.InvestmentSale
		bought *models.Investment
	)
	err := e.store.Transaction(ctx, func(tx ledger.Tx) error {
		s, err := tx.ReadSale(saleID)
		if err != nil {
			return err
		}
		if !s.Pending() {
			return fmt.Errorf("%w: sale %d is %s", models.ErrInvalidState, saleID, s.Status)
		}
		if s.SellerID == investorID {
			return fmt.Errorf("%w: investor %d cannot buy their own sale %d", models.ErrValidation, investorID, saleID)
		}
		inv, err := tx.ReadInvestment(s.InvestmentID)
		if err != nil {
			return err
		}
		if err := inv.Sold(now); err != nil {
			return err
		}
		if err := transfer(tx, investorID, s.SellerID, s.Price); err != nil {
			return err
		}
		if err := tx.WriteInvestment(inv); err != nil {
			return err
		}

		bought = &models.Investment{
			InvestorID:      investorID,
			PrincipalAmount: inv.PrincipalAmount,
			RemainingAmount: decimal.Zero,
			TermDays:        inv.TermDays,
			MaturationDate:  inv.MaturationDate,
			Status:          models.StatusMatched,
			Paired:          true,
			CreatedAt:       now,
		}
		if err := tx.CreateInvestment(bought); err != nil {
			return err
		}

		buyer := investorID
		s.Status = models.SaleCompleted
		s.BuyerID = &buyer
		s.TransferredID = &bought.ID
		s.ClosedAt = &now
		sale = s
		return tx.WriteSale(s)
	})
	if err != nil {
		return nil, nil, err
	}
	e.log.Info("sale completed",
		zap.Uint("sale_id", saleID),
		zap.Uint("seller_id", sale.SellerID),
		zap.Uint("buyer_id", investorID),
		zap.Uint("investment_id", bought.ID),
		zap.String("price", sale.Price.StringFixed(2)),
	)
	payload := notify.Payload{"sale_id": sale.ID, "price": sale.Price.StringFixed(2)}
	e.send(ctx, sale.SellerID, notify.SaleCompleted, payload)
	e.send(ctx, investorID, notify.SaleCompleted, payload)
	return sale, bought, nil
}

// transfer moves amount between two balances, locking the investors in id
// order.
func transfer(tx ledger.Tx, from, to uint, amount decimal.Decimal) error {
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	balances := make(map[uint]decimal.Decimal, 2)
	for _, id := range []uint{first, second} {
		b, err := tx.ReadInvestorBalance(id)
		if err != nil {
			return err
		}
		balances[id] = b
	}
	if balances[from].LessThan(amount) {
		return fmt.Errorf("%w: investor %d balance %s is below %s", models.ErrInvalidState, from, balances[from].StringFixed(2), amount.StringFixed(2))
	}
	if err := tx.WriteInvestorBalance(from, balances[from].Sub(amount)); err != nil {
		return err
	}
	return tx.WriteInvestorBalance(to, balances[to].Add(amount))
}

func (e *Exchange) send(ctx context.Context, investorID uint, kind notify.Kind, payload notify.Payload) {
	if err := e.notifier.Notify(ctx, investorID, kind, payload); err != nil {
		e.log.Warn("notification failed", zap.Uint("investor_id", investorID), zap.String("kind", string(kind)), zap.Error(err))
	}
}
