package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supergidii/Loans/models"
)

// MySQL error numbers that mean "another writer got there first".
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

// GormStore implements Store on gorm. Row reads inside a transaction take
// SELECT ... FOR UPDATE locks where the dialect supports them and every
// investment write checks the row version it read.
type GormStore struct {
	db       *gorm.DB
	termDays int
}

type Option func(*GormStore)

// WithTermDays sets the countdown given to deposits that carry no term.
func WithTermDays(days int) Option {
	return func(s *GormStore) {
		if days > 0 {
			s.termDays = days
		}
	}
}

func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	s := &GormStore{db: db, termDays: models.DefaultTermDays}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
	return classify(err)
}

func (s *GormStore) ListMatured(ctx context.Context) ([]models.Investment, error) {
	var out []models.Investment
	err := s.db.WithContext(ctx).
		Where("is_matured = ? AND remaining_amount > 0 AND archived_at IS NULL", true).
		Order("maturation_date ASC, id ASC").
		Find(&out).Error
	return out, classify(err)
}

func (s *GormStore) ListImmature(ctx context.Context) ([]models.Investment, error) {
	var out []models.Investment
	err := s.db.WithContext(ctx).
		Where("is_matured = ? AND remaining_amount > 0 AND archived_at IS NULL", false).
		Where("investor_id IN (?)", s.db.Model(&models.Investor{}).Select("id").Where("is_waiting = ?", true)).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, classify(err)
}

func (s *GormStore) ListDueForMaturation(ctx context.Context, now time.Time) ([]models.Investment, error) {
	var out []models.Investment
	err := s.db.WithContext(ctx).
		Where("is_matured = ? AND archived_at IS NULL AND maturation_date <= ?", false, now.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM pairings WHERE pairings.immature_investment_id = investments.id AND pairings.confirmed = ?)", false).
		Order("maturation_date ASC, id ASC").
		Find(&out).Error
	return out, classify(err)
}

func (s *GormStore) FindInvestment(ctx context.Context, id uint) (*models.Investment, error) {
	var inv models.Investment
	if err := s.db.WithContext(ctx).First(&inv, id).Error; err != nil {
		return nil, notFound(err, "investment", id)
	}
	return &inv, nil
}

func (s *GormStore) FindInvestor(ctx context.Context, id uint) (*models.Investor, error) {
	var inv models.Investor
	if err := s.db.WithContext(ctx).First(&inv, id).Error; err != nil {
		return nil, notFound(err, "investor", id)
	}
	return &inv, nil
}

func (s *GormStore) FindInvestorByUserID(ctx context.Context, userID uint) (*models.Investor, error) {
	var inv models.Investor
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&inv).Error; err != nil {
		return nil, notFound(err, "investor for user", userID)
	}
	return &inv, nil
}

func (s *GormStore) FindPairing(ctx context.Context, id uint) (*models.Pairing, error) {
	var p models.Pairing
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "pairing", id)
	}
	return &p, nil
}

func (s *GormStore) ListPairings(ctx context.Context, investmentID uint) ([]models.Pairing, error) {
	var out []models.Pairing
	err := s.db.WithContext(ctx).
		Where("immature_investment_id = ? OR paired_investment_id = ?", investmentID, investmentID).
		Order("id ASC").
		Find(&out).Error
	return out, classify(err)
}

func (s *GormStore) FindSale(ctx context.Context, id uint) (*models.InvestmentSale, error) {
	var sale models.InvestmentSale
	if err := s.db.WithContext(ctx).First(&sale, id).Error; err != nil {
		return nil, notFound(err, "sale", id)
	}
	return &sale, nil
}

func (s *GormStore) ListReferralEarnings(ctx context.Context, referrerID uint) ([]models.ReferralEarning, error) {
	var out []models.ReferralEarning
	err := s.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("id DESC").
		Find(&out).Error
	return out, classify(err)
}

func (s *GormStore) CreateInvestor(ctx context.Context, inv *models.Investor) error {
	if inv.AvailableBalance.IsNegative() {
		return fmt.Errorf("%w: available balance must not be negative", models.ErrValidation)
	}
	return s.Transaction(ctx, func(tx Tx) error {
		if inv.ReferredBy != nil {
			// Referrers must already exist, which keeps the referral graph a forest.
			if _, err := tx.ReadInvestor(*inv.ReferredBy); err != nil {
				if errors.Is(err, models.ErrNotFound) {
					return fmt.Errorf("%w: referrer %d does not exist", models.ErrValidation, *inv.ReferredBy)
				}
				return err
			}
		}
		return classify(tx.(*gormTx).db.Create(inv).Error)
	})
}

func (s *GormStore) CreateInvestment(ctx context.Context, inv *models.Investment, now time.Time) error {
	now = now.UTC()
	if inv.TermDays == 0 {
		inv.TermDays = s.termDays
	}
	if inv.RemainingAmount.IsZero() {
		inv.RemainingAmount = inv.PrincipalAmount
	}
	if inv.MaturationDate.IsZero() {
		inv.MaturationDate = now.Add(inv.Term())
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.MaturationDate = inv.MaturationDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.Status = models.StatusAvailable
	inv.IsMatured = false
	inv.Paired = false
	inv.Version = 0
	if err := inv.Validate(); err != nil {
		return err
	}

	return s.Transaction(ctx, func(tx Tx) error {
		owner, err := tx.ReadInvestor(inv.InvestorID)
		if err != nil {
			return err
		}
		if err := classify(tx.(*gormTx).db.Create(inv).Error); err != nil {
			return err
		}
		if owner.IsWaiting {
			return nil
		}
		owner.StartWaiting(inv.ID, now)
		return tx.WriteInvestor(owner)
	})
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) locked() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) ReadInvestment(id uint) (*models.Investment, error) {
	var inv models.Investment
	if err := t.locked().First(&inv, id).Error; err != nil {
		return nil, notFound(err, "investment", id)
	}
	return &inv, nil
}

func (t *gormTx) WriteInvestment(inv *models.Investment) error {
	if inv.RemainingAmount.IsNegative() {
		return fmt.Errorf("%w: investment %d remaining amount %s is negative", models.ErrInvariantViolation, inv.ID, inv.RemainingAmount)
	}
	if inv.RemainingAmount.GreaterThan(inv.PrincipalAmount) {
		return fmt.Errorf("%w: investment %d remaining amount %s exceeds principal %s", models.ErrInvariantViolation, inv.ID, inv.RemainingAmount, inv.PrincipalAmount)
	}
	if inv.Paired != inv.RemainingAmount.IsZero() {
		return fmt.Errorf("%w: investment %d paired=%t with remaining %s", models.ErrInvariantViolation, inv.ID, inv.Paired, inv.RemainingAmount)
	}

	res := t.db.Model(&models.Investment{}).
		Where("id = ? AND version = ?", inv.ID, inv.Version).
		Updates(map[string]interface{}{
			"remaining_amount": inv.RemainingAmount,
			"paired":           inv.Paired,
			"status":           inv.Status,
			"is_matured":       inv.IsMatured,
			"matured_at":       inv.MaturedAt,
			"maturation_date":  inv.MaturationDate.UTC(),
			"is_for_sale":      inv.IsForSale,
			"archived_at":      inv.ArchivedAt,
			"version":          inv.Version + 1,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: investment %d changed since version %d", models.ErrConflict, inv.ID, inv.Version)
	}
	inv.Version++
	return nil
}

func (t *gormTx) CreateInvestment(inv *models.Investment) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	if inv.Paired != inv.RemainingAmount.IsZero() {
		return fmt.Errorf("%w: new investment paired=%t with remaining %s", models.ErrInvariantViolation, inv.Paired, inv.RemainingAmount)
	}
	inv.Version = 0
	return classify(t.db.Create(inv).Error)
}

func (t *gormTx) CreatePairing(p *models.Pairing) (uint, error) {
	if !p.PairedAmount.IsPositive() {
		return 0, fmt.Errorf("%w: pairing amount must be positive, got %s", models.ErrInvariantViolation, p.PairedAmount)
	}
	if err := t.db.Create(p).Error; err != nil {
		return 0, classify(err)
	}
	return p.ID, nil
}

func (t *gormTx) PairingExists(intentKey string) (bool, error) {
	var n int64
	err := t.db.Model(&models.Pairing{}).Where("intent_key = ?", intentKey).Count(&n).Error
	return n > 0, classify(err)
}

func (t *gormTx) ReadPairing(id uint) (*models.Pairing, error) {
	var p models.Pairing
	if err := t.locked().First(&p, id).Error; err != nil {
		return nil, notFound(err, "pairing", id)
	}
	return &p, nil
}

// WritePairing persists the confirmation fields, the only mutable part of a pairing.
func (t *gormTx) WritePairing(p *models.Pairing) error {
	err := t.db.Model(&models.Pairing{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"confirmed":    p.Confirmed,
		"confirmed_at": p.ConfirmedAt,
	}).Error
	return classify(err)
}

func (t *gormTx) PendingFunding(investmentID uint) (int64, error) {
	var n int64
	err := t.db.Model(&models.Pairing{}).
		Where("immature_investment_id = ? AND confirmed = ?", investmentID, false).
		Count(&n).Error
	return n, classify(err)
}

func (t *gormTx) PendingSettlement(investmentID uint) (int64, error) {
	var n int64
	err := t.db.Model(&models.Pairing{}).
		Where("paired_investment_id = ? AND confirmed = ?", investmentID, false).
		Count(&n).Error
	return n, classify(err)
}

func (t *gormTx) ReadInvestor(id uint) (*models.Investor, error) {
	var inv models.Investor
	if err := t.locked().First(&inv, id).Error; err != nil {
		return nil, notFound(err, "investor", id)
	}
	return &inv, nil
}

// WriteInvestor persists the waiting state. Balances go through WriteInvestorBalance.
func (t *gormTx) WriteInvestor(inv *models.Investor) error {
	err := t.db.Model(&models.Investor{}).Where("id = ?", inv.ID).Updates(map[string]interface{}{
		"is_waiting":            inv.IsWaiting,
		"waiting_since":         inv.WaitingSince,
		"waiting_investment_id": inv.WaitingInvestmentID,
	}).Error
	return classify(err)
}

func (t *gormTx) ReadInvestorBalance(id uint) (decimal.Decimal, error) {
	inv, err := t.ReadInvestor(id)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.AvailableBalance, nil
}

func (t *gormTx) WriteInvestorBalance(id uint, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: investor %d balance would become %s", models.ErrInvariantViolation, id, amount)
	}
	res := t.db.Model(&models.Investor{}).Where("id = ?", id).Update("available_balance", amount)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: investor %d", models.ErrNotFound, id)
	}
	return nil
}

func (t *gormTx) OpenInvestments(investorID uint) ([]models.Investment, error) {
	var out []models.Investment
	err := t.db.
		Where("investor_id = ? AND is_matured = ? AND remaining_amount > 0 AND archived_at IS NULL", investorID, false).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, classify(err)
}

func (t *gormTx) CreateReferralEarning(e *models.ReferralEarning) error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: referral earning must be positive, got %s", models.ErrInvariantViolation, e.Amount)
	}
	return classify(t.db.Create(e).Error)
}

func (t *gormTx) CreateSale(sale *models.InvestmentSale) error {
	if !sale.Price.IsPositive() {
		return fmt.Errorf("%w: sale price must be positive, got %s", models.ErrValidation, sale.Price)
	}
	if sale.Status == "" {
		sale.Status = models.SalePending
	}
	return classify(t.db.Create(sale).Error)
}

func (t *gormTx) ReadSale(id uint) (*models.InvestmentSale, error) {
	var sale models.InvestmentSale
	if err := t.locked().First(&sale, id).Error; err != nil {
		return nil, notFound(err, "sale", id)
	}
	return &sale, nil
}

// WriteSale persists the closing fields of a sale.
func (t *gormTx) WriteSale(sale *models.InvestmentSale) error {
	res := t.db.Model(&models.InvestmentSale{}).Where("id = ?", sale.ID).Updates(map[string]interface{}{
		"status":         sale.Status,
		"buyer_id":       sale.BuyerID,
		"transferred_id": sale.TransferredID,
		"closed_at":      sale.ClosedAt,
	})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: sale %d", models.ErrNotFound, sale.ID)
	}
	return nil
}

func (t *gormTx) OpenSale(investmentID uint) (*models.InvestmentSale, error) {
	var sale models.InvestmentSale
	err := t.locked().
		Where("investment_id = ? AND status = ?", investmentID, models.SalePending).
		First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &sale, nil
}

func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", models.ErrNotFound, what, id)
	}
	return classify(err)
}

// classify maps driver level write races onto models.ErrConflict so callers
// can retry. Everything else passes through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDeadlockDetected, mysqlLockWaitTimeout, mysqlDuplicateEntry:
			return fmt.Errorf("%w: %v", models.ErrConflict, err)
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %v", models.ErrConflict, err)
		}
	}
	return err
}
