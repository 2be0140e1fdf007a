// Package maturation moves investments from Active to Matured and feeds the
// matured pool back into matching. It also owns the pairing confirmation
// and waiting-queue cancellation flows, which change when investments
// become due.
package maturation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/logger"
	"github.com/supergidii/Loans/matching"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/notify"
	"github.com/supergidii/Loans/pairing"
)

// Applier persists a matching plan.
type Applier interface {
	Apply(ctx context.Context, plan matching.Plan) (pairing.ApplyResult, error)
}

type SweepResult struct {
	Matured []uint
	Pairing pairing.ApplyResult
}

type Trigger struct {
	store    ledger.Store
	applier  Applier
	notifier notify.Dispatcher
	log      *zap.Logger
	now      func() time.Time
	referral decimal.Decimal
}

type Option func(*Trigger)

func WithClock(now func() time.Time) Option {
	return func(t *Trigger) { t.now = now }
}

// WithReferralRate sets the share of each confirmed payment credited to the
// payer's referrer. Zero turns referral earnings off.
func WithReferralRate(rate decimal.Decimal) Option {
	return func(t *Trigger) {
		if !rate.IsNegative() {
			t.referral = rate
		}
	}
}

func NewTrigger(store ledger.Store, applier Applier, notifier notify.Dispatcher, log *zap.Logger, opts ...Option) *Trigger {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	t := &Trigger{
		store:    store,
		applier:  applier,
		notifier: notifier,
		log:      logger.OrNop(log),
		now:      time.Now,
		referral: models.DefaultReferralRate,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Sweep matures every due investment, each in its own transaction, then runs
// one matching round over the full pools. An investment that loses a write
// race is left for the next sweep.
func (t *Trigger) Sweep(ctx context.Context) (SweepResult, error) {
	now := t.now().UTC()
	var res SweepResult

	due, err := t.store.ListDueForMaturation(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list due investments: %w", err)
	}
	for _, inv := range due {
		ok, err := t.markMatured(ctx, inv.ID, now)
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				t.log.Warn("maturation conflict, deferring", zap.Uint("investment_id", inv.ID), zap.Error(err))
				continue
			}
			return res, err
		}
		if ok {
			res.Matured = append(res.Matured, inv.ID)
		}
	}

	res.Pairing, err = t.match(ctx)
	if err != nil {
		return res, err
	}
	t.log.Info("maturation sweep done",
		zap.Int("due", len(due)),
		zap.Int("matured", len(res.Matured)),
		zap.Int("pairings", len(res.Pairing.Applied)),
	)
	return res, nil
}

// CheckInvestment is the on-read path: a due investment is matured and
// matched before it is returned.
func (t *Trigger) CheckInvestment(ctx context.Context, id uint) (*models.Investment, error) {
	inv, err := t.store.FindInvestment(ctx, id)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	if !inv.IsDue(now) {
		return inv, nil
	}
	ok, err := t.markMatured(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if ok {
		if _, err := t.match(ctx); err != nil {
			// The investment matured either way; matching retries on the next sweep.
			t.log.Warn("matching after lazy maturation failed", zap.Uint("investment_id", id), zap.Error(err))
		}
	}
	return t.store.FindInvestment(ctx, id)
}

// markMatured performs the Active -> Matured transition when the countdown
// has run out and every funding pairing has been confirmed. A partly funded
// investment matures owing only what was paid in, and its owner's queue
// slot moves on.
func (t *Trigger) markMatured(ctx context.Context, id uint, now time.Time) (bool, error) {
	var matured *models.Investment
	err := t.store.Transaction(ctx, func(tx ledger.Tx) error {
		inv, err := tx.ReadInvestment(id)
		if err != nil {
			return err
		}
		if !inv.IsDue(now) {
			return nil
		}
		pending, err := tx.PendingFunding(id)
		if err != nil {
			return err
		}
		if pending > 0 {
			return nil
		}
		listed := inv.IsForSale
		if err := inv.Mature(now); err != nil {
			return err
		}
		if err := tx.WriteInvestment(inv); err != nil {
			return err
		}
		if err := ledger.ReleaseWaiting(tx, inv.InvestorID); err != nil {
			return err
		}
		if listed {
			if err := withdrawSale(tx, id, now); err != nil {
				return err
			}
		}
		matured = inv
		return nil
	})
	if err != nil || matured == nil {
		return false, err
	}

	t.log.Info("investment matured",
		zap.Uint("investment_id", id),
		zap.Uint("investor_id", matured.InvestorID),
		zap.String("owed", matured.RemainingAmount.StringFixed(2)),
	)
	t.send(ctx, matured.InvestorID, notify.InvestmentMatured, notify.Payload{
		"investment_id": matured.ID,
		"amount":        matured.RemainingAmount.StringFixed(2),
	})
	return true, nil
}

func (t *Trigger) match(ctx context.Context) (pairing.ApplyResult, error) {
	matured, err := t.store.ListMatured(ctx)
	if err != nil {
		return pairing.ApplyResult{}, fmt.Errorf("list matured pool: %w", err)
	}
	immature, err := t.store.ListImmature(ctx)
	if err != nil {
		return pairing.ApplyResult{}, fmt.Errorf("list immature pool: %w", err)
	}
	plan := matching.ComputePairings(matching.Candidates(matured), matching.Candidates(immature))
	if plan.Empty() {
		return pairing.ApplyResult{PlanID: plan.ID}, nil
	}
	return t.applier.Apply(ctx, plan)
}

func (t *Trigger) send(ctx context.Context, investorID uint, kind notify.Kind, payload notify.Payload) {
	if err := t.notifier.Notify(ctx, investorID, kind, payload); err != nil {
		t.log.Warn("notification failed", zap.Uint("investor_id", investorID), zap.String("kind", string(kind)), zap.Error(err))
	}
}
