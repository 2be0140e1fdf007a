// Package pairing applies matching plans to the ledger. One plan is one
// atomic unit: either every intent that is still applicable lands, or
// nothing does.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/logger"
	"github.com/supergidii/Loans/matching"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/notify"
)

const DefaultMaxAttempts = 5

// AppliedPairing is one intent that was persisted. Amount is lower than
// Intent.Amount when the ledger had less left than the plan expected.
type AppliedPairing struct {
	PairingID uint
	Intent    matching.PairingIntent
	Amount    decimal.Decimal
	Degraded  bool
}

type ApplyResult struct {
	PlanID   string
	Applied  []AppliedPairing
	Skipped  int
	Degraded int
	Attempts int
}

// Total is the amount actually moved by the plan.
func (r ApplyResult) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Applied {
		total = total.Add(a.Amount)
	}
	return total
}

type Coordinator struct {
	store       ledger.Store
	notifier    notify.Dispatcher
	log         *zap.Logger
	maxAttempts uint
	newBackOff  func() backoff.BackOff
	now         func() time.Time
}

type Option func(*Coordinator)

func WithMaxAttempts(n uint) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackOff sets the delay policy between conflicting attempts.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Coordinator) { c.newBackOff = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(store ledger.Store, notifier notify.Dispatcher, log *zap.Logger, opts ...Option) *Coordinator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	c := &Coordinator{
		store:       store,
		notifier:    notifier,
		log:         logger.OrNop(log),
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  defaultBackOff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 2 * time.Second
	return b
}

// Apply persists plan in a single transaction. A ledger conflict rolls the
// whole attempt back and retries it; once the attempts are used up the
// error wraps models.ErrRetryExhausted.
func (c *Coordinator) Apply(ctx context.Context, plan matching.Plan) (ApplyResult, error) {
	if plan.Empty() {
		return ApplyResult{PlanID: plan.ID}, nil
	}
	for _, in := range plan.Intents {
		if in.Key == "" {
			return ApplyResult{PlanID: plan.ID}, fmt.Errorf("%w: intent without key in plan %s", models.ErrValidation, plan.ID)
		}
		if !in.Amount.IsPositive() {
			return ApplyResult{PlanID: plan.ID}, fmt.Errorf("%w: intent %s amount must be positive, got %s", models.ErrValidation, in.Key, in.Amount)
		}
	}

	var attempts uint
	op := func() (ApplyResult, error) {
		attempts++
		out := ApplyResult{PlanID: plan.ID}
		err := c.store.Transaction(ctx, func(tx ledger.Tx) error {
			return c.applyIntents(tx, plan, &out)
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, models.ErrConflict) {
			c.log.Warn("pairing plan conflict, retrying",
				zap.String("plan_id", plan.ID),
				zap.Uint("attempt", attempts),
				zap.Error(err),
			)
			return out, err
		}
		return out, backoff.Permanent(err)
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	out.Attempts = int(attempts)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		if errors.Is(err, models.ErrConflict) {
			err = fmt.Errorf("%w: plan %s after %d attempts: %w", models.ErrRetryExhausted, plan.ID, attempts, err)
		}
		c.log.Error("pairing plan failed", zap.String("plan_id", plan.ID), zap.Int("attempts", out.Attempts), zap.Error(err))
		return ApplyResult{PlanID: plan.ID, Attempts: out.Attempts}, err
	}

	c.log.Info("pairing plan applied",
		zap.String("plan_id", plan.ID),
		zap.Int("applied", len(out.Applied)),
		zap.Int("skipped", out.Skipped),
		zap.Int("degraded", out.Degraded),
		zap.String("total", out.Total().StringFixed(2)),
		zap.Int("attempts", out.Attempts),
	)
	c.notifyCreated(ctx, out.Applied)
	return out, nil
}

func (c *Coordinator) applyIntents(tx ledger.Tx, plan matching.Plan, out *ApplyResult) error {
	now := c.now().UTC()
	for _, in := range plan.Intents {
		exists, err := tx.PairingExists(in.Key)
		if err != nil {
			return err
		}
		if exists {
			out.Skipped++
			continue
		}

		immature, matured, err := readBoth(tx, in.ImmatureInvestmentID, in.MaturedInvestmentID)
		if err != nil {
			return err
		}
		if immature.InvestorID == matured.InvestorID {
			return fmt.Errorf("%w: intent %s pairs investor %d with itself", models.ErrInvariantViolation, in.Key, immature.InvestorID)
		}
		if immature.InvestorID != in.InvestorID {
			return fmt.Errorf("%w: intent %s names investor %d but investment %d belongs to %d",
				models.ErrInvariantViolation, in.Key, in.InvestorID, immature.ID, immature.InvestorID)
		}
		if !matured.IsMatured {
			return fmt.Errorf("%w: intent %s pays investment %d which has not matured", models.ErrInvariantViolation, in.Key, matured.ID)
		}

		// The ledger moved on since the plan was computed.
		if immature.IsMatured || matured.ArchivedAt != nil ||
			immature.RemainingAmount.IsZero() || matured.RemainingAmount.IsZero() {
			out.Skipped++
			continue
		}

		amount := decimal.Min(in.Amount, immature.RemainingAmount, matured.RemainingAmount)
		if err := immature.Allocate(amount); err != nil {
			return err
		}
		if err := matured.Allocate(amount); err != nil {
			return err
		}
		if immature.Paired {
			immature.Status = models.StatusMatched
		}
		if err := tx.WriteInvestment(immature); err != nil {
			return err
		}
		if err := tx.WriteInvestment(matured); err != nil {
			return err
		}

		id, err := tx.CreatePairing(&models.Pairing{
			InvestorID:           immature.InvestorID,
			ImmatureInvestmentID: immature.ID,
			PairedInvestmentID:   matured.ID,
			PairedAmount:         amount,
			IntentKey:            in.Key,
			CreatedAt:            now,
		})
		if err != nil {
			return err
		}

		if immature.Paired {
			if err := ledger.ReleaseWaiting(tx, immature.InvestorID); err != nil {
				return err
			}
		}

		degraded := amount.LessThan(in.Amount)
		if degraded {
			out.Degraded++
		}
		out.Applied = append(out.Applied, AppliedPairing{PairingID: id, Intent: in, Amount: amount, Degraded: degraded})
	}
	return nil
}

// readBoth locks the two investments in id order so concurrent plans touching
// the same pair cannot deadlock.
func readBoth(tx ledger.Tx, immatureID, maturedID uint) (*models.Investment, *models.Investment, error) {
	if immatureID == maturedID {
		return nil, nil, fmt.Errorf("%w: investment %d on both sides of an intent", models.ErrInvariantViolation, immatureID)
	}
	first, second := immatureID, maturedID
	if second < first {
		first, second = second, first
	}
	a, err := tx.ReadInvestment(first)
	if err != nil {
		return nil, nil, err
	}
	b, err := tx.ReadInvestment(second)
	if err != nil {
		return nil, nil, err
	}
	if a.ID == immatureID {
		return a, b, nil
	}
	return b, a, nil
}

func (c *Coordinator) notifyCreated(ctx context.Context, applied []AppliedPairing) {
	for _, a := range applied {
		payload := notify.Payload{
			"pairing_id":             a.PairingID,
			"amount":                 a.Amount.StringFixed(2),
			"immature_investment_id": a.Intent.ImmatureInvestmentID,
			"matured_investment_id":  a.Intent.MaturedInvestmentID,
		}
		c.send(ctx, a.Intent.InvestorID, notify.PairingCreated, withRole(payload, "payer"))
		c.send(ctx, a.Intent.MaturedInvestorID, notify.PairingCreated, withRole(payload, "receiver"))
	}
}

func (c *Coordinator) send(ctx context.Context, investorID uint, kind notify.Kind, payload notify.Payload) {
	if err := c.notifier.Notify(ctx, investorID, kind, payload); err != nil {
		c.log.Warn("notification failed", zap.Uint("investor_id", investorID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

func withRole(p notify.Payload, role string) notify.Payload {
	out := make(notify.Payload, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out["role"] = role
	return out
}
