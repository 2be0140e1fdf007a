package maturation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/notify"
)

// ConfirmPairing records that the owner of the matured side received the
// payment. Only that owner may confirm and confirming twice is a no-op.
// Confirmation credits the owner's balance and the payer's referrer. It
// restarts the funded investment's countdown and archives the matured
// investment once that is fully settled.
func (t *Trigger) ConfirmPairing(ctx context.Context, pairingID, userID uint) (*models.Pairing, error) {
	now := t.now().UTC()
	var (
		confirmed *models.Pairing
		earning   *models.ReferralEarning
		changed   bool
	)
	err := t.store.Transaction(ctx, func(tx ledger.Tx) error {
		p, err := tx.ReadPairing(pairingID)
		if err != nil {
			return err
		}
		receiver, payer, err := readPairingSides(tx, p)
		if err != nil {
			return err
		}
		owner, err := tx.ReadInvestor(receiver.InvestorID)
		if err != nil {
			return err
		}
		if owner.UserID != userID {
			return fmt.Errorf("%w: user %d does not own investment %d", models.ErrAuthorization, userID, receiver.ID)
		}
		confirmed = p
		if p.Confirmed {
			return nil
		}

		p.Confirmed = true
		p.ConfirmedAt = &now
		if err := tx.WritePairing(p); err != nil {
			return err
		}

		if !payer.IsMatured {
			payer.MaturationDate = now.Add(payer.Term())
			if err := tx.WriteInvestment(payer); err != nil {
				return err
			}
		}

		balance, err := tx.ReadInvestorBalance(owner.ID)
		if err != nil {
			return err
		}
		if err := tx.WriteInvestorBalance(owner.ID, balance.Add(p.PairedAmount)); err != nil {
			return err
		}
		if earning, err = creditReferrer(tx, p, t.referral, now); err != nil {
			return err
		}

		if receiver.RemainingAmount.IsZero() && receiver.ArchivedAt == nil {
			pending, err := tx.PendingSettlement(receiver.ID)
			if err != nil {
				return err
			}
			if pending == 0 {
				receiver.ArchivedAt = &now
				if err := tx.WriteInvestment(receiver); err != nil {
					return err
				}
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		t.log.Info("pairing confirmed", zap.Uint("pairing_id", pairingID), zap.Uint("user_id", userID))
		t.send(ctx, confirmed.InvestorID, notify.PairingConfirmed, notify.Payload{
			"pairing_id": confirmed.ID,
			"amount":     confirmed.PairedAmount.StringFixed(2),
		})
	}
	if earning != nil {
		t.log.Info("referral earned",
			zap.Uint("referrer_id", earning.ReferrerID),
			zap.Uint("referred_id", earning.ReferredID),
			zap.String("amount", earning.Amount.StringFixed(2)),
		)
		t.send(ctx, earning.ReferrerID, notify.ReferralEarned, notify.Payload{
			"pairing_id": earning.PairingID,
			"amount":     earning.Amount.StringFixed(2),
		})
	}
	return confirmed, nil
}

// readPairingSides locks both investments of p in id order.
func readPairingSides(tx ledger.Tx, p *models.Pairing) (receiver, payer *models.Investment, err error) {
	first, second := p.PairedInvestmentID, p.ImmatureInvestmentID
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
	if a.ID == p.PairedInvestmentID {
		return a, b, nil
	}
	return b, a, nil
}

// CancelWaiting takes the investor out of the waiting queue. Only an
// investor that is waiting with capital left to fund can cancel.
func (t *Trigger) CancelWaiting(ctx context.Context, investorID uint) error {
	err := t.store.Transaction(ctx, func(tx ledger.Tx) error {
		owner, err := tx.ReadInvestor(investorID)
		if err != nil {
			return err
		}
		if !owner.IsWaiting {
			return fmt.Errorf("%w: investor %d is not waiting", models.ErrInvalidState, investorID)
		}
		open, err := tx.OpenInvestments(investorID)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return fmt.Errorf("%w: investor %d has nothing left to fund", models.ErrInvalidState, investorID)
		}
		owner.StopWaiting()
		return tx.WriteInvestor(owner)
	})
	if err != nil {
		return err
	}
	t.log.Info("waiting cancelled", zap.Uint("investor_id", investorID))
	t.send(ctx, investorID, notify.WaitingCancelled, nil)
	return nil
}
