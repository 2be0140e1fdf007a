package maturation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/models"
)

// creditReferrer pays the referrer of p's payer their share of the confirmed
// amount. It returns nil when the payer was not referred.
func creditReferrer(tx ledger.Tx, p *models.Pairing, rate decimal.Decimal, now time.Time) (*models.ReferralEarning, error) {
	if !rate.IsPositive() {
		return nil, nil
	}
	payer, err := tx.ReadInvestor(p.InvestorID)
	if err != nil {
		return nil, err
	}
	if payer.ReferredBy == nil {
		return nil, nil
	}
	amount := models.ReferralAmount(p.PairedAmount, rate)
	if !amount.IsPositive() {
		return nil, nil
	}
	earning := &models.ReferralEarning{
		ReferrerID: *payer.ReferredBy,
		ReferredID: payer.ID,
		PairingID:  p.ID,
		Amount:     amount,
		Rate:       rate,
		CreatedAt:  now,
	}
	if err := tx.CreateReferralEarning(earning); err != nil {
		return nil, err
	}
	balance, err := tx.ReadInvestorBalance(earning.ReferrerID)
	if err != nil {
		return nil, err
	}
	if err := tx.WriteInvestorBalance(earning.ReferrerID, balance.Add(amount)); err != nil {
		return nil, err
	}
	return earning, nil
}

// withdrawSale cancels the pending sale of an investment that matured while
// listed.
func withdrawSale(tx ledger.Tx, investmentID uint, now time.Time) error {
	sale, err := tx.OpenSale(investmentID)
	if err != nil || sale == nil {
		return err
	}
	sale.Status = models.SaleCancelled
	sale.ClosedAt = &now
	return tx.WriteSale(sale)
}
