// Package ledgertest builds ledger fixtures on in-memory SQLite for tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/supergidii/Loans/database/dbtest"
	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/models"
)

func NewStore(t testing.TB) *ledger.GormStore {
	return ledger.NewGormStore(dbtest.New(t))
}

// Investor registers an investor for userID.
func Investor(t testing.TB, s ledger.Store, userID uint) *models.Investor {
	t.Helper()
	inv := &models.Investor{UserID: userID}
	require.NoError(t, s.CreateInvestor(context.Background(), inv))
	return inv
}

// Referred registers an investor for userID referred by referrerID.
func Referred(t testing.TB, s ledger.Store, userID, referrerID uint) *models.Investor {
	t.Helper()
	ref := referrerID
	inv := &models.Investor{UserID: userID, ReferredBy: &ref}
	require.NoError(t, s.CreateInvestor(context.Background(), inv))
	return inv
}

// Credit adds amount to the investor's available balance.
func Credit(t testing.TB, s ledger.Store, investorID uint, amount string) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(tx ledger.Tx) error {
		bal, err := tx.ReadInvestorBalance(investorID)
		if err != nil {
			return err
		}
		return tx.WriteInvestorBalance(investorID, bal.Add(decimal.RequireFromString(amount)))
	}))
}

// Funded records a deposit whose principal was paid in and confirmed
// off-ledger. It matures at maturesAt.
func Funded(t testing.TB, s ledger.Store, investorID uint, amount string, createdAt, maturesAt time.Time) *models.Investment {
	t.Helper()
	inv := Deposit(t, s, investorID, amount, createdAt)
	require.NoError(t, s.Transaction(context.Background(), func(tx ledger.Tx) error {
		cur, err := tx.ReadInvestment(inv.ID)
		if err != nil {
			return err
		}
		if err := cur.Allocate(cur.RemainingAmount); err != nil {
			return err
		}
		cur.Status = models.StatusMatched
		cur.MaturationDate = maturesAt
		if err := tx.WriteInvestment(cur); err != nil {
			return err
		}
		return ledger.ReleaseWaiting(tx, investorID)
	}))
	got, err := s.FindInvestment(context.Background(), inv.ID)
	require.NoError(t, err)
	return got
}

// Deposit records an immature investment created at at.
func Deposit(t testing.TB, s ledger.Store, investorID uint, amount string, at time.Time) *models.Investment {
	t.Helper()
	inv := &models.Investment{
		InvestorID:      investorID,
		PrincipalAmount: decimal.RequireFromString(amount),
		CreatedAt:       at,
	}
	require.NoError(t, s.CreateInvestment(context.Background(), inv, at))
	return inv
}

// Matured records a deposit that was funded off-ledger and matured at
// maturedAt, so its whole principal is owed back. The owner keeps waiting
// only while another of its investments is still open.
func Matured(t testing.TB, s ledger.Store, investorID uint, amount string, createdAt, maturedAt time.Time) *models.Investment {
	t.Helper()
	inv := Deposit(t, s, investorID, amount, createdAt)
	require.NoError(t, s.Transaction(context.Background(), func(tx ledger.Tx) error {
		cur, err := tx.ReadInvestment(inv.ID)
		if err != nil {
			return err
		}
		if err := cur.Allocate(cur.RemainingAmount); err != nil {
			return err
		}
		cur.MaturationDate = maturedAt
		if err := cur.Mature(maturedAt); err != nil {
			return err
		}
		if err := tx.WriteInvestment(cur); err != nil {
			return err
		}
		return ledger.ReleaseWaiting(tx, investorID)
	}))
	got, err := s.FindInvestment(context.Background(), inv.ID)
	require.NoError(t, err)
	return got
}

// Amount parses a decimal literal.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
