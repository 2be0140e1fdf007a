package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestInvestmentValidate(t *testing.T) {
	base := func() Investment {
		return Investment{
			PrincipalAmount: dec("100.00"),
			RemainingAmount: dec("100.00"),
			TermDays:        30,
			MaturationDate:  time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Investment)
	}{
		{"zero principal", func(i *Investment) { i.PrincipalAmount = decimal.Zero }},
		{"negative principal", func(i *Investment) { i.PrincipalAmount = dec("-1") }},
		{"negative remaining", func(i *Investment) { i.RemainingAmount = dec("-0.01") }},
		{"remaining above principal", func(i *Investment) { i.RemainingAmount = dec("100.01") }},
		{"missing maturation date", func(i *Investment) { i.MaturationDate = time.Time{} }},
		{"zero term", func(i *Investment) { i.TermDays = 0 }},
	}

	ok := base()
	require.NoError(t, ok.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := base()
			tt.mutate(&inv)
			err := inv.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestInvestmentAllocate(t *testing.T) {
	inv := Investment{ID: 7, PrincipalAmount: dec("1000"), RemainingAmount: dec("1000")}

	require.NoError(t, inv.Allocate(dec("800")))
	assert.True(t, inv.RemainingAmount.Equal(dec("200")))
	assert.False(t, inv.Paired)

	err := inv.Allocate(dec("200.01"))
	require.ErrorIs(t, err, ErrInvariantViolation)
	assert.True(t, inv.RemainingAmount.Equal(dec("200")), "failed allocation must not mutate")

	require.ErrorIs(t, inv.Allocate(decimal.Zero), ErrInvariantViolation)

	require.NoError(t, inv.Allocate(dec("200")))
	assert.True(t, inv.RemainingAmount.IsZero())
	assert.True(t, inv.Paired)
}

func TestInvestmentMature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	funded := Investment{ID: 2, PrincipalAmount: dec("500"), RemainingAmount: decimal.Zero, Paired: true, Status: StatusMatched}
	require.NoError(t, funded.Mature(now))
	assert.True(t, funded.IsMatured)
	assert.Equal(t, StatusMatured, funded.Status)
	assert.True(t, funded.RemainingAmount.Equal(dec("500")))
	assert.False(t, funded.Paired)
	require.NotNil(t, funded.MaturedAt)
	assert.Equal(t, now, *funded.MaturedAt)

	require.ErrorIs(t, funded.Mature(now), ErrInvalidState)
}

func TestInvestmentMaturePartlyFunded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	partial := Investment{ID: 3, PrincipalAmount: dec("1000"), RemainingAmount: dec("200"), Status: StatusAvailable}
	assert.True(t, partial.Funded().Equal(dec("800")))
	require.NoError(t, partial.Mature(now))
	assert.True(t, partial.RemainingAmount.Equal(dec("800")), "only the funded part is owed")
	assert.False(t, partial.Paired)
	assert.Nil(t, partial.ArchivedAt)

	unfunded := Investment{ID: 4, PrincipalAmount: dec("500"), RemainingAmount: dec("500")}
	require.NoError(t, unfunded.Mature(now))
	assert.True(t, unfunded.IsMatured)
	assert.True(t, unfunded.RemainingAmount.IsZero())
	assert.True(t, unfunded.Paired)
	require.NotNil(t, unfunded.ArchivedAt, "nothing owed, nothing to settle")
}

func TestInvestmentIsDue(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inv := Investment{MaturationDate: at}

	assert.False(t, inv.IsDue(at.Add(-time.Second)))
	assert.True(t, inv.IsDue(at))
	assert.True(t, inv.IsDue(at.Add(time.Hour)))

	inv.IsMatured = true
	assert.False(t, inv.IsDue(at.Add(time.Hour)))
}

func TestInvestmentInterestReport(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := Investment{
		PrincipalAmount: dec("1000.00"),
		CreatedAt:       created,
		MaturationDate:  created.Add(30*24*time.Hour + 5*time.Hour),
	}
	rate := dec("0.01")

	assert.True(t, inv.DailyInterest(rate).Equal(dec("10.00")))
	assert.True(t, inv.ProjectedInterest(rate).Equal(dec("300.00")))
	assert.True(t, inv.EndReturn(rate).Equal(dec("1300.00")))
}

func TestInvestorWaiting(t *testing.T) {
	first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var inv Investor

	inv.StartWaiting(3, first)
	require.True(t, inv.IsWaiting)
	require.NotNil(t, inv.WaitingSince)
	assert.Equal(t, first, *inv.WaitingSince)
	assert.Equal(t, uint(3), *inv.WaitingInvestmentID)

	inv.StartWaiting(4, first.Add(time.Hour))
	assert.Equal(t, first, *inv.WaitingSince, "waiting since is kept while already waiting")
	assert.Equal(t, uint(4), *inv.WaitingInvestmentID)

	inv.StopWaiting()
	assert.False(t, inv.IsWaiting)
	assert.Nil(t, inv.WaitingSince)
	assert.Nil(t, inv.WaitingInvestmentID)
}

func TestInvestmentSaleTransitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	funded := func() Investment {
		return Investment{ID: 4, PrincipalAmount: dec("300"), RemainingAmount: dec("0"), Paired: true, Status: StatusMatched}
	}

	inv := funded()
	require.NoError(t, inv.ListForSale())
	assert.True(t, inv.IsForSale)
	assert.True(t, errors.Is(inv.ListForSale(), ErrInvalidState))

	require.NoError(t, inv.Sold(now))
	assert.Equal(t, StatusSold, inv.Status)
	assert.False(t, inv.IsForSale)
	require.NotNil(t, inv.ArchivedAt)
	assert.True(t, errors.Is(inv.Sold(now), ErrInvalidState))

	open := funded()
	open.RemainingAmount, open.Paired, open.Status = dec("50"), false, StatusAvailable
	assert.True(t, errors.Is(open.ListForSale(), ErrInvalidState))

	listed := funded()
	require.NoError(t, listed.ListForSale())
	require.NoError(t, listed.Mature(now))
	assert.False(t, listed.IsForSale, "maturing takes an investment off the market")
	assert.True(t, errors.Is(listed.ListForSale(), ErrInvalidState))
}
