package maturation_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/ledger/ledgertest"
	"github.com/supergidii/Loans/maturation"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/notify"
	"github.com/supergidii/Loans/pairing"
)

func TestConfirmCreditsReferrer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref := ledgertest.Investor(t, h.store, 9)
	a := ledgertest.Investor(t, h.store, 1)
	b := ledgertest.Referred(t, h.store, 2, ref.ID)
	c := ledgertest.Investor(t, h.store, 3)
	mat := ledgertest.Matured(t, h.store, a.ID, "1000", t0.Add(-40*day), t0.Add(-10*day))
	ledgertest.Deposit(t, h.store, b.ID, "700", t0.Add(time.Hour))
	ledgertest.Deposit(t, h.store, c.ID, "300", t0.Add(2*time.Hour))

	h.clock = t0.Add(3 * time.Hour)
	_, err := h.trigger.Sweep(ctx)
	require.NoError(t, err)
	pairings, err := h.store.ListPairings(ctx, mat.ID)
	require.NoError(t, err)
	require.Len(t, pairings, 2)

	for _, p := range pairings {
		_, err := h.trigger.ConfirmPairing(ctx, p.ID, 1)
		require.NoError(t, err)
	}
	// Confirming again must not pay the referrer twice.
	_, err = h.trigger.ConfirmPairing(ctx, pairings[0].ID, 1)
	require.NoError(t, err)

	assert.Equal(t, "35.00", h.balance(t, ref.ID))
	assert.Equal(t, "1000.00", h.balance(t, a.ID))

	earnings, err := h.store.ListReferralEarnings(ctx, ref.ID)
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	assert.Equal(t, b.ID, earnings[0].ReferredID)
	assert.Equal(t, pairings[0].ID, earnings[0].PairingID)
	assert.True(t, earnings[0].Amount.Equal(ledgertest.Amount("35")))
	assert.True(t, earnings[0].Rate.Equal(models.DefaultReferralRate))

	events := h.rec.Of(notify.ReferralEarned)
	require.Len(t, events, 1)
	assert.Equal(t, ref.ID, events[0].InvestorID)
}

func TestReferralRateZeroDisablesEarnings(t *testing.T) {
	s := ledgertest.NewStore(t)
	ctx := context.Background()
	clock := t0
	now := func() time.Time { return clock }
	coord := pairing.NewCoordinator(s, &notify.Recorder{}, zap.NewNop(), pairing.WithClock(now))
	trigger := maturation.NewTrigger(s, coord, &notify.Recorder{}, zap.NewNop(),
		maturation.WithClock(now), maturation.WithReferralRate(decimal.Zero))

	ref := ledgertest.Investor(t, s, 9)
	a := ledgertest.Investor(t, s, 1)
	b := ledgertest.Referred(t, s, 2, ref.ID)
	mat := ledgertest.Matured(t, s, a.ID, "400", t0.Add(-40*day), t0.Add(-10*day))
	ledgertest.Deposit(t, s, b.ID, "400", t0.Add(time.Hour))

	clock = t0.Add(2 * time.Hour)
	_, err := trigger.Sweep(ctx)
	require.NoError(t, err)
	pairings, err := s.ListPairings(ctx, mat.ID)
	require.NoError(t, err)
	require.Len(t, pairings, 1)
	_, err = trigger.ConfirmPairing(ctx, pairings[0].ID, 1)
	require.NoError(t, err)

	earnings, err := s.ListReferralEarnings(ctx, ref.ID)
	require.NoError(t, err)
	assert.Empty(t, earnings)
	got, err := s.FindInvestor(ctx, ref.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.IsZero())
}

func TestReferralAmountRoundsDown(t *testing.T) {
	assert.Equal(t, "0.61", models.ReferralAmount(ledgertest.Amount("12.35"), models.DefaultReferralRate).StringFixed(2))
	assert.Equal(t, "50.00", models.ReferralAmount(ledgertest.Amount("1000"), models.DefaultReferralRate).StringFixed(2))
}
