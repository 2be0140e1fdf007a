package routes_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/controllers"
	"github.com/supergidii/Loans/ledger"
	"github.com/supergidii/Loans/ledger/ledgertest"
	"github.com/supergidii/Loans/market"
	"github.com/supergidii/Loans/maturation"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/notify"
	"github.com/supergidii/Loans/pairing"
	"github.com/supergidii/Loans/routes"
	"github.com/supergidii/Loans/utils"
)

const (
	secret  = "test-secret"
	cronKey = "cron-key"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type api struct {
	t      *testing.T
	router *mux.Router
	store  *ledger.GormStore
}

func newAPI(t *testing.T) *api {
	store := ledgertest.NewStore(t)
	clock := func() time.Time { return t0 }
	rec := &notify.Recorder{}
	coord := pairing.NewCoordinator(store, rec, zap.NewNop(), pairing.WithClock(clock))
	trigger := maturation.NewTrigger(store, coord, rec, zap.NewNop(), maturation.WithClock(clock))
	sched := maturation.NewScheduler(trigger, &maturation.LocalLock{}, time.Minute, zap.NewNop())

	ctrl := controllers.NewMatchingController(sched, trigger, store, ledgertest.Amount("0.01"), zap.NewNop())
	exchange := market.NewExchange(store, rec, zap.NewNop(), market.WithClock(clock))
	router := routes.InitRouter(routes.Deps{
		Matching: ctrl,
		Market:   controllers.NewMarketController(exchange, store, zap.NewNop()),
		Verifier: utils.NewTokenVerifier(secret, "", "", nil),
		CronKey:  cronKey,
	})
	return &api{t: t, router: router, store: store}
}

func (a *api) do(method, path string, userID uint, headers map[string]string) (int, envelope) {
	a.t.Helper()
	return a.doBody(method, path, userID, headers, "")
}

func (a *api) doBody(method, path string, userID uint, headers map[string]string, body string) (int, envelope) {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != 0 {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"id":  userID,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func TestMatchingFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	owner := ledgertest.Investor(t, a.store, 1)
	payer := ledgertest.Investor(t, a.store, 2)
	ledgertest.Investor(t, a.store, 3)
	mat := ledgertest.Matured(t, a.store, owner.ID, "1000", t0.Add(-40*24*time.Hour), t0.Add(-10*24*time.Hour))
	imm := ledgertest.Deposit(t, a.store, payer.ID, "800", t0.Add(-time.Hour))

	code, _ := a.do(http.MethodPost, "/v1/cron/maturation-sweep", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(http.MethodPost, "/v1/cron/maturation-sweep", 0, map[string]string{"X-CRON-KEY": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := a.do(http.MethodPost, "/v1/cron/maturation-sweep", 0, map[string]string{"X-CRON-KEY": cronKey})
	require.Equal(t, http.StatusOK, code)
	var sweep map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &sweep))
	assert.EqualValues(t, 1, sweep["pairings"])
	assert.Equal(t, "800.00", sweep["total"])

	// Reading an investment needs a session and ownership.
	code, _ = a.do(http.MethodGet, fmt.Sprintf("/v1/investments/%d", imm.ID), 0, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(http.MethodGet, fmt.Sprintf("/v1/investments/%d", imm.ID), 1, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodGet, "/v1/investments/9999", 2, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = a.do(http.MethodGet, fmt.Sprintf("/v1/investments/%d", imm.ID), 2, nil)
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Investment struct {
			ID              uint   `json:"id"`
			RemainingAmount string `json:"remaining_amount"`
			Paired          bool   `json:"paired"`
		} `json:"investment"`
		Returns struct {
			DailyInterest string `json:"daily_interest"`
		} `json:"returns"`
		Pairings []struct {
			ID           uint   `json:"id"`
			PairedAmount string `json:"paired_amount"`
		} `json:"pairings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, imm.ID, view.Investment.ID)
	assert.Equal(t, "0", view.Investment.RemainingAmount)
	assert.True(t, view.Investment.Paired)
	assert.Equal(t, "8.00", view.Returns.DailyInterest)
	require.Len(t, view.Pairings, 1)
	assert.Equal(t, "800", view.Pairings[0].PairedAmount)

	// Only the receiving owner can confirm.
	confirm := fmt.Sprintf("/v1/pairings/%d/confirm", view.Pairings[0].ID)
	code, _ = a.do(http.MethodPost, confirm, 2, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodPost, confirm, 1, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodPost, confirm, 1, nil)
	assert.Equal(t, http.StatusOK, code, "confirming twice is a no-op")
	code, _ = a.do(http.MethodPost, "/v1/pairings/4242/confirm", 1, nil)
	assert.Equal(t, http.StatusNotFound, code)

	got, err := a.store.FindInvestor(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "800.00", got.AvailableBalance.StringFixed(2))
	gotMat, err := a.store.FindInvestment(context.Background(), mat.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", gotMat.RemainingAmount.StringFixed(2))
}

func TestCancelWaitingOverHTTP(t *testing.T) {
	a := newAPI(t)
	waiting := ledgertest.Investor(t, a.store, 5)
	ledgertest.Investor(t, a.store, 6)
	ledgertest.Deposit(t, a.store, waiting.ID, "100", t0)

	code, _ := a.do(http.MethodPost, "/v1/investors/me/cancel-waiting", 5, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodPost, "/v1/investors/me/cancel-waiting", 5, nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = a.do(http.MethodPost, "/v1/investors/me/cancel-waiting", 6, nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = a.do(http.MethodPost, "/v1/investors/me/cancel-waiting", 99, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndAdminTokens(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, code)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": 1, "role": "admin"}).SignedString([]byte(secret))
	require.NoError(t, err)
	code, _ = a.do(http.MethodPost, "/v1/investors/me/cancel-waiting", 0, map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestDepositOverHTTP(t *testing.T) {
	a := newAPI(t)
	jsonCT := map[string]string{"Content-Type": "application/json"}

	code, _ := a.doBody(http.MethodPost, "/v1/investments", 0, jsonCT, `{"amount":"500.00"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := a.doBody(http.MethodPost, "/v1/investments", 7, jsonCT, `{"amount":"500.00"}`)
	require.Equal(t, http.StatusCreated, code, env.Message)
	investor, err := a.store.FindInvestorByUserID(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, investor.IsWaiting)
	require.NotNil(t, investor.WaitingInvestmentID)
	first, err := a.store.FindInvestment(context.Background(), *investor.WaitingInvestmentID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", first.RemainingAmount.StringFixed(2))

	code, _ = a.doBody(http.MethodPost, "/v1/investments", 7, jsonCT, `{"amount":"250","term_days":10}`)
	require.Equal(t, http.StatusCreated, code)
	again, err := a.store.FindInvestorByUserID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, investor.ID, again.ID, "later deposits reuse the investor")
	assert.Equal(t, *investor.WaitingInvestmentID, *again.WaitingInvestmentID, "the queue position is kept")

	bad := []struct {
		headers map[string]string
		body    string
		want    int
	}{
		{nil, `{"amount":"100"}`, http.StatusUnsupportedMediaType},
		{jsonCT, `{"amount":`, http.StatusBadRequest},
		{jsonCT, `{"amount":"100","extra":1}`, http.StatusBadRequest},
		{jsonCT, `{}`, http.StatusBadRequest},
		{jsonCT, `{"amount":"-5"}`, http.StatusBadRequest},
		{jsonCT, `{"amount":"10.001"}`, http.StatusBadRequest},
		{jsonCT, `{"amount":"100","term_days":4000}`, http.StatusBadRequest},
	}
	for _, tc := range bad {
		code, _ := a.doBody(http.MethodPost, "/v1/investments", 7, tc.headers, tc.body)
		assert.Equal(t, tc.want, code, tc.body)
	}

	// A first deposit naming an unknown referrer does not register the user.
	code, _ = a.doBody(http.MethodPost, "/v1/investments", 8, jsonCT, `{"amount":"100","referrer_id":4242}`)
	assert.Equal(t, http.StatusBadRequest, code)
	_, err = a.store.FindInvestorByUserID(context.Background(), 8)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSaleOverHTTP(t *testing.T) {
	a := newAPI(t)
	jsonCT := map[string]string{"Content-Type": "application/json"}
	seller := ledgertest.Investor(t, a.store, 1)
	buyer := ledgertest.Investor(t, a.store, 2)
	inv := ledgertest.Funded(t, a.store, seller.ID, "400", t0.Add(-2*24*time.Hour), t0.Add(28*24*time.Hour))
	ledgertest.Credit(t, a.store, buyer.ID, "450")
	sell := fmt.Sprintf("/v1/investments/%d/sell", inv.ID)

	code, _ := a.doBody(http.MethodPost, sell, 2, jsonCT, `{"price":"420.00"}`)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.doBody(http.MethodPost, sell, 1, jsonCT, `{"price":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := a.doBody(http.MethodPost, sell, 1, jsonCT, `{"price":"420.00"}`)
	require.Equal(t, http.StatusCreated, code)
	var sale struct {
		ID     uint   `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sale))
	assert.Equal(t, "pending", sale.Status)

	buy := fmt.Sprintf("/v1/sales/%d/buy", sale.ID)
	code, _ = a.do(http.MethodPost, buy, 1, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(http.MethodPost, buy, 2, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodPost, buy, 2, nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = a.do(http.MethodPost, fmt.Sprintf("/v1/sales/%d/cancel", sale.ID), 1, nil)
	assert.Equal(t, http.StatusConflict, code)

	got, err := a.store.FindInvestment(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSold, got.Status)
	paid, err := a.store.FindInvestor(context.Background(), seller.ID)
	require.NoError(t, err)
	assert.Equal(t, "420.00", paid.AvailableBalance.StringFixed(2))
}
