package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/logger"
	"github.com/supergidii/Loans/maturation"
	"github.com/supergidii/Loans/middleware"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/utils"
)

// Sweeper runs one maturation sweep under the sweep lock.
type Sweeper interface {
	RunOnce(ctx context.Context) (maturation.SweepResult, bool, error)
}

// Operations are the investor facing maturation flows.
type Operations interface {
	CheckInvestment(ctx context.Context, id uint) (*models.Investment, error)
	ConfirmPairing(ctx context.Context, pairingID, userID uint) (*models.Pairing, error)
	CancelWaiting(ctx context.Context, investorID uint) error
}

// Ledger is the slice of the store the handlers read from and deposit into.
type Ledger interface {
	FindInvestment(ctx context.Context, id uint) (*models.Investment, error)
	FindInvestorByUserID(ctx context.Context, userID uint) (*models.Investor, error)
	ListPairings(ctx context.Context, investmentID uint) ([]models.Pairing, error)
	CreateInvestor(ctx context.Context, inv *models.Investor) error
	CreateInvestment(ctx context.Context, inv *models.Investment, now time.Time) error
}

type MatchingController struct {
	sweeper Sweeper
	ops     Operations
	ledger  Ledger
	rate    decimal.Decimal
	log     *zap.Logger
}

func NewMatchingController(sweeper Sweeper, ops Operations, ledger Ledger, dailyRate decimal.Decimal, log *zap.Logger) *MatchingController {
	log = logger.OrNop(log)
	return &MatchingController{sweeper: sweeper, ops: ops, ledger: ledger, rate: dailyRate, log: log}
}

// POST /v1/cron/maturation-sweep
func (c *MatchingController) Sweep(w http.ResponseWriter, r *http.Request) {
	res, ran, err := c.sweeper.RunOnce(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if !ran {
		utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: "Sweep already running"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Cron executed", Data: map[string]interface{}{
		"matured":  len(res.Matured),
		"pairings": len(res.Pairing.Applied),
		"skipped":  res.Pairing.Skipped,
		"degraded": res.Pairing.Degraded,
		"total":    res.Pairing.Total().StringFixed(2),
	}})
}

type interestReport struct {
	DailyInterest     string `json:"daily_interest"`
	ProjectedInterest string `json:"projected_interest"`
	EndReturn         string `json:"end_return"`
}

type investmentView struct {
	Investment *models.Investment `json:"investment"`
	Returns    interestReport     `json:"returns"`
	Pairings   []models.Pairing   `json:"pairings"`
}

// GET /v1/investments/{id}
func (c *MatchingController) GetInvestment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	investor, ok := c.currentInvestor(w, r)
	if !ok {
		return
	}
	inv, err := c.ledger.FindInvestment(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if inv.InvestorID != investor.ID {
		c.writeError(w, r, models.ErrAuthorization)
		return
	}

	inv, err = c.ops.CheckInvestment(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	pairings, err := c.ledger.ListPairings(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: investmentView{
		Investment: inv,
		Returns: interestReport{
			DailyInterest:     inv.DailyInterest(c.rate).StringFixed(2),
			ProjectedInterest: inv.ProjectedInterest(c.rate).StringFixed(2),
			EndReturn:         inv.EndReturn(c.rate).StringFixed(2),
		},
		Pairings: pairings,
	}})
}

type DepositRequest struct {
	Amount     string `json:"amount" validate:"required,positive_amount,cents"`
	TermDays   int    `json:"term_days" validate:"omitempty,min=1,max=3650"`
	ReferrerID *uint  `json:"referrer_id,omitempty"`
}

// POST /v1/investments
// The first deposit of a user registers them as an investor. Every deposit
// puts its owner in the waiting queue until it is fully funded.
func (c *MatchingController) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	var req DepositRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.writeError(w, r, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	}

	investor, err := c.ledger.FindInvestorByUserID(r.Context(), userID)
	if errors.Is(err, models.ErrNotFound) {
		investor = &models.Investor{UserID: userID, ReferredBy: req.ReferrerID}
		err = c.ledger.CreateInvestor(r.Context(), investor)
	}
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	inv := &models.Investment{InvestorID: investor.ID, PrincipalAmount: amount, TermDays: req.TermDays}
	if err := c.ledger.CreateInvestment(r.Context(), inv, time.Now()); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.log.Info("deposit recorded",
		zap.Uint("investor_id", investor.ID),
		zap.Uint("investment_id", inv.ID),
		zap.String("amount", amount.StringFixed(2)))
	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{Success: true, Message: "Deposit recorded", Data: inv})
}

// POST /v1/pairings/{id}/confirm
func (c *MatchingController) ConfirmPairing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := utils.GetUserID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	p, err := c.ops.ConfirmPairing(r.Context(), id, userID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Payment confirmed", Data: p})
}

// POST /v1/investors/me/cancel-waiting
func (c *MatchingController) CancelWaiting(w http.ResponseWriter, r *http.Request) {
	investor, ok := c.currentInvestor(w, r)
	if !ok {
		return
	}
	if err := c.ops.CancelWaiting(r.Context(), investor.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Waiting cancelled"})
}

func (c *MatchingController) currentInvestor(w http.ResponseWriter, r *http.Request) (*models.Investor, bool) {
	userID, ok := utils.GetUserID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return nil, false
	}
	investor, err := c.ledger.FindInvestorByUserID(r.Context(), userID)
	if err != nil {
		c.writeError(w, r, err)
		return nil, false
	}
	return investor, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	n, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil || n == 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid " + name})
		return 0, false
	}
	return uint(n), true
}

func (c *MatchingController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(c.log, w, r, err)
}

// writeError maps the domain error classes onto HTTP statuses. Internal
// details stay in the log.
func writeError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.Is(err, models.ErrValidation):
		status, msg = http.StatusBadRequest, "Invalid request"
	case errors.Is(err, models.ErrAuthorization):
		status, msg = http.StatusForbidden, "Access denied"
	case errors.Is(err, models.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrInvalidState):
		status, msg = http.StatusConflict, "Operation not allowed in the current state"
	case errors.Is(err, models.ErrRetryExhausted):
		status, msg = http.StatusServiceUnavailable, "Busy, try again later"
	case errors.Is(err, models.ErrConflict):
		status, msg = http.StatusConflict, "Concurrent update, try again"
	}
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", utils.GetRequestID(r)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
	} else {
		log.Info("request rejected", fields...)
	}
	utils.WriteJSON(w, status, utils.APIResponse{Success: false, Message: msg})
}
