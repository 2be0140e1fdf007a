package controllers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/supergidii/Loans/logger"
	"github.com/supergidii/Loans/middleware"
	"github.com/supergidii/Loans/models"
	"github.com/supergidii/Loans/utils"
)

// Market is the secondary market for funded investments.
type Market interface {
	List(ctx context.Context, investorID, investmentID uint, price decimal.Decimal) (*models.InvestmentSale, error)
	Cancel(ctx context.Context, investorID, saleID uint) (*models.InvestmentSale, error)
	Buy(ctx context.Context, investorID, saleID uint) (*models.InvestmentSale, *models.Investment, error)
}

// InvestorFinder resolves the authenticated user to an investor.
type InvestorFinder interface {
	FindInvestorByUserID(ctx context.Context, userID uint) (*models.Investor, error)
}

type MarketController struct {
	market    Market
	investors InvestorFinder
	log       *zap.Logger
}

func NewMarketController(market Market, investors InvestorFinder, log *zap.Logger) *MarketController {
	return &MarketController{market: market, investors: investors, log: logger.OrNop(log)}
}

type SellRequest struct {
	Price string `json:"price" validate:"required,positive_amount,cents"`
}

// POST /v1/investments/{id}/sell
func (c *MarketController) Sell(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	investor, ok := c.currentInvestor(w, r)
	if !ok {
		return
	}
	var req SellRequest
	if err := middleware.ValidateJSON(w, r, &req); err != nil {
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid price"})
		return
	}
	sale, err := c.market.List(r.Context(), investor.ID, id, price)
	if err != nil {
		writeError(c.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{Success: true, Message: "Investment listed", Data: sale})
}

// POST /v1/sales/{id}/cancel
func (c *MarketController) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	investor, ok := c.currentInvestor(w, r)
	if !ok {
		return
	}
	sale, err := c.market.Cancel(r.Context(), investor.ID, id)
	if err != nil {
		writeError(c.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Sale cancelled", Data: sale})
}

// POST /v1/sales/{id}/buy
func (c *MarketController) Buy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	investor, ok := c.currentInvestor(w, r)
	if !ok {
		return
	}
	sale, inv, err := c.market.Buy(r.Context(), investor.ID, id)
	if err != nil {
		writeError(c.log, w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Sale completed", Data: map[string]interface{}{
		"sale":       sale,
		"investment": inv,
	}})
}

func (c *MarketController) currentInvestor(w http.ResponseWriter, r *http.Request) (*models.Investor, bool) {
	userID, ok := utils.GetUserID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return nil, false
	}
	investor, err := c.investors.FindInvestorByUserID(r.Context(), userID)
	if err != nil {
		writeError(c.log, w, r, err)
		return nil, false
	}
	return investor, true
}
