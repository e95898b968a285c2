// Package api exposes the exchange over HTTP
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/auth"
	"github.com/xtrntr/coinex/internal/history"
	"github.com/xtrntr/coinex/internal/models"
	"github.com/xtrntr/coinex/internal/order"
	"github.com/xtrntr/coinex/internal/wallet"
)

// Orders places, cancels and lists resting orders
type Orders interface {
	Create(ctx context.Context, userID int64, code string, req order.Request) (*models.Order, error)
	Cancel(ctx context.Context, orderID, userID int64) (*models.Order, error)
	List(ctx context.Context, userID int64, code string) ([]models.Order, error)
}

// Wallets reads holdings and swaps between them
type Wallets interface {
	Wallets(ctx context.Context, userID int64) ([]models.Wallet, error)
	Swap(ctx context.Context, userID int64, givenCode string, givenAmount decimal.Decimal, takenCode string) (*wallet.SwapResult, error)
}

// Balances reads and tops up user cash
type Balances interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*models.TransactionHistory, error)
}

// History searches settled records
type History interface {
	Find(ctx context.Context, userID int64, p history.FindParams) (*history.Page, error)
	RecentOrders(ctx context.Context, userID int64, code string) ([]models.TransactionHistory, error)
}

// Ranking reads the leaderboard
type Ranking interface {
	Top(ctx context.Context) ([]models.RankEntry, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Orders   Orders
	Wallets  Wallets
	Balances Balances
	History  History
	Ranking  Ranking
	log      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(orders Orders, wallets Wallets, balances Balances, hist History, ranking Ranking, logger *zap.Logger) *Handler {
	return &Handler{
		Orders:   orders,
		Wallets:  wallets,
		Balances: balances,
		History:  hist,
		Ranking:  ranking,
		log:      logger.Named("api"),
	}
}

// PlaceOrder handles POST /api/order/{code}
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req order.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	o, err := h.Orders.Create(r.Context(), userID, chi.URLParam(r, "code"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ListOrders handles GET /api/order/non-trading
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.Orders.List(r.Context(), userID, r.URL.Query().Get("code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder handles DELETE /api/order/non-trading/{id}
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	if _, err := h.Orders.Cancel(r.Context(), orderID, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MyCoins handles GET /api/order/my-coin
func (h *Handler) MyCoins(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	wallets, err := h.Wallets.Wallets(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}

type swapRequest struct {
	GivenCode   string          `json:"givenCoinCode"`
	GivenAmount decimal.Decimal `json:"givenAmount"`
	TakenCode   string          `json:"takenCoinCode"`
}

// Swap handles POST /api/order/swap
func (h *Handler) Swap(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.GivenCode == "" || req.TakenCode == "" {
		writeError(w, http.StatusBadRequest, "givenCoinCode and takenCoinCode required")
		return
	}

	res, err := h.Wallets.Swap(r.Context(), userID, req.GivenCode, req.GivenAmount, req.TakenCode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Balance handles GET /api/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	amount, err := h.Balances.Balance(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"amount": amount})
}

// Deposit handles POST /api/balance/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.Balances.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Completions handles GET /api/order/completion
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	q := r.URL.Query()
	params := history.FindParams{
		Period: q.Get("period"),
		Type:   q.Get("type"),
		Code:   q.Get("code"),
	}
	if p := q.Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "Invalid page")
			return
		}
		params.Page = page
	}

	page, err := h.History.Find(r.Context(), userID, params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// RecentCompletions handles GET /api/order/completion/{code}
func (h *Handler) RecentCompletions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	records, err := h.History.RecentOrders(r.Context(), userID, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Leaderboard handles GET /api/ranking
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ranking.Top(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.RankEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientHoldings), errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidPeriod),
		errors.Is(err, models.ErrInvalidTransactionType),
		errors.Is(err, models.ErrInvalidOrder):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
