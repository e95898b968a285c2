package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/auth"
	"github.com/xtrntr/coinex/internal/history"
	"github.com/xtrntr/coinex/internal/models"
	"github.com/xtrntr/coinex/internal/order"
	"github.com/xtrntr/coinex/internal/wallet"
)

type fakeOrders struct {
	created   order.Request
	cancelErr error
	orders    map[int64][]models.Order
}

func (f *fakeOrders) Create(_ context.Context, userID int64, code string, req order.Request) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if code != "KRW-BTC" {
		return nil, models.ErrAssetNotFound
	}
	f.created = req
	return &models.Order{ID: 1, UserID: userID, Code: code, Side: req.Side, LimitPrice: req.Limit, Amount: req.Amount}, nil
}

func (f *fakeOrders) Cancel(_ context.Context, orderID, userID int64) (*models.Order, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &models.Order{ID: orderID, UserID: userID}, nil
}

func (f *fakeOrders) List(_ context.Context, userID int64, code string) ([]models.Order, error) {
	orders := f.orders[userID]
	if len(orders) == 0 {
		return nil, models.ErrOrderNotFound
	}
	return orders, nil
}

type fakeWallets struct{}

func (fakeWallets) Wallets(_ context.Context, userID int64) ([]models.Wallet, error) {
	if userID != 1 {
		return nil, models.ErrWalletNotFound
	}
	return []models.Wallet{{UserID: 1, Code: "KRW-BTC", Amount: decimal.RequireFromString("0.5")}}, nil
}

func (fakeWallets) Swap(_ context.Context, userID int64, givenCode string, givenAmount decimal.Decimal, takenCode string) (*wallet.SwapResult, error) {
	if givenAmount.GreaterThan(decimal.NewFromInt(1)) {
		return nil, models.ErrInsufficientHoldings
	}
	return &wallet.SwapResult{GivenCode: givenCode, GivenAmount: givenAmount, TakenCode: takenCode}, nil
}

type fakeBalances struct{}

func (fakeBalances) Balance(context.Context, int64) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (fakeBalances) Deposit(_ context.Context, userID int64, amount decimal.Decimal) (*models.TransactionHistory, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit must be positive", models.ErrInvalidOrder)
	}
	return &models.TransactionHistory{UserID: userID, Type: models.TransactionDeposit, Amount: amount}, nil
}

type fakeHistory struct {
	params history.FindParams
}

func (f *fakeHistory) Find(_ context.Context, _ int64, p history.FindParams) (*history.Page, error) {
	f.params = p
	if _, err := history.PeriodStart(p.Period, time.Now()); err != nil {
		return nil, err
	}
	return &history.Page{Data: []models.TransactionHistory{}, PageInfo: history.PageInfo{Page: 1, Size: history.PageSize}}, nil
}

func (f *fakeHistory) RecentOrders(context.Context, int64, string) ([]models.TransactionHistory, error) {
	return []models.TransactionHistory{{Type: models.TransactionBid}}, nil
}

type fakeRanking struct {
	err error
}

func (f fakeRanking) Top(context.Context) ([]models.RankEntry, error) {
	return nil, f.err
}

type testEnv struct {
	router  *chi.Mux
	token   string
	orders  *fakeOrders
	history *fakeHistory
}

func newTestEnv(t *testing.T) *testEnv {
	verifier := auth.NewVerifier("test-secret", time.Hour)
	token, err := verifier.IssueToken(1)
	require.NoError(t, err)

	orders := &fakeOrders{orders: map[int64][]models.Order{1: {{ID: 9, UserID: 1, Code: "KRW-BTC"}}}}
	hist := &fakeHistory{}
	h := NewHandler(orders, fakeWallets{}, fakeBalances{}, hist, fakeRanking{}, zap.NewNop())
	return &testEnv{router: NewRouter(h, verifier, zap.NewNop()), token: token, orders: orders, history: hist}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestHandler_PlaceOrder(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		path           string
		requestBody    interface{}
		token          string
		expectedStatus int
	}{
		{
			name:           "Success",
			path:           "/api/order/KRW-BTC",
			requestBody:    map[string]interface{}{"limit": "22525000", "amount": "0.5", "orderType": "BID"},
			token:          env.token,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "BothPrices",
			path:           "/api/order/KRW-BTC",
			requestBody:    map[string]interface{}{"limit": "1", "market": "1", "amount": "0.5", "orderType": "BID"},
			token:          env.token,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "BadSide",
			path:           "/api/order/KRW-BTC",
			requestBody:    map[string]interface{}{"limit": "1", "amount": "0.5", "orderType": "HOLD"},
			token:          env.token,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "UnknownCoin",
			path:           "/api/order/KRW-DOGE",
			requestBody:    map[string]interface{}{"limit": "1", "amount": "0.5", "orderType": "ASK"},
			token:          env.token,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "MalformedBody",
			path:           "/api/order/KRW-BTC",
			requestBody:    "not an order",
			token:          env.token,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unauthorized",
			path:           "/api/order/KRW-BTC",
			requestBody:    map[string]interface{}{"limit": "1", "amount": "0.5", "orderType": "BID"},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, tt.path, tt.requestBody, tt.token)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			if tt.expectedStatus == http.StatusCreated {
				assert.Equal(t, float64(1), resp["orderId"])
				assert.Equal(t, "BID", resp["orderType"])
			} else {
				assert.NotEmpty(t, resp["error"])
			}
		})
	}
}

func TestHandler_CancelOrder(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name           string
		path           string
		cancelErr      error
		expectedStatus int
	}{
		{"Success", "/api/order/non-trading/9", nil, http.StatusNoContent},
		{"NotOwner", "/api/order/non-trading/9", models.ErrNotOwner, http.StatusForbidden},
		{"Missing", "/api/order/non-trading/9", models.ErrOrderNotFound, http.StatusNotFound},
		{"BadID", "/api/order/non-trading/abc", nil, http.StatusBadRequest},
		{"StoreDown", "/api/order/non-trading/9", fmt.Errorf("failed to get order:9: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.orders.cancelErr = tt.cancelErr
			rr := env.do(t, http.MethodDelete, tt.path, nil, env.token)
			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusInternalServerError {
				assert.NotContains(t, rr.Body.String(), "connection refused")
			}
		})
	}
}

func TestHandler_ListOrders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/order/non-trading?code=KRW-BTC", nil, env.token)
	require.Equal(t, http.StatusOK, rr.Code)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &orders))
	assert.Len(t, orders, 1)

	env.orders.orders = nil
	rr = env.do(t, http.MethodGet, "/api/order/non-trading", nil, env.token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandler_WalletsAndSwap(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/order/my-coin", nil, env.token)
	assert.Equal(t, http.StatusOK, rr.Code)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
	}{
		{"Success", map[string]interface{}{"givenCoinCode": "KRW-BTC", "givenAmount": "0.5", "takenCoinCode": "KRW-ETH"}, http.StatusOK},
		{"TooMuch", map[string]interface{}{"givenCoinCode": "KRW-BTC", "givenAmount": "2", "takenCoinCode": "KRW-ETH"}, http.StatusConflict},
		{"MissingCode", map[string]interface{}{"givenCoinCode": "KRW-BTC", "givenAmount": "0.5"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/order/swap", tt.requestBody, env.token)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestHandler_Balance(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/balance", nil, env.token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"amount":"1000"}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/balance/deposit", map[string]interface{}{"amount": "500"}, env.token)
	require.Equal(t, http.StatusCreated, rr.Code)
	var record models.TransactionHistory
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &record))
	assert.Equal(t, models.TransactionDeposit, record.Type)

	rr = env.do(t, http.MethodPost, "/api/balance/deposit", map[string]interface{}{"amount": "-1"}, env.token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_Completions(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/order/completion?period=m&type=BID&code=KRW-BTC&page=2", nil, env.token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, history.FindParams{Period: "m", Type: "BID", Code: "KRW-BTC", Page: 2}, env.history.params)

	var page history.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, history.PageSize, page.PageInfo.Size)

	rr = env.do(t, http.MethodGet, "/api/order/completion?period=y", nil, env.token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/order/completion?page=zero", nil, env.token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/order/completion/KRW-BTC", nil, env.token)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandler_Leaderboard(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/ranking", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrAssetNotFound, http.StatusNotFound},
		{models.ErrInsufficientBalance, http.StatusConflict},
		{models.ErrInsufficientHoldings, http.StatusConflict},
		{models.ErrNotOwner, http.StatusForbidden},
		{models.ErrInvalidPeriod, http.StatusBadRequest},
		{models.ErrInvalidTransactionType, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", models.ErrInvalidOrder), http.StatusBadRequest},
		{models.ErrDataIntegrity, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
