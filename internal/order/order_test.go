package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xtrntr/coinex/internal/kv"
	"github.com/xtrntr/coinex/internal/models"
	"github.com/xtrntr/coinex/internal/settlement"
	"github.com/xtrntr/coinex/internal/wallet"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	refs     map[string]bool
}

func (f *fakeBalances) Debit(_ context.Context, userID int64, amount decimal.Decimal, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[ref] {
		return nil
	}
	if f.balances[userID].LessThan(amount) {
		return models.ErrInsufficientBalance
	}
	f.refs[ref] = true
	f.balances[userID] = f.balances[userID].Sub(amount)
	return nil
}

func (f *fakeBalances) Credit(_ context.Context, userID int64, amount decimal.Decimal, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[ref] {
		return nil
	}
	f.refs[ref] = true
	f.balances[userID] = f.balances[userID].Add(amount)
	return nil
}

func (f *fakeBalances) balance(userID int64) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

type fakeCoins struct{}

func (fakeCoins) FindCoin(_ context.Context, code string) (*models.Coin, error) {
	if code != "KRW-BTC" {
		return nil, models.ErrAssetNotFound
	}
	return &models.Coin{ID: 1, Code: code, Name: "Bitcoin"}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records map[string]models.TransactionHistory
}

func (f *fakeHistory) AppendHistory(_ context.Context, h *models.TransactionHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[h.Ref]; !ok {
		f.records[h.Ref] = *h
	}
	return nil
}

type fixture struct {
	svc      *Service
	store    *kv.Store
	ledger   *wallet.Ledger
	balances *fakeBalances
	history  *fakeHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	logger := zaptest.NewLogger(t)

	store := kv.New(rdb, logger)
	ledger := wallet.NewLedger(store, wallet.NewLocker(), logger)
	balances := &fakeBalances{balances: map[int64]decimal.Decimal{1: d("100000000")}, refs: map[string]bool{}}
	hist := &fakeHistory{records: map[string]models.TransactionHistory{}}
	proc := settlement.NewProcessor(store, balances, hist, time.Second, logger)

	return &fixture{
		svc:      NewService(store, ledger, balances, fakeCoins{}, proc, logger),
		store:    store,
		ledger:   ledger,
		balances: balances,
		history:  hist,
	}
}

func limitBid(price, amount string) Request {
	return Request{Limit: d(price), Market: decimal.Zero, Amount: d(amount), Side: models.SideBid}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"Limit", limitBid("100", "1"), nil},
		{"Market", Request{Market: d("100"), Amount: d("1"), Side: models.SideAsk}, nil},
		{"BothPrices", Request{Limit: d("100"), Market: d("100"), Amount: d("1"), Side: models.SideBid}, models.ErrInvalidOrder},
		{"NoPrice", Request{Amount: d("1"), Side: models.SideBid}, models.ErrInvalidOrder},
		{"NegativePrice", Request{Limit: d("-1"), Amount: d("1"), Side: models.SideBid}, models.ErrInvalidOrder},
		{"ZeroAmount", limitBid("100", "0"), models.ErrInvalidOrder},
		{"BadSide", Request{Limit: d("100"), Amount: d("1"), Side: "SELL"}, models.ErrInvalidTransactionType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_CreateBidReservesCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 1, "KRW-BTC", limitBid("22525000", "0.5"))
	require.NoError(t, err)
	assert.NotZero(t, o.ID)

	// 100,000,000 - 11,268,131.25
	assert.True(t, d("88731868.75").Equal(f.balances.balance(1)), "got %s", f.balances.balance(1))

	stored, err := f.store.FindOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, d("0.5").Equal(stored.Amount))
}

func TestService_CreateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 1, "KRW-DOGE", limitBid("100", "1"))
	assert.ErrorIs(t, err, models.ErrAssetNotFound)

	_, err = f.svc.Create(ctx, 1, "KRW-BTC", limitBid("1000000000", "1"))
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)

	_, err = f.svc.Create(ctx, 1, "KRW-BTC", Request{Limit: d("100"), Amount: d("1"), Side: models.SideAsk})
	assert.ErrorIs(t, err, models.ErrInsufficientHoldings)

	orders, err := f.store.FindOrdersByUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.True(t, d("100000000").Equal(f.balances.balance(1)))
}

func TestService_CreateAskChecksAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Acquire(ctx, 1, "KRW-BTC", d("100"), d("1")))

	ask := Request{Limit: d("120"), Amount: d("0.6"), Side: models.SideAsk}
	_, err := f.svc.Create(ctx, 1, "KRW-BTC", ask)
	require.NoError(t, err)

	// 0.4 left to sell
	_, err = f.svc.Create(ctx, 1, "KRW-BTC", ask)
	assert.ErrorIs(t, err, models.ErrInsufficientHoldings)

	ask.Amount = d("0.4")
	_, err = f.svc.Create(ctx, 1, "KRW-BTC", ask)
	assert.NoError(t, err)
}

func TestService_CreateAskConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Acquire(ctx, 1, "KRW-BTC", d("100"), d("1")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, 1, "KRW-BTC", Request{Limit: d("120"), Amount: d("0.3"), Side: models.SideAsk})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, accepted)
}

func TestService_CancelBidRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 1, "KRW-BTC", limitBid("22525000", "0.5"))
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, o.ID, 2)
	assert.ErrorIs(t, err, models.ErrNotOwner)

	_, err = f.svc.Cancel(ctx, o.ID, 1)
	require.NoError(t, err)
	assert.True(t, d("100000000").Equal(f.balances.balance(1)), "got %s", f.balances.balance(1))
	assert.Empty(t, f.history.records)

	_, err = f.svc.Cancel(ctx, o.ID, 1)
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
	assert.True(t, d("100000000").Equal(f.balances.balance(1)), "replay refunds nothing")
}

func TestService_CancelPartiallyFilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, 1, "KRW-BTC", limitBid("100", "1"))
	require.NoError(t, err)
	reserved := f.balances.balance(1)

	// simulate a fill of 0.4
	err = f.store.Atomically(ctx, []string{kv.OrderKey(o.ID)}, func(tx *kv.Tx) error {
		cur, err := tx.Order(o.ID)
		if err != nil {
			return err
		}
		cur.Amount = d("0.6")
		cur.CompletedAmount = d("0.4")
		cur.FillPrice = d("95")
		return tx.PutOrder(cur)
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, o.ID, 1)
	require.NoError(t, err)

	// refund covers only the remaining 0.6 at the limit price
	assert.True(t, reserved.Add(d("60.03")).Equal(f.balances.balance(1)), "got %s", f.balances.balance(1))
	rec, ok := f.history.records[cancelRef(o.ID)]
	require.True(t, ok)
	assert.True(t, d("0.4").Equal(rec.Amount))
	assert.True(t, d("95").Equal(rec.Price), "filled portion is recorded at the price it settled at, got %s", rec.Price)
	assert.Equal(t, models.TransactionBid, rec.Type)
}

func TestService_CancelAskNoRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Acquire(ctx, 1, "KRW-BTC", d("100"), d("1")))

	o, err := f.svc.Create(ctx, 1, "KRW-BTC", Request{Limit: d("120"), Amount: d("1"), Side: models.SideAsk})
	require.NoError(t, err)
	before := f.balances.balance(1)

	_, err = f.svc.Cancel(ctx, o.ID, 1)
	require.NoError(t, err)
	assert.True(t, before.Equal(f.balances.balance(1)))

	available, err := f.ledger.AvailableToSell(ctx, 1, "KRW-BTC")
	require.NoError(t, err)
	assert.True(t, d("1").Equal(available))
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, 1, "")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)

	_, err = f.svc.Create(ctx, 1, "KRW-BTC", limitBid("100", "1"))
	require.NoError(t, err)

	orders, err := f.svc.List(ctx, 1, "KRW-BTC")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	_, err = f.svc.List(ctx, 1, "KRW-ETH")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}
