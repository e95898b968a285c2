package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xtrntr/coinex/internal/models"
)

const tradeMsg = `{"type":"trade","code":"KRW-BTC","timestamp":1700000000000,"trade_price":22525000.0,"trade_volume":0.5,"ask_bid":"BID","prev_closing_price":22000000.0,"sequential_id":1700000000000001}`
const tickerMsg = `{"type":"ticker","code":"KRW-BTC","trade_price":22275000,"prev_closing_price":22000000,"timestamp":1700000000000}`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		check   func(t *testing.T, ev Event)
		wantErr bool
	}{
		{
			name: "Trade",
			raw:  tradeMsg,
			check: func(t *testing.T, ev Event) {
				tr, ok := ev.(TradeEvent)
				require.True(t, ok)
				assert.Equal(t, "KRW-BTC", tr.Tick.Code)
				assert.Equal(t, models.SideBid, tr.Tick.Side)
				assert.True(t, decimal.RequireFromString("22525000").Equal(tr.Tick.TradePrice))
				assert.True(t, decimal.RequireFromString("0.5").Equal(tr.Tick.TradeVolume))
				assert.Equal(t, int64(1700000000000), tr.Tick.Timestamp.UnixMilli())
			},
		},
		{
			name: "Ticker",
			raw:  tickerMsg,
			check: func(t *testing.T, ev Event) {
				tk, ok := ev.(TickerEvent)
				require.True(t, ok)
				assert.Equal(t, "+1.25%", tk.Ticker.ChangeRate)
			},
		},
		{name: "BadSide", raw: `{"type":"trade","code":"KRW-BTC","trade_price":1,"trade_volume":1,"ask_bid":"X"}`, wantErr: true},
		{name: "ZeroVolume", raw: `{"type":"trade","code":"KRW-BTC","trade_price":1,"trade_volume":0,"ask_bid":"ASK"}`, wantErr: true},
		{name: "NoCode", raw: `{"type":"trade"}`, wantErr: true},
		{name: "NotJSON", raw: `PONG`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse([]byte(`{"type":"orderbook","code":"KRW-BTC"}`))
	assert.ErrorIs(t, err, ErrUnsupported)
}

type fakeSinks struct {
	mu      sync.Mutex
	ticks   []models.Tick
	tickers []models.Ticker
}

func (f *fakeSinks) Enqueue(_ context.Context, tick models.Tick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, tick)
	return nil
}

func (f *fakeSinks) SaveTicker(_ context.Context, t models.Ticker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers = append(f.tickers, t)
	return nil
}

func (f *fakeSinks) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks), len(f.tickers)
}

func TestDispatcher_Handle(t *testing.T) {
	sinks := &fakeSinks{}
	d := NewDispatcher(sinks, sinks, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, d.Handle(ctx, []byte(tradeMsg)))
	require.NoError(t, d.Handle(ctx, []byte(tradeMsg)), "duplicates are passed through")
	require.NoError(t, d.Handle(ctx, []byte(tickerMsg)))
	require.NoError(t, d.Handle(ctx, []byte(`{"type":"orderbook","code":"KRW-BTC"}`)))
	assert.Error(t, d.Handle(ctx, []byte(`{`)))

	ticks, tickers := sinks.counts()
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 1, tickers)
}

func TestUpbitClient_Run(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, req, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- req
		conn.WriteMessage(websocket.BinaryMessage, []byte(tickerMsg))
		conn.WriteMessage(websocket.BinaryMessage, []byte(tradeMsg))
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sinks := &fakeSinks{}
	logger := zaptest.NewLogger(t)
	client := NewUpbitClient("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"KRW-BTC"}, NewDispatcher(sinks, sinks, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	select {
	case req := <-subscribed:
		var frames []map[string]any
		require.NoError(t, json.Unmarshal(req, &frames))
		require.Len(t, frames, 4)
		assert.Equal(t, "ticker", frames[1]["type"])
		assert.Equal(t, "trade", frames[2]["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("client never subscribed")
	}

	assert.Eventually(t, func() bool {
		ticks, tickers := sinks.counts()
		return ticks == 1 && tickers == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}
