package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of a resting order: BID (buy) or ASK (sell)
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// ParseSide converts a wire value into a Side
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBid, SideAsk:
		return Side(s), nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidTransactionType, s)
}

// TransactionType tags a settled history record
type TransactionType string

const (
	TransactionBid     TransactionType = "BID"
	TransactionAsk     TransactionType = "ASK"
	TransactionSwap    TransactionType = "SWAP"
	TransactionDeposit TransactionType = "DEPOSIT"
)

// ParseTransactionType converts a query value into a TransactionType
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case TransactionBid, TransactionAsk, TransactionSwap, TransactionDeposit:
		return TransactionType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, s)
}

// TransactionType returns the history type recorded for fills on this side
func (s Side) TransactionType() TransactionType {
	switch s {
	case SideBid:
		return TransactionBid
	case SideAsk:
		return TransactionAsk
	}
	panic(fmt.Sprintf("unknown side %q", string(s)))
}

// Order is a resting order. Amount is the unfilled quantity and is always > 0
// while the order exists. FillPrice is the volume weighted settlement price of
// CompletedAmount.
type Order struct {
	ID              int64           `json:"orderId"`
	LimitPrice      decimal.Decimal `json:"limit"`
	MarketPrice     decimal.Decimal `json:"market"`
	Amount          decimal.Decimal `json:"amount"`
	CompletedAmount decimal.Decimal `json:"completedAmount"`
	FillPrice       decimal.Decimal `json:"fillPrice"`
	Side            Side            `json:"orderType"`
	UserID          int64           `json:"userId"`
	Code            string          `json:"code"`
	OrderTime       time.Time       `json:"orderTime"`
	Fills           int             `json:"fills"`
}

// Price returns the price the order trades against: the limit price, or the
// market price for market orders.
func (o *Order) Price() decimal.Decimal {
	if !o.LimitPrice.IsZero() {
		return o.LimitPrice
	}
	return o.MarketPrice
}

// Wallet is a user's holding of one asset
type Wallet struct {
	UserID       int64           `json:"userId"`
	Code         string          `json:"code"`
	Amount       decimal.Decimal `json:"amount"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
}

// TransactionHistory is an immutable settled event
type TransactionHistory struct {
	ID            int64           `json:"id"`
	Ref           string          `json:"ref,omitempty"`
	Type          TransactionType `json:"orderType"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Commission    decimal.Decimal `json:"commission"`
	SettledAmount decimal.Decimal `json:"settledAmount"`
	OrderTime     time.Time       `json:"orderTime"`
	CreatedAt     time.Time       `json:"completedTime"`
	UserID        int64           `json:"userId"`
	Code          string          `json:"code,omitempty"`
}

// Tick is an inbound market trade event. Side names the resting orders it matches.
type Tick struct {
	Code         string          `json:"code"`
	Side         Side            `json:"side"`
	TradePrice   decimal.Decimal `json:"tradePrice"`
	TradeVolume  decimal.Decimal `json:"tradeVolume"`
	SequentialID int64           `json:"sequentialId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Ticker is the latest price snapshot of an asset
type Ticker struct {
	Code             string          `json:"code"`
	TradePrice       decimal.Decimal `json:"tradePrice"`
	PrevClosingPrice decimal.Decimal `json:"prevClosingPrice"`
	ChangeRate       string          `json:"changeRate"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Coin is an asset known to the exchange
type Coin struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// CancelRefPrefix starts the ID of every cancellation settlement. Their
// history records summarize fills already recorded one by one.
const CancelRefPrefix = "cancel:"

// Settlement carries the cash and history effects of one settled event.
// ID is the idempotency key for both effects.
type Settlement struct {
	ID      string              `json:"id"`
	UserID  int64               `json:"userId"`
	Credit  decimal.Decimal     `json:"credit"`
	History *TransactionHistory `json:"history,omitempty"`
}

// RankEntry is one row of the ROI leaderboard
type RankEntry struct {
	Rank         int             `json:"rank"`
	UserID       int64           `json:"userId"`
	ROI          decimal.Decimal `json:"roi"`
	BidsTotal    decimal.Decimal `json:"bidsTotal"`
	AsksTotal    decimal.Decimal `json:"asksTotal"`
	CurrentValue decimal.Decimal `json:"currentValue"`
}

// HistoryFilter selects a page of a user's history, newest first.
// Zero values mean no constraint; Limit 0 means no limit.
type HistoryFilter struct {
	UserID int64
	Since  time.Time
	Type   TransactionType
	Code   string
	Limit  int
	Offset int
}
