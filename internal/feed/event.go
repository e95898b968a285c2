// Package feed turns market data messages into trade ticks for the matching
// engine and ticker snapshots for the price cache.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/coinex/internal/commission"
	"github.com/xtrntr/coinex/internal/models"
)

var (
	// ErrUnsupported is returned for message types the exchange ignores
	ErrUnsupported = errors.New("feed: unsupported message type")
	// ErrMalformed is returned for messages that can never be handled
	ErrMalformed = errors.New("feed: malformed market message")
)

// Event is a parsed market message: TradeEvent or TickerEvent
type Event interface {
	isEvent()
}

// TradeEvent reports an executed trade
type TradeEvent struct {
	Tick models.Tick
}

// TickerEvent reports the latest price of an asset
type TickerEvent struct {
	Ticker models.Ticker
}

func (TradeEvent) isEvent()  {}
func (TickerEvent) isEvent() {}

// message is the Upbit websocket format, also used on the Kafka topic
type message struct {
	Type             string          `json:"type"`
	Code             string          `json:"code"`
	TradePrice       decimal.Decimal `json:"trade_price"`
	TradeVolume      decimal.Decimal `json:"trade_volume"`
	AskBid           string          `json:"ask_bid"`
	PrevClosingPrice decimal.Decimal `json:"prev_closing_price"`
	SequentialID     int64           `json:"sequential_id"`
	Timestamp        int64           `json:"timestamp"`
}

// Parse decodes one raw message
func Parse(raw []byte) (Event, error) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Code == "" {
		return nil, fmt.Errorf("%w: no code", ErrMalformed)
	}
	ts := time.UnixMilli(m.Timestamp)

	switch m.Type {
	case "trade":
		side, err := models.ParseSide(m.AskBid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !m.TradePrice.IsPositive() || !m.TradeVolume.IsPositive() {
			return nil, fmt.Errorf("%w: trade %s with non-positive price or volume", ErrMalformed, m.Code)
		}
		return TradeEvent{Tick: models.Tick{
			Code:         m.Code,
			Side:         side,
			TradePrice:   m.TradePrice,
			TradeVolume:  m.TradeVolume,
			SequentialID: m.SequentialID,
			Timestamp:    ts,
		}}, nil
	case "ticker":
		return TickerEvent{Ticker: models.Ticker{
			Code:             m.Code,
			TradePrice:       m.TradePrice,
			PrevClosingPrice: m.PrevClosingPrice,
			ChangeRate:       commission.ChangeRate(m.TradePrice, m.PrevClosingPrice),
			Timestamp:        ts,
		}}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, m.Type)
}
