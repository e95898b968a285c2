// Package commission holds the pricing math used when orders settle.
// Every function is pure and safe for concurrent use.
package commission

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/coinex/internal/models"
)

// Rate is the commission charged on the notional value of a settlement
var Rate = decimal.RequireFromString("0.0005")

// ErrZeroAmount is returned when averaging over an empty position
var ErrZeroAmount = errors.New("cost basis over zero total amount")

var hundred = decimal.NewFromInt(100)

// CostBasisAverage returns the weighted average price after adding
// addedAmount at addedPrice to heldAmount at heldPrice, rounded half-up to 2 places.
func CostBasisAverage(heldPrice, heldAmount, addedPrice, addedAmount decimal.Decimal) (decimal.Decimal, error) {
	total := heldAmount.Add(addedAmount)
	if total.IsZero() {
		return decimal.Zero, ErrZeroAmount
	}
	cost := heldPrice.Mul(heldAmount).Add(addedPrice.Mul(addedAmount))
	return cost.DivRound(total, 2), nil
}

// BuyTotalWithCommission is the cash debited from a buyer: price*amount*(1+Rate)
func BuyTotalWithCommission(price, amount decimal.Decimal) decimal.Decimal {
	return price.Mul(amount).Mul(decimal.NewFromInt(1).Add(Rate))
}

// SellNetOfCommission is the cash credited to a seller: price*amount*(1-Rate)
func SellNetOfCommission(price, amount decimal.Decimal) decimal.Decimal {
	return price.Mul(amount).Mul(decimal.NewFromInt(1).Sub(Rate))
}

// OrderCommission is the fee recorded in history, rounded half-up to 2 places.
// It is computed independently of the gross and net totals above.
func OrderCommission(price, amount decimal.Decimal) decimal.Decimal {
	return price.Mul(amount).Mul(Rate).Round(2)
}

// SettledAmount is the net cash effect recorded for a fill: buyers pay the
// commission on top, sellers have it taken out.
func SettledAmount(t models.TransactionType, total, fee decimal.Decimal) decimal.Decimal {
	switch t {
	case models.TransactionBid:
		return total.Add(fee)
	case models.TransactionAsk, models.TransactionSwap:
		return total.Sub(fee)
	case models.TransactionDeposit:
		return total
	}
	panic("unknown transaction type " + string(t))
}

// ChangeRate formats the signed percentage change from prevClose to price,
// e.g. "+1.25%" or "-0.40%".
func ChangeRate(price, prevClose decimal.Decimal) string {
	if prevClose.IsZero() {
		return "0.00%"
	}
	rate := price.Sub(prevClose).Mul(hundred).DivRound(prevClose, 2)
	sign := ""
	if rate.IsPositive() {
		sign = "+"
	}
	return sign + rate.StringFixed(2) + "%"
}
