package history

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/coinex/internal/commission"
	"github.com/xtrntr/coinex/internal/models"
)

// NewOrderRecord snapshots a settled fill of amount at price
func NewOrderRecord(o *models.Order, amount, price decimal.Decimal, ref string, now time.Time) *models.TransactionHistory {
	typ := o.Side.TransactionType()
	total := price.Mul(amount)
	fee := commission.OrderCommission(price, amount)
	return &models.TransactionHistory{
		Ref:           ref,
		Type:          typ,
		Amount:        amount,
		Price:         price,
		TotalAmount:   total,
		Commission:    fee,
		SettledAmount: commission.SettledAmount(typ, total, fee),
		OrderTime:     o.OrderTime,
		CreatedAt:     now,
		UserID:        o.UserID,
		Code:          o.Code,
	}
}

// NewSwapRecord snapshots the given leg of a swap
func NewSwapRecord(userID int64, givenCode string, givenAmount, givenPrice, fee decimal.Decimal, ref string, now time.Time) *models.TransactionHistory {
	total := givenAmount.Mul(givenPrice)
	return &models.TransactionHistory{
		Ref:           ref,
		Type:          models.TransactionSwap,
		Amount:        givenAmount,
		Price:         givenPrice,
		TotalAmount:   total,
		Commission:    fee,
		SettledAmount: commission.SettledAmount(models.TransactionSwap, total, fee),
		OrderTime:     now,
		CreatedAt:     now,
		UserID:        userID,
		Code:          givenCode,
	}
}

// NewDepositRecord snapshots a cash deposit
func NewDepositRecord(userID int64, amount decimal.Decimal, ref string, now time.Time) *models.TransactionHistory {
	return &models.TransactionHistory{
		Ref:           ref,
		Type:          models.TransactionDeposit,
		Amount:        amount,
		Price:         decimal.Zero,
		TotalAmount:   amount,
		Commission:    decimal.Zero,
		SettledAmount: amount,
		OrderTime:     now,
		CreatedAt:     now,
		UserID:        userID,
	}
}
