package models

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientHoldings   = errors.New("insufficient holdings")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrNotOwner               = errors.New("not the order owner")
	ErrInvalidPeriod          = errors.New("invalid period")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidOrder           = errors.New("invalid order")
	ErrDataIntegrity          = errors.New("data integrity violation")
)

var (
	ErrAssetNotFound  = fmt.Errorf("asset %w", ErrNotFound)
	ErrOrderNotFound  = fmt.Errorf("order %w", ErrNotFound)
	ErrWalletNotFound = fmt.Errorf("wallet %w", ErrNotFound)
	ErrUserNotFound   = fmt.Errorf("user %w", ErrNotFound)
	ErrPriceNotFound  = fmt.Errorf("price %w", ErrNotFound)
)
