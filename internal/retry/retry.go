// Package retry runs store operations with exponential backoff, giving up
// immediately on errors that another attempt cannot fix.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/xtrntr/coinex/internal/models"
)

// Policy bounds how long an operation is retried
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxTries        uint
}

// DefaultPolicy suits calls to Redis and Postgres on the settlement path
var DefaultPolicy = Policy{
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsed:      30 * time.Second,
	MaxTries:        8,
}

// Permanent reports whether err is a domain outcome rather than a transient failure
func Permanent(err error) bool {
	return errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrDataIntegrity) ||
		errors.Is(err, models.ErrInsufficientBalance) ||
		errors.Is(err, models.ErrInsufficientHoldings) ||
		errors.Is(err, models.ErrInvalidOrder) ||
		errors.Is(err, models.ErrNotOwner) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Do runs op until it succeeds, fails permanently or the policy runs out.
// notify, when set, is called before each wait.
func Do(ctx context.Context, p Policy, op func() error, notify func(err error, wait time.Duration)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && Permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)
	return err
}
