package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xtrntr/coinex/internal/models"
)

var fast = Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: time.Second, MaxTries: 4}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return fmt.Errorf("wrapped: %w", models.ErrDataIntegrity)
	}, nil)
	assert.ErrorIs(t, err, models.ErrDataIntegrity)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUp(t *testing.T) {
	calls := 0
	waits := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		return errors.New("timeout")
	}, func(error, time.Duration) { waits++ })
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, waits)
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{models.ErrOrderNotFound, true},
		{models.ErrInsufficientBalance, true},
		{models.ErrDataIntegrity, true},
		{context.Canceled, true},
		{errors.New("i/o timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Permanent(tt.err))
		})
	}
}
