package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fastPolicy = RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	MaxElapsedTime:  200 * time.Millisecond,
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsBusy(errors.New("SQLITE_BUSY")))
	assert.False(t, IsBusy(errors.New("UNIQUE constraint failed")))
	assert.False(t, IsBusy(nil))
}

func TestWithRetry_RetriesBusy(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_PermanentErrorStopsImmediately(t *testing.T) {
	errConstraint := errors.New("constraint failed")
	calls := 0
	err := WithRetry(context.Background(), fastPolicy, func() error {
		calls++
		return errConstraint
	})

	assert.ErrorIs(t, err, errConstraint)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	err := WithRetry(context.Background(), fastPolicy, func() error {
		return errors.New("database is locked")
	})
	assert.Error(t, err)
	assert.True(t, IsBusy(err))
}
