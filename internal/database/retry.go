package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked")
}

// RetryPolicy bounds how long a contended write keeps retrying.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy is used by repositories that write from both the engine and the API.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 10 * time.Millisecond,
	MaxInterval:     200 * time.Millisecond,
	MaxElapsedTime:  2 * time.Second,
}

// WithRetry runs fn until it succeeds, fails with a non-busy error, or the
// policy gives up. fn must be safe to run more than once.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.MaxElapsedTime = policy.MaxElapsedTime

	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if IsBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
