// Package retry is a caller-side helper for retrying a RefineDB query
// execution after a TransactionConflict (spec §5: "the VM is deterministic
// given inputs and snapshot, so retry is safe"). The VM itself never
// retries internally; only a caller wrapping Evaluator.Run decides to.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"refinedb/errs"
	"refinedb/kv"
)

// Options configures the retry policy.
type Options struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultOptions is a conservative exponential backoff: a handful of quick
// retries for the common case of transient writer contention.
func DefaultOptions() Options {
	return Options{MaxAttempts: 5, InitialInterval: 10 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

// Do runs fn, retrying it while it fails with kv.ErrConflict, up to
// opts.MaxAttempts times with exponential backoff. Any other error returns
// immediately without retrying.
func Do(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.InitialInterval
	policy.MaxInterval = opts.MaxInterval

	attempts := 0
	operation := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errs.Is(err, errs.TransactionConflict) && !isConflict(err) {
			return backoff.Permanent(err)
		}
		if attempts >= opts.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func isConflict(err error) bool {
	for err != nil {
		if err == kv.ErrConflict {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
