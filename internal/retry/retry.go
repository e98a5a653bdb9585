// Package retry wraps a single part-transfer operation with bounded,
// fixed-interval retry.
//
// Each wrapped operation must be independently idempotent: re-issuing a GET
// for the same byte range, re-uploading the same part number, or re-writing
// the same file offset are all safe to repeat.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultPolicy matches the configuration defaults: three attempts, one
// second apart.
var DefaultPolicy = Policy{MaxAttempts: 3, Interval: time.Second}

// Policy bounds how often a part-transfer operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, counting the first.
	MaxAttempts uint

	// Interval is the fixed delay between attempts.
	Interval time.Duration
}

// Do runs op until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. It returns the last error and the number of attempts used.
func (p Policy) Do(ctx context.Context, op func() error) (uint, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var attempts uint
	counted := func() error {
		attempts++
		return op()
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(maxAttempts-1)),
		ctx,
	)

	err := backoff.Retry(counted, b)
	return attempts, err
}
