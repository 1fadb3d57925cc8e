// Package retry runs provider calls with a per-call timeout and exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

type Policy struct {
	MaxAttempts int
	CallTimeout time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		CallTimeout: 60 * time.Second,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// Backoff returns the delay before attempt i+1.
func (p Policy) Backoff(i int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << i
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	return d
}

// Do calls op until it succeeds, returns an error retryable rejects, or the
// attempts run out. A call that hits its own timeout counts as retryable;
// cancellation of ctx stops immediately and returns ctx.Err().
func Do(ctx context.Context, p Policy, name string, retryable func(error) bool, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		err = call(ctx, p.CallTimeout, op)
		if err == nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if !errors.Is(err, context.DeadlineExceeded) && (retryable == nil || !retryable(err)) {
			return err
		}
		if i == attempts-1 {
			break
		}

		backoff := p.Backoff(i)
		klog.Warningf("[Retry] %s failed: attempt=%d/%d, err=%v, backoff=%v", name, i+1, attempts, err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}

func call(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(callCtx)
}
