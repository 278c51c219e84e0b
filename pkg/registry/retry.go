package registry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/upackio/upack/pkg/errors"
)

const (
	retryInterval = 3 * time.Second
	retryAttempts = 1000
)

// retry runs task until it succeeds, fails with something other than
// REGISTRY_LOCKED, or the retry budget runs out. Lock contention is the
// only transient condition in this system, so everything else fails fast.
func (r Registry) retry(ctx context.Context, task func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), retryAttempts),
		ctx,
	)

	return backoff.Retry(func() error {
		err := task()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.ErrCodeRegistryLocked) {
			return backoff.Permanent(err)
		}
		r.log("%s, waiting...", errors.UserMessage(err))
		return err
	}, policy)
}

// Retry exposes the registry's contention policy for operations composed
// outside the registry, such as cache-slot claims during resolution.
func (r Registry) Retry(ctx context.Context, task func() error) error {
	return r.retry(ctx, task)
}
