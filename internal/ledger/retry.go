package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
)

// RetryPolicy bounds re-delivery of an idempotent ledger operation.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

var DefaultRetry = RetryPolicy{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxTries:        8,
}

// Retry re-delivers op until it succeeds. op must reuse the same operation
// id on every attempt. Classified errors other than integrity failures are
// not retried: the ledger answered, and asking again gives the same answer.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		var classified *apperr.Error
		if errors.As(err, &classified) && classified.Kind != apperr.KindIntegrity {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	return err
}

// CompensateTimeout bounds a compensating operation once it is detached from
// the caller.
const CompensateTimeout = 30 * time.Second

// Compensate delivers op with Retry under a context that keeps ctx's values
// but not its cancellation. Refunds use it: the money has already moved, so
// a caller that went away must not strand it.
func Compensate(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CompensateTimeout)
	defer cancel()
	return Retry(ctx, p, op)
}
