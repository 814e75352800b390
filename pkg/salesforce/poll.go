package salesforce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultPollTimeout bounds how long job polling loops wait before giving
// up with an OperationError.
const DefaultPollTimeout = 24 * time.Hour

var errNotFinished = errors.New("job not finished")

// pollUntil invokes check on an exponential schedule until it reports the
// job finished, fails, or timeout elapses. check returns (true, nil) when
// the job reached a terminal state; a non-nil error stops polling
// immediately. A zero timeout uses DefaultPollTimeout.
func pollUntil(ctx context.Context, initialInterval, maxInterval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = initialInterval
	schedule.MaxInterval = maxInterval
	schedule.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		finished, err := check(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !finished {
			return struct{}{}, errNotFinished
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(schedule), backoff.WithMaxElapsedTime(timeout))

	if errors.Is(err, errNotFinished) {
		return &OperationError{Message: fmt.Sprintf("job did not finish within %s", timeout)}
	}
	return err
}
