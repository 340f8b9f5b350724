package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/1ureka/pairline/internal/util"
)

// RetryPolicy bounds how often a failed send is repeated. The zero value
// tries exactly once.
type RetryPolicy struct {
	Retries    int           // extra attempts after the first failure
	Delay      time.Duration // wait before the first retry
	Multiplier float64       // delay growth per retry; values <= 1 keep it fixed
}

// DefaultRetryPolicy retries once after one second.
var DefaultRetryPolicy = RetryPolicy{Retries: 1, Delay: time.Second, Multiplier: 1}

// Do calls fn until it succeeds or the retries are used up, returning the
// last error. Cancelling ctx aborts the wait between attempts.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	delay := p.Delay

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= p.Retries {
			return err
		}

		util.Stats.AddSignalRetry()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		}

		if p.Multiplier > 1 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
}
