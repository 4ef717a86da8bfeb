package tt

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryWithBackOff runs fn until it succeeds or the backoff gives up.
// Options tweak the default exponential policy.
func RetryWithBackOff(fn func() error, options ...func(*backoff.ExponentialBackOff)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	for _, option := range options {
		option(b)
	}
	return backoff.Retry(fn, b)
}
