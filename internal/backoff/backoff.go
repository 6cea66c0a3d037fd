// Package backoff is the bounded-retry policy the services apply to
// persistence calls before surfacing a PersistenceError.
package backoff

import (
	"context"
	"time"
)

type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Do runs fn up to Attempts times, sleeping Delay (doubled each attempt)
// between failures. The last error is returned once attempts are exhausted.
// Cancellation of ctx stops the retries, never an in-flight fn.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Delay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
