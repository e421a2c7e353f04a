package inventory

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/namhbcf1/kho1-sub001/internal/datastore"
)

// RetryOnConflict runs fn until it succeeds or returns something other
// than a version conflict, re-running at most attempts times with an
// exponentially growing, jittered delay between runs. Each run starts
// from fresh reads, so the loser of a version race picks up the winner's
// state on the next pass.
func RetryOnConflict(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Millisecond
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !errors.Is(err, datastore.ErrConflict) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := base << attempt
		delay += time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
