package helpers

import (
	"context"
	"time"

	"github.com/juju/errors"
)

var ErrStopped = errors.New("stopped")

func IntSecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Second
}

func IntMillisecondDefault(x int, def time.Duration) time.Duration {
	if x == 0 {
		return def
	}
	return time.Duration(x) * time.Millisecond
}

// SleepStop blocks for d or until stopCh is closed or ctx done.
// Returns nil only if full duration elapsed.
func SleepStop(ctx context.Context, d time.Duration, stopCh <-chan struct{}) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrStopped
	}
}
