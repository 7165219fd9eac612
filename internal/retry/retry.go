package retry

import (
	"context"
	"log"
	"time"
)

// Policy bounds how many times a remote call is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// Sleep waits between attempts. Nil means a context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Attempt calls produce until it succeeds or the policy's attempts are used
// up. It returns the produced value and true, or fallback and false. The
// delay is only observed between attempts, never after the last one.
func Attempt[T any](ctx context.Context, p Policy, label string, produce func(ctx context.Context) (T, error), fallback T) (T, bool) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			log.Printf("%s cancelled before attempt %d: %v", label, i, err)
			return fallback, false
		}

		v, err := produce(ctx)
		if err == nil {
			return v, true
		}
		log.Printf("%s failed (attempt %d/%d): %v", label, i, attempts, err)

		if i == attempts {
			break
		}
		if p.Delay > 0 {
			log.Printf("Retrying in %s...", p.Delay)
			if err := sleep(ctx, p.Delay); err != nil {
				return fallback, false
			}
		}
	}

	log.Printf("%s failed after %d attempts", label, attempts)
	return fallback, false
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
