package politeness

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Jitter sleeps a uniformly random interval in [min, max] before each fetch.
// Each worker owns its own Jitter, so random sources are never shared.
type Jitter struct {
	min   time.Duration
	max   time.Duration
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// NewJitter builds a Jitter seeded from seed. min > max is swapped.
func NewJitter(minDelay, maxDelay time.Duration, seed uint64) *Jitter {
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	minDelay = max(minDelay, 0)
	maxDelay = max(maxDelay, 0)
	return &Jitter{
		min:   minDelay,
		max:   maxDelay,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sleep: sleepContext,
	}
}

// Next draws the next delay.
func (j *Jitter) Next() time.Duration {
	span := j.max - j.min
	if span <= 0 {
		return j.min
	}
	return j.min + time.Duration(j.rng.Int64N(int64(span)+1))
}

// Wait blocks for the next delay or until ctx ends.
func (j *Jitter) Wait(ctx context.Context) error {
	return j.sleep(ctx, j.Next())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pause canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
