package gtdlog

import (
	"fmt"
	"time"
)

// LeakyBucket is an integer-capacity token bucket with continuous refill.
// Consume either removes one token or fails with ErrRateLimited; the
// fractional part of the refill owed at each call is carried forward so the
// long-run rate never exceeds capacity/refillInterval.
type LeakyBucket struct {
	capacity       int
	refillInterval time.Duration
	now            func() time.Time

	fillLevel int
	lastFill  time.Time
}

// NewLeakyBucket builds a bucket starting full, refilling continuously at
// capacity/refillInterval.
func NewLeakyBucket(refillInterval time.Duration, capacity int) *LeakyBucket {
	return newLeakyBucket(refillInterval, capacity, time.Now)
}

func newLeakyBucket(refillInterval time.Duration, capacity int, now func() time.Time) *LeakyBucket {
	return &LeakyBucket{
		capacity:       capacity,
		refillInterval: refillInterval,
		now:            now,
		fillLevel:      capacity,
		lastFill:       now(),
	}
}

// Consume removes one token, refilling first. It returns ErrRateLimited if
// no whole token is available, leaving the fractional carry intact for the
// next call.
func (b *LeakyBucket) Consume() error {
	now := b.now()
	elapsed := now.Sub(b.lastFill).Seconds()
	drops := elapsed / b.refillInterval.Seconds()

	wholeDrops := int(drops)
	if b.fillLevel+wholeDrops > b.capacity {
		wholeDrops = b.capacity - b.fillLevel
	}
	b.fillLevel += wholeDrops

	partial := drops - float64(int(drops))
	b.lastFill = now.Add(-time.Duration(partial * float64(b.refillInterval)))

	if b.fillLevel == 0 {
		return fmt.Errorf("%w", ErrRateLimited)
	}
	b.fillLevel--
	return nil
}
