package humanize

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is the random source consumed by the policy helpers.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a goroutine-safe source with a fixed seed. Tests use it to
// get reproducible typing sequences.
func NewRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewProcessRand returns a goroutine-safe source seeded from the clock.
func NewProcessRand() Rand {
	return NewRand(uint64(time.Now().UnixNano()))
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Between returns a uniform integer in [lo, hi]. If hi <= lo it returns lo.
func Between(r Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to Sleeper.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleep blocks on a timer.
var RealSleep SleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
