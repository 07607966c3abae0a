package structured

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Budget enforces a per-minute token bucket plus a per-day counter
// that resets at UTC midnight, matching the spec's fail-fast rate
// discipline (e.g. 5/min & 25/day, or 60/min alone). When the budget
// is exhausted, Allow returns false immediately; callers never queue.
type Budget struct {
	perMinute *rate.Limiter

	mu          sync.Mutex
	dailyLimit  int
	dailyUsed   int
	dailyResetAt time.Time
}

// NewBudget builds a Budget. perMinute <= 0 disables the per-minute
// limit; dailyLimit <= 0 disables the per-day limit.
func NewBudget(perMinute int, dailyLimit int) *Budget {
	b := &Budget{dailyLimit: dailyLimit}
	if perMinute > 0 {
		b.perMinute = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}
	b.dailyResetAt = nextUTCMidnight(time.Now())
	return b
}

func nextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// Allow reports whether a call may proceed right now, consuming
// budget if so. It never blocks.
func (b *Budget) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !now.Before(b.dailyResetAt) {
		b.dailyUsed = 0
		b.dailyResetAt = nextUTCMidnight(now)
	}

	if b.dailyLimit > 0 && b.dailyUsed >= b.dailyLimit {
		return false
	}
	if b.perMinute != nil && !b.perMinute.Allow() {
		return false
	}

	b.dailyUsed++
	return true
}
