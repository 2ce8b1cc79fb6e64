package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedChats caps the number of per-chat limiters kept in memory.
	maxTrackedChats = 4096

	// idleLimiterTTL is how long an unused limiter is kept before pruning.
	idleLimiterTTL = 10 * time.Minute
)

type chatLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// SendLimiter paces outbound messages per chat so a burst of replies in one
// conversation cannot trip network flood limits. Safe for concurrent use.
type SendLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*chatLimiter
}

// NewSendLimiter allows perSecond messages per chat with the given burst.
// A non-positive perSecond disables pacing.
func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &SendLimiter{limit: limit, burst: burst, limiters: make(map[string]*chatLimiter)}
}

// Wait blocks until key may send, or ctx is done.
func (s *SendLimiter) Wait(ctx context.Context, key string) error {
	return s.get(key).Wait(ctx)
}

func (s *SendLimiter) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if len(s.limiters) >= maxTrackedChats {
		for k, l := range s.limiters {
			if now.Sub(l.lastUsed) >= idleLimiterTTL {
				delete(s.limiters, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(s.limiters) >= maxTrackedChats {
			for k := range s.limiters {
				delete(s.limiters, k)
				break
			}
		}
	}

	l, ok := s.limiters[key]
	if !ok {
		l = &chatLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = l
	}
	l.lastUsed = now
	return l.limiter
}
