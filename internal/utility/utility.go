package utility

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// FormatLapTime renders seconds as mm:ss.SSS.
func FormatLapTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "--:--.---"
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf("%02d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

// sweepInterval bounds how often idle limiters are evicted.
const sweepInterval = time.Minute

// Limiters hands out one token bucket per client key. Buckets that have
// refilled completely carry no state and are evicted on a later call.
type Limiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clock     clockwork.Clock
	lastSweep time.Time
	limiters  map[string]*rate.Limiter
}

func NewLimiters(perSecond float64, burst int) *Limiters {
	return newLimiters(perSecond, burst, clockwork.NewRealClock())
}

func newLimiters(perSecond float64, burst int, clock clockwork.Clock) *Limiters {
	return &Limiters{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		clock:     clock,
		lastSweep: clock.Now(),
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (l *Limiters) Get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(key)
}

// Allow reports whether key may spend one token now.
func (l *Limiters) Allow(key string) bool {
	now := l.clock.Now()
	l.mu.Lock()
	l.sweepLocked(now)
	lim := l.getLocked(key)
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiters) getLocked(key string) *rate.Limiter {
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *Limiters) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval {
		return
	}
	l.lastSweep = now
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}
