package server

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// loginRateLimiter tracks failed user logins per normalised login and
// enforces exponential lockout.
type loginRateLimiter struct {
	clock    clock.Clock
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures   = 5
	baseLockout   = time.Minute
	maxLockout    = 15 * time.Minute
	attemptExpiry = time.Hour
)

func newLoginRateLimiter(c clock.Clock) *loginRateLimiter {
	return &loginRateLimiter{clock: c, attempts: make(map[string]*attemptRecord)}
}

// check reports whether login is locked out and for how long.
func (rl *loginRateLimiter) check(login string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[login]
	if !ok {
		return false, 0
	}
	now := rl.clock.Now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, login)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *loginRateLimiter) recordFailure(login string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[login]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[login] = rec
	}
	now := rl.clock.Now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= maxFailures {
		lockout := baseLockout
		for i := 0; i < rec.failures-maxFailures; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *loginRateLimiter) recordSuccess(login string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, login)
}
