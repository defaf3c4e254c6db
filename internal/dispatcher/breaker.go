package dispatcher

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Breaker pauses delivery after consecutive send failures, so a dead
// channel is not hammered every pass.
type Breaker struct {
	mu sync.Mutex

	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	consecutiveFailures int
	tripped             bool
	trippedAt           time.Time
}

// NewBreaker trips after maxFailures consecutive failures and stays open
// for cooldown. maxFailures <= 0 disables it.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a send may be attempted.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return true
	}
	if b.now().Sub(b.trippedAt) >= b.cooldown {
		b.tripped = false
		b.consecutiveFailures = 0
		log.Info().Msg("✅ Delivery breaker reset after cooldown")
		return true
	}
	return false
}

// RecordFailure counts a failed send and trips the breaker at the limit.
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.maxFailures > 0 && !b.tripped && b.consecutiveFailures >= b.maxFailures {
		b.tripped = true
		b.trippedAt = b.now()
		log.Warn().
			Int("consecutive_failures", b.consecutiveFailures).
			Dur("cooldown", b.cooldown).
			Msg("🚨 Delivery breaker tripped")
	}
}

// RecordSuccess resets the failure streak.
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// IsTripped returns the current trip state.
func (b *Breaker) IsTripped() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}
