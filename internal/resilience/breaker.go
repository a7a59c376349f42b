package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// ErrorThreshold is the error percentage (0-100) over the rolling window
	// that trips the circuit.
	ErrorThreshold float64
	// MinSamples is the minimum request count before the threshold applies.
	MinSamples int
	// Window is the rolling window length for the error percentage.
	Window time.Duration
	// ResetTimeout is how long the circuit stays OPEN before allowing one
	// trial call.
	ResetTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 50
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	return c
}

type outcome struct {
	at time.Time
	ok bool
}

// Breaker is a three-state circuit breaker shared across all concurrent job
// executions that hit one downstream dependency. State mutation happens under
// the mutex; OnStateChange fires outside it.
type Breaker struct {
	name string
	cfg  BreakerConfig

	// OnStateChange, if set, observes transitions for logging/metrics.
	OnStateChange func(name string, from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	window   []outcome
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker constructs a closed breaker for the named dependency.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: BreakerClosed,
		now:   time.Now,
	}
}

// State returns the current circuit position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Acquire asks permission to make a call. While OPEN it declines until the
// reset timeout elapses, then admits exactly one trial call in HALF_OPEN.
func (b *Breaker) Acquire() bool {
	b.mu.Lock()
	switch b.state {
	case BreakerClosed:
		b.mu.Unlock()
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return false
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		b.mu.Unlock()
		return true
	case BreakerHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false
		}
		b.probing = true
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()
	return false
}

// Record reports the outcome of a call admitted by Acquire.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	now := b.now()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if success {
			b.window = nil
			b.transition(BreakerClosed)
		} else {
			b.openedAt = now
			b.transition(BreakerOpen)
		}
		b.mu.Unlock()
		return
	}

	b.window = append(b.window, outcome{at: now, ok: success})
	b.prune(now)

	total := len(b.window)
	if b.state == BreakerClosed && total >= b.cfg.MinSamples {
		failures := 0
		for _, o := range b.window {
			if !o.ok {
				failures++
			}
		}
		pct := float64(failures) / float64(total) * 100
		if pct > b.cfg.ErrorThreshold {
			b.openedAt = now
			b.transition(BreakerOpen)
		}
	}
	b.mu.Unlock()
}

// prune drops outcomes older than the rolling window. Caller holds the mutex.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.window) && b.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.window = b.window[i:]
	}
}

// transition flips state and schedules the observer. Caller holds the mutex.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnStateChange != nil {
		go b.OnStateChange(b.name, from, to)
	}
}
