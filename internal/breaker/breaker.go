// Package breaker guards calls to the messaging bridge.
//
// State is process-local: each instance tracks the health of its own bridge
// connection. Reset returns a breaker to its start-of-process state.
package breaker

import (
	"encoding/json"
	"sync"
	"time"
)

type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// Window bounds how far apart consecutive failures may be and still count
	// towards the threshold. Zero disables the window.
	Window   time.Duration
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
	}
}

type Breaker struct {
	cfg Config
	now func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	firstFailureAt time.Time
	openedAt       time.Time
	transitionAt   time.Time
	trialInFlight  bool
}

type Option func(*Breaker)

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Window < 0 {
		cfg.Window = 0
	}

	b := &Breaker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	b.Reset()
	return b
}

// Allow reports whether a call may proceed. In HALF_OPEN only one trial call
// is admitted until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.transition(HalfOpen)
		b.trialInFlight = true
		return true
	case HalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// Abandon returns a trial admitted by Allow that was never attempted, so the
// next caller may take it.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trialInFlight = false
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	if b.state != Closed {
		b.transition(Closed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == HalfOpen {
		b.trip(now)
		return
	}

	if b.failures == 0 || (b.cfg.Window > 0 && now.Sub(b.firstFailureAt) > b.cfg.Window) {
		b.failures = 0
		b.firstFailureAt = now
	}
	b.failures++

	if b.state == Closed && b.failures >= b.cfg.FailureThreshold {
		b.trip(now)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = 0
	b.firstFailureAt = time.Time{}
	b.openedAt = time.Time{}
	b.trialInFlight = false
	b.transitionAt = b.now()
}

type Snapshot struct {
	State            State      `json:"state"`
	Failures         int        `json:"failures"`
	FailureThreshold int        `json:"failureThreshold"`
	LastTransitionAt time.Time  `json:"lastTransitionAt"`
	OpenedAt         *time.Time `json:"openedAt,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		State:            b.state,
		Failures:         b.failures,
		FailureThreshold: b.cfg.FailureThreshold,
		LastTransitionAt: b.transitionAt,
	}
	if b.state != Closed {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}

func (b *Breaker) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

func (b *Breaker) trip(now time.Time) {
	b.openedAt = now
	b.trialInFlight = false
	b.transition(Open)
}

func (b *Breaker) transition(to State) {
	b.state = to
	b.transitionAt = b.now()
}
