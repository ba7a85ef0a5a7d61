package poller

import (
	"sync"
	"time"

	"github.com/denysvitali/ampeco-ha/ampeco"
)

const (
	DefaultChargingInterval = 30 * time.Second
	DefaultIdleInterval     = 5 * time.Minute
	DefaultMaxInterval      = 30 * time.Minute
)

// Intervals configure a Policy. Zero values fall back to the defaults.
type Intervals struct {
	Charging time.Duration
	Idle     time.Duration
	Max      time.Duration
}

func (i Intervals) withDefaults() Intervals {
	if i.Charging <= 0 {
		i.Charging = DefaultChargingInterval
	}
	if i.Idle <= 0 {
		i.Idle = DefaultIdleInterval
	}
	if i.Max <= 0 {
		i.Max = DefaultMaxInterval
	}
	if i.Max < i.Idle {
		i.Max = i.Idle
	}
	if i.Max < i.Charging {
		i.Max = i.Charging
	}
	return i
}

// Diagnostics is a read-only view of a Policy.
type Diagnostics struct {
	Interval   time.Duration
	ErrorCount int
	Charging   bool
}

// Policy decides how long to wait before the next poll. It polls fast while
// a charger is charging and slowly otherwise, and backs off exponentially
// on consecutive failures: min(base * 2^errors, max).
type Policy struct {
	intervals Intervals

	mu       sync.Mutex
	charging bool
	errors   int
	interval time.Duration
}

func NewPolicy(intervals Intervals) *Policy {
	intervals = intervals.withDefaults()
	return &Policy{
		intervals: intervals,
		interval:  intervals.Idle,
	}
}

// Next records the outcome of a poll and returns the delay until the next
// one. A nil err means state was fetched successfully.
func (p *Policy) Next(state *ampeco.ChargerState, err error) time.Duration {
	if err != nil {
		return p.Failure()
	}
	return p.Success(state.IsCharging())
}

func (p *Policy) Success(charging bool) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charging = charging
	p.errors = 0
	p.interval = p.base()
	return p.interval
}

// Failure keeps the last known charging state as the base.
func (p *Policy) Failure() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
	p.interval = backoff(p.base(), p.errors, p.intervals.Max)
	return p.interval
}

// Reset clears the error count without changing the charging state.
func (p *Policy) Reset() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = 0
	p.interval = p.base()
	return p.interval
}

func (p *Policy) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Policy) ErrorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors
}

func (p *Policy) Diagnostics() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Diagnostics{
		Interval:   p.interval,
		ErrorCount: p.errors,
		Charging:   p.charging,
	}
}

func (p *Policy) Intervals() Intervals {
	return p.intervals
}

func (p *Policy) base() time.Duration {
	if p.charging {
		return p.intervals.Charging
	}
	return p.intervals.Idle
}

func backoff(base time.Duration, errors int, max time.Duration) time.Duration {
	d := base
	for i := 0; i < errors && d < max; i++ {
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
