package app

import (
	"sync"
	"sync/atomic"
	"time"
)

// Ticker is the subset of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the production TickerFunc.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Countdown decrements a remaining-seconds value once per tick and expires at zero.
// onTick receives the elapsed seconds after each decrement; onExpire runs once when
// remaining reaches zero. Neither callback runs with the countdown's lock held.
type Countdown struct {
	total    int
	ticker   Ticker
	onTick   func(elapsed int)
	onExpire func()

	mu        sync.Mutex
	remaining int
	stopped   bool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	expiring atomic.Bool
}

// NewCountdown prepares a countdown of total seconds resuming at remaining. remaining is
// clamped to [0, total]. Call Start to begin ticking.
func NewCountdown(total, remaining int, ticker Ticker, onTick func(elapsed int), onExpire func()) *Countdown {
	if remaining > total {
		remaining = total
	}
	if remaining < 0 {
		remaining = 0
	}
	if onTick == nil {
		onTick = func(int) {}
	}
	if onExpire == nil {
		onExpire = func() {}
	}
	return &Countdown{
		total:     total,
		remaining: remaining,
		ticker:    ticker,
		onTick:    onTick,
		onExpire:  onExpire,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop. A countdown resumed at zero expires without ticking.
func (c *Countdown) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run()
}

func (c *Countdown) run() {
	defer close(c.done)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.remaining <= 0 {
		c.stopped = true
		c.mu.Unlock()
		c.expire()
		return
	}
	c.mu.Unlock()

	for {
		select {
		case <-c.quit:
			return
		case <-c.ticker.C():
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			c.remaining--
			elapsed := c.total - c.remaining
			expired := c.remaining <= 0
			if expired {
				c.remaining = 0
				c.stopped = true
			}
			c.mu.Unlock()

			c.onTick(elapsed)
			if expired {
				c.expire()
				return
			}
		}
	}
}

func (c *Countdown) expire() {
	c.ticker.Stop()
	c.expiring.Store(true)
	c.onExpire()
}

// Stop cancels the countdown. It is idempotent and, except when called from onExpire,
// returns only after any in-flight tick has finished.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.quit)
		c.ticker.Stop()
	})
	if c.expiring.Load() || !c.started.Load() {
		return
	}
	<-c.done
}

// Expiring reports whether the countdown reached zero and handed over to onExpire.
func (c *Countdown) Expiring() bool {
	return c.expiring.Load()
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Elapsed returns total minus remaining.
func (c *Countdown) Elapsed() int {
	return c.total - c.Remaining()
}

// ResumeRemaining computes the seconds left for a draft that already used elapsed seconds.
func ResumeRemaining(total, elapsed int) int {
	remaining := total - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > total {
		return total
	}
	return remaining
}
