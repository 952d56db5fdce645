package countdown

import (
	"fmt"
	"sync"
	"time"
)

const DefaultTick = time.Second

type Option func(*Countdown)

// WithTick sets how often the remaining time is displayed and the deadline checked.
func WithTick(d time.Duration) Option {
	return func(c *Countdown) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Countdown) {
		if now != nil {
			c.now = now
		}
	}
}

// Countdown counts down to a deadline. It moves from running to stopped
// exactly once, either on Stop or when the deadline passes.
type Countdown struct {
	deadline  time.Time
	tick      time.Duration
	now       func() time.Time
	display   func(remaining string)
	onTimeout func()

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// Start begins counting down to deadline. display receives the remaining
// time as mm:ss on every tick and must not call Stop. onTimeout runs once when
// the deadline is reached, unless Stop was called first.
func Start(deadline time.Time, display func(remaining string), onTimeout func(), opts ...Option) *Countdown {
	c := &Countdown{
		deadline:  deadline,
		tick:      DefaultTick,
		now:       time.Now,
		display:   display,
		onTimeout: onTimeout,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

func (c *Countdown) run() {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	if c.step() {
		return
	}
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.step() {
				return
			}
		}
	}
}

// step reports whether the countdown is finished.
func (c *Countdown) step() bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return true
	}
	remaining := c.deadline.Sub(c.now())
	if remaining <= 0 {
		c.stopped = true
		close(c.done)
		c.mu.Unlock()
		if c.onTimeout != nil {
			c.onTimeout()
		}
		return true
	}
	if c.display != nil {
		c.display(Format(remaining))
	}
	c.mu.Unlock()
	return false
}

// Stop halts the countdown. Calling it again has no effect.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.done)
}

func (c *Countdown) HasStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Done is closed once the countdown has stopped.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) Deadline() time.Time {
	return c.deadline
}

func (c *Countdown) Remaining() time.Duration {
	remaining := c.deadline.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Format renders d as mm:ss, truncated to whole seconds.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
