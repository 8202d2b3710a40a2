package wizard

// Countdown is the quote-lock timer. It is purely tick-driven: the session
// runtime calls Tick once per second, so behavior is deterministic under test.
//
// Freezing is a one-way latch: once a payment is detected the remaining time
// is forced to zero without counting as an expiry, and the timer never
// resumes.
type Countdown struct {
	remaining int
	frozen    bool
	fired     bool
	onExpiry  func()
}

func NewCountdown(seconds int, onExpiry func()) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{remaining: seconds, onExpiry: onExpiry}
}

// Tick advances the timer by one second. The expiry callback fires exactly
// once when the remaining time reaches zero; duplicate ticks after that are
// no-ops.
func (c *Countdown) Tick() {
	if c.frozen || c.remaining == 0 {
		return
	}
	c.remaining--
	if c.remaining == 0 && !c.fired {
		c.fired = true
		if c.onExpiry != nil {
			c.onExpiry()
		}
	}
}

// Freeze stops the timer permanently, forcing remaining to zero without
// treating it as an expiry.
func (c *Countdown) Freeze() {
	c.frozen = true
	c.remaining = 0
}

// Reset re-arms the timer for a new quote. A frozen timer stays frozen.
func (c *Countdown) Reset(seconds int) {
	if c.frozen {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	c.remaining = seconds
	c.fired = false
}

func (c *Countdown) Remaining() int { return c.remaining }

func (c *Countdown) Frozen() bool { return c.frozen }

// Expired reports whether the timer ran down to zero (as opposed to being frozen).
func (c *Countdown) Expired() bool { return c.fired }
