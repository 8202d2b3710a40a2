package wizard

import "testing"

func TestCountdownTickDecrements(t *testing.T) {
	c := NewCountdown(3, nil)
	c.Tick()
	if got := c.Remaining(); got != 2 {
		t.Fatalf("expected remaining 2 after one tick, got %d", got)
	}
	c.Tick()
	c.Tick()
	if got := c.Remaining(); got != 0 {
		t.Fatalf("expected remaining 0 after three ticks, got %d", got)
	}
	// Further ticks never go negative.
	c.Tick()
	if got := c.Remaining(); got != 0 {
		t.Fatalf("remaining went below zero: %d", got)
	}
}

func TestCountdownExpiryFiresExactlyOnce(t *testing.T) {
	fired := 0
	c := NewCountdown(2, func() { fired++ })
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	if fired != 1 {
		t.Fatalf("expiry callback fired %d times, want 1", fired)
	}
	if !c.Expired() {
		t.Fatalf("countdown should report expired")
	}
}

func TestCountdownFreezeIsOneWay(t *testing.T) {
	fired := 0
	c := NewCountdown(100, func() { fired++ })
	c.Tick()
	c.Freeze()

	if got := c.Remaining(); got != 0 {
		t.Fatalf("freeze should force remaining to 0, got %d", got)
	}
	if fired != 0 {
		t.Fatalf("freeze must not count as expiry, callback fired %d times", fired)
	}
	if c.Expired() {
		t.Fatalf("frozen countdown must not report expired")
	}

	// Frozen timer never resumes, even through Reset or further ticks.
	c.Reset(300)
	if got := c.Remaining(); got != 0 {
		t.Fatalf("reset un-froze the timer, remaining %d", got)
	}
	c.Tick()
	if fired != 0 {
		t.Fatalf("ticking a frozen timer fired expiry")
	}
}

func TestCountdownResetRearms(t *testing.T) {
	fired := 0
	c := NewCountdown(1, func() { fired++ })
	c.Tick()
	if fired != 1 {
		t.Fatalf("expected first expiry, fired=%d", fired)
	}

	c.Reset(2)
	if got := c.Remaining(); got != 2 {
		t.Fatalf("reset should re-arm remaining to 2, got %d", got)
	}
	c.Tick()
	c.Tick()
	if fired != 2 {
		t.Fatalf("re-armed countdown should fire expiry again, fired=%d", fired)
	}
}
