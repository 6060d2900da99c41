package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	if got.Before(before) {
		t.Errorf("Now() = %v, before %v", got, before)
	}
}

func TestMockClockSleepAdvances(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Sleep(15 * time.Second)
	c.Sleep(2 * time.Second)

	if got := c.Now(); !got.Equal(start.Add(17 * time.Second)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(17*time.Second))
	}

	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 15*time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClockSince(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.Advance(90 * time.Second)

	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}
	if len(c.Sleeps()) != 0 {
		t.Error("Advance must not record a sleep")
	}
}
