package tstamp

import (
	"testing"
	"time"
)

func TestMonotonic(t *testing.T) {
	c := NewClock()
	t1 := c.TimeStamp()
	t2 := c.TimeStamp()
	if t2 <= t1 {
		t.Fatalf("expected t2 > t1, got t1=%d t2=%d", t1, t2)
	}
}

func TestMonotonicAcrossSecondBoundary(t *testing.T) {
	base := time.Unix(1000, 999900000)
	calls := 0
	c := NewClockWithSource(func() time.Time {
		defer func() { calls++ }()
		if calls == 0 {
			return base
		}
		return base.Add(200 * time.Microsecond)
	})
	t1 := c.TimeStamp()
	t2 := c.TimeStamp()
	if t2 <= t1 {
		t.Fatalf("expected monotonic across boundary, t1=%d t2=%d", t1, t2)
	}
}

func TestVerifyAndUpdateAcceptsFreshToken(t *testing.T) {
	c := NewClock()
	var prev uint64
	tok := c.TimeStamp()
	if !c.VerifyAndUpdate(tok, &prev, false) {
		t.Fatalf("expected a freshly issued token to verify")
	}
	if prev < tok {
		t.Fatalf("expected previous to be raised to at least tok")
	}
}

func TestVerifyAndUpdateRejectsReplay(t *testing.T) {
	c := NewClock()
	tok := c.TimeStamp()
	prev := tok
	if c.VerifyAndUpdate(tok-1, &prev, false) {
		t.Fatalf("expected an older token to be rejected")
	}
}

func TestVerifyAndUpdateNeverRewindsPrevious(t *testing.T) {
	c := NewClock()
	var prev uint64
	t1 := c.TimeStamp()
	c.VerifyAndUpdate(t1, &prev, false)
	if prev < t1 {
		t.Fatalf("previous should be raised to t1")
	}
	// Even with jitter allowance, verifying an older token must not lower prev.
	beforePrev := prev
	c.VerifyAndUpdate(t1-1, &prev, true)
	if prev < beforePrev {
		t.Fatalf("jitter allowance must not rewind previous")
	}
}
