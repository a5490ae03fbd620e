package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		// Ticker fired as expected
	case <-time.After(100 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(fixedTime)
	now := clock.Now()

	if !now.Equal(fixedTime) {
		t.Errorf("got %v, want %v", now, fixedTime)
	}
}

func TestMockClock_Set(t *testing.T) {
	clock := NewMockClock(time.Time{})
	newTime := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.Set(newTime)

	if !clock.Now().Equal(newTime) {
		t.Errorf("got %v, want %v", clock.Now(), newTime)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(time.Hour)
	expected := start.Add(time.Hour)

	if !clock.Now().Equal(expected) {
		t.Errorf("got %v, want %v", clock.Now(), expected)
	}
}

func TestMockClock_Since(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(now)
	past := now.Add(-5 * time.Minute)
	d := clock.Since(past)

	if d != 5*time.Minute {
		t.Errorf("got %v, want 5m", d)
	}
}

func TestMockClock_Ticker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(time.Minute)

	// Ticker should not tick yet
	select {
	case <-ticker.C():
		t.Error("ticker fired too early")
	default:
	}

	// Advance to first tick
	clock.Advance(time.Minute)

	select {
	case <-ticker.C():
		// Expected
	default:
		t.Error("ticker did not fire after first interval")
	}
}

func TestMockClock_Ticker_Stop(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()
	clock.Advance(5 * time.Second)

	select {
	case <-ticker.C():
		t.Error("stopped ticker should not tick")
	default:
		// Expected
	}
}

func TestMockTicker_Trigger(t *testing.T) {
	clock := NewMockClock(time.Now())
	ticker := clock.NewTicker(time.Hour).(*MockTicker)
	now := clock.Now()
	ticker.Trigger(now)

	select {
	case received := <-ticker.C():
		if !received.Equal(now) {
			t.Errorf("got %v, want %v", received, now)
		}
	default:
		t.Error("Trigger did not send tick")
	}
}
