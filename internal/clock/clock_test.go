package clock

import (
	"testing"
	"time"
)

func TestFakeClockAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	ch := c.After(10 * time.Second)
	c.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before deadline")
	default:
	}
	if c.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(5 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(10 * time.Second)) {
			t.Fatalf("fired at %s, want %s", got, start.Add(10*time.Second))
		}
	default:
		t.Fatal("waiter did not fire at deadline")
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeClockAfterNonPositiveFiresImmediately(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTickerDropsTicksForSlowReceiver(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	ticker := c.NewTicker(time.Second)

	c.Advance(3 * time.Second)
	select {
	case got := <-ticker.C():
		if !got.Equal(start.Add(time.Second)) {
			t.Fatalf("first tick at %s, want %s", got, start.Add(time.Second))
		}
	default:
		t.Fatal("ticker did not fire")
	}
	select {
	case <-ticker.C():
		t.Fatal("ticks beyond the buffer should be dropped")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ticker.C():
		if !got.Equal(start.Add(4 * time.Second)) {
			t.Fatalf("tick at %s, want %s", got, start.Add(4*time.Second))
		}
	default:
		t.Fatal("ticker did not resume")
	}

	ticker.Stop()
	if c.Tickers() != 0 {
		t.Fatalf("Tickers() = %d after Stop, want 0", c.Tickers())
	}
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
