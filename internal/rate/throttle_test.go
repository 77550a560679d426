package rate

import (
	"testing"
	"time"
)

func TestThrottleBurstThenRefill(t *testing.T) {
	th := NewThrottle(2, 3)
	now := epoch
	for i := 0; i < 3; i++ {
		if ok, _ := th.Allow("1.2.3.4", now); !ok {
			t.Fatalf("burst token %d should be available", i)
		}
	}
	ok, wait := th.Allow("1.2.3.4", now)
	if ok {
		t.Fatal("expected bucket to be empty")
	}
	if wait <= 0 || wait > 500*time.Millisecond {
		t.Fatalf("expected wait up to 500ms at 2 rps, got %v", wait)
	}
	if ok, _ := th.Allow("5.6.7.8", now); !ok {
		t.Fatal("other clients have their own bucket")
	}
	if ok, _ := th.Allow("1.2.3.4", now.Add(time.Second)); !ok {
		t.Fatal("expected refill after one second")
	}
}

func TestThrottleNilAdmits(t *testing.T) {
	th := NewThrottle(0, 0)
	if ok, _ := th.Allow("x", epoch); !ok {
		t.Fatal("disabled throttle must admit")
	}
	if th.Len() != 0 || th.Sweep(epoch, time.Minute) != 0 {
		t.Fatal("disabled throttle tracks nothing")
	}
}

func TestThrottleSweep(t *testing.T) {
	th := NewThrottle(1, 1)
	th.Allow("a", epoch)
	th.Allow("b", epoch.Add(time.Hour))
	if n := th.Sweep(epoch.Add(time.Hour), 30*time.Minute); n != 1 {
		t.Fatalf("expected one idle bucket removed, got %d", n)
	}
	if th.Len() != 1 {
		t.Fatalf("expected one bucket left, got %d", th.Len())
	}
}
