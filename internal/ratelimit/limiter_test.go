package ratelimit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/iotmonitor/ingest-service/internal/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(clock *fakeClock) *ratelimit.FixedWindowLimiter {
	return ratelimit.NewFixedWindowLimiter(12, time.Hour).WithClock(clock.Now)
}

func TestCheck_FirstRequestOpensWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 10, 26, 14, 0, 0, 0, time.UTC)}
	limiter := newLimiter(clock)

	decision := limiter.Check("device-1-energy")

	if !decision.Allowed {
		t.Fatal("Expected first request to be allowed")
	}
	if decision.Remaining != 11 {
		t.Errorf("Expected 11 remaining, got %d", decision.Remaining)
	}
	if decision.Limit != 12 {
		t.Errorf("Expected limit 12, got %d", decision.Limit)
	}
	if !decision.ResetAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("Expected reset one hour from now, got %v", decision.ResetAt)
	}
}

func TestCheck_ThirteenthRequestDenied(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 10, 26, 14, 0, 0, 0, time.UTC)}
	limiter := newLimiter(clock)

	for i := 1; i <= 12; i++ {
		decision := limiter.Check("device-1-energy")
		if !decision.Allowed {
			t.Fatalf("Expected request %d to be allowed", i)
		}
		if decision.Remaining != 12-i {
			t.Errorf("Request %d: expected %d remaining, got %d", i, 12-i, decision.Remaining)
		}
		clock.Advance(time.Minute)
	}

	decision := limiter.Check("device-1-energy")
	if decision.Allowed {
		t.Fatal("Expected 13th request to be denied")
	}
	if decision.Remaining != 0 {
		t.Errorf("Expected 0 remaining, got %d", decision.Remaining)
	}
	if decision.RetryAfterSeconds() <= 0 {
		t.Errorf("Expected positive retry_after, got %d", decision.RetryAfterSeconds())
	}
	if decision.RetryAfterSeconds() != 48*60 {
		t.Errorf("Expected retry_after of 2880s, got %d", decision.RetryAfterSeconds())
	}
}

func TestCheck_WindowRollover(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 10, 26, 14, 0, 0, 0, time.UTC)}
	limiter := newLimiter(clock)

	for i := 0; i < 12; i++ {
		limiter.Check("device-1-water")
	}
	if limiter.Check("device-1-water").Allowed {
		t.Fatal("Expected request over quota to be denied")
	}

	clock.Advance(time.Hour)

	decision := limiter.Check("device-1-water")
	if !decision.Allowed {
		t.Fatal("Expected request after window boundary to be allowed")
	}
	if decision.Remaining != 11 {
		t.Errorf("Expected fresh window with 11 remaining, got %d", decision.Remaining)
	}
}

func TestCheck_DeniedRequestsDoNotExtendWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 10, 26, 14, 0, 0, 0, time.UTC)}
	limiter := newLimiter(clock)

	first := limiter.Check("k")
	for i := 0; i < 20; i++ {
		limiter.Check("k")
	}

	denied := limiter.Check("k")
	if !denied.ResetAt.Equal(first.ResetAt) {
		t.Errorf("Expected reset time to stay %v, got %v", first.ResetAt, denied.ResetAt)
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 10, 26, 14, 0, 0, 0, time.UTC)}
	limiter := newLimiter(clock)

	for i := 0; i < 12; i++ {
		limiter.Check(ratelimit.Key("device-1", "energy"))
	}

	if !limiter.Check(ratelimit.Key("device-1", "water")).Allowed {
		t.Error("Expected other class of the same device to have its own window")
	}
	if !limiter.Check(ratelimit.Key("device-2", "energy")).Allowed {
		t.Error("Expected other device to have its own window")
	}
	if limiter.Len() != 3 {
		t.Errorf("Expected 3 tracked keys, got %d", limiter.Len())
	}
}

func TestCheck_ConcurrentRequestsNeverExceedLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 10, 26, 14, 0, 0, 0, time.UTC)}
	limiter := newLimiter(clock)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Check("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 12 {
		t.Errorf("Expected exactly 12 allowed requests, got %d", allowed)
	}
}

func TestKey(t *testing.T) {
	if key := ratelimit.Key("abc", "water"); key != "abc-water" {
		t.Errorf("Unexpected key %q", key)
	}
}
