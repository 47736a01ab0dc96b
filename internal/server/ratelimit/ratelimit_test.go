package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
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

func newTestLimiter(perHour, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(Config{Enabled: true, Rules: SubmissionRules(perHour, burst), Now: clock.Now})
	return l, clock
}

func TestTokenBucket_TakeAndRefill(t *testing.T) {
	start := time.Now()
	bucket := newTokenBucket(3, 1.0, start)

	for i := 0; i < 3; i++ {
		if !bucket.take(start) {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}
	if bucket.take(start) {
		t.Error("Expected 4th request to be denied")
	}
	if got := bucket.nextToken(); got != time.Second {
		t.Errorf("Expected next token in 1s, got %v", got)
	}

	if !bucket.take(start.Add(1100 * time.Millisecond)) {
		t.Error("Expected request to be allowed after refill")
	}
	if bucket.take(start.Add(1100 * time.Millisecond)) {
		t.Error("Expected request to be denied after consuming refilled token")
	}
}

func TestTokenBucket_RefillCapsAtCapacity(t *testing.T) {
	start := time.Now()
	bucket := newTokenBucket(2, 10.0, start)
	bucket.take(start)
	bucket.refill(start.Add(time.Hour))
	if bucket.tokens != 2 {
		t.Errorf("Expected bucket capped at 2 tokens, got %v", bucket.tokens)
	}
}

func TestLimiter_Burst(t *testing.T) {
	l, clock := newTestLimiter(60, 3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		allowed, info := l.Allow("owner-1", "POST", "/jobs/scratch")
		if !allowed {
			t.Fatalf("Expected submission %d to be allowed", i+1)
		}
		if info.Remaining != 2-i {
			t.Errorf("Expected remaining %d, got %d", 2-i, info.Remaining)
		}
	}

	allowed, info := l.Allow("owner-1", "POST", "/jobs/rewrite")
	if allowed {
		t.Fatal("Expected 4th submission to be denied across pipelines")
	}
	if info.Limit != 60 {
		t.Errorf("Expected limit 60, got %d", info.Limit)
	}
	if info.RetryAfter < 59*time.Second || info.RetryAfter > 61*time.Second {
		t.Errorf("Expected retry after about 1m, got %v", info.RetryAfter)
	}

	clock.Advance(61 * time.Second)
	if allowed, _ := l.Allow("owner-1", "POST", "/jobs/cluster"); !allowed {
		t.Error("Expected submission to be allowed after one refill interval")
	}
}

func TestLimiter_SeparateClientsAndRules(t *testing.T) {
	l, _ := newTestLimiter(10, 1)
	defer l.Stop()

	if allowed, _ := l.Allow("owner-1", "POST", "/jobs/scratch"); !allowed {
		t.Fatal("Expected first submission to be allowed")
	}
	if allowed, _ := l.Allow("owner-2", "POST", "/jobs/scratch"); !allowed {
		t.Error("Expected another owner to have its own bucket")
	}
	if allowed, _ := l.Allow("owner-1", "POST", "/jobs/0b7c/retry"); !allowed {
		t.Error("Expected retries to have their own bucket")
	}
	if l.Len() != 3 {
		t.Errorf("Expected 3 buckets, got %d", l.Len())
	}
}

func TestLimiter_UnmatchedAndDisabled(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if allowed, _ := l.Allow("owner-1", "GET", "/jobs"); !allowed {
			t.Fatal("Expected reads to be unlimited")
		}
		if allowed, _ := l.Allow("owner-1", "POST", "/jobs/abc/cancel"); !allowed {
			t.Fatal("Expected cancellation to be unlimited")
		}
	}

	disabled := NewLimiter(Config{Rules: SubmissionRules(1, 1)})
	defer disabled.Stop()
	for i := 0; i < 5; i++ {
		if allowed, _ := disabled.Allow("owner-1", "POST", "/jobs/scratch"); !allowed {
			t.Fatal("Expected disabled limiter to allow everything")
		}
	}
}

func TestLimiter_DropIdle(t *testing.T) {
	l, clock := newTestLimiter(10, 1)
	defer l.Stop()

	l.Allow("owner-1", "POST", "/jobs/scratch")
	clock.Advance(30 * time.Minute)
	l.Allow("owner-2", "POST", "/jobs/scratch")
	clock.Advance(45 * time.Minute)

	l.dropIdle()
	if l.Len() != 1 {
		t.Errorf("Expected only the recent bucket to survive, got %d", l.Len())
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(100, 50)
	defer l.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := l.Allow("owner-1", "POST", "/jobs/scratch"); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 50 {
		t.Errorf("Expected exactly the burst of 50 to be allowed, got %d", allowedCount)
	}
}

func TestMatch(t *testing.T) {
	rules := SubmissionRules(10, 1)
	tests := []struct {
		method, path string
		want         string
	}{
		{"POST", "/jobs/scratch", "/jobs/*"},
		{"POST", "/jobs/scratch/", "/jobs/*"},
		{"POST", "/jobs/123/retry", "/jobs/*/retry"},
		{"POST", "/jobs/123/cancel", ""},
		{"GET", "/jobs/scratch", ""},
		{"POST", "/jobs", ""},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			got := ""
			if r := Match(tt.method, tt.path, rules); r != nil {
				got = r.Pattern
			}
			if got != tt.want {
				t.Errorf("Match() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, CleanupInterval: time.Millisecond})
	l.Stop()
	l.Stop()
}
