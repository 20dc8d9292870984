package ratelimit

import (
	"testing"
	"time"
)

func TestKeyedLimiter_BurstThenDeny(t *testing.T) {
	limiter := NewKeyedLimiter(60, 5, time.Hour)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("token-a") {
			t.Fatalf("Request %d within burst should be allowed", i+1)
		}
	}
	if limiter.Allow("token-a") {
		t.Error("Request beyond burst should be denied")
	}
}

func TestKeyedLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewKeyedLimiter(60, 1, time.Hour)

	if !limiter.Allow("token-a") {
		t.Fatal("First request for token-a should be allowed")
	}
	if limiter.Allow("token-a") {
		t.Error("Second request for token-a should be denied")
	}
	if !limiter.Allow("token-b") {
		t.Error("token-b should have its own budget")
	}
}

func TestKeyedLimiter_Prune(t *testing.T) {
	limiter := NewKeyedLimiter(60, 1, time.Millisecond)

	limiter.Allow("token-a")
	limiter.Allow("token-b")
	if limiter.Len() != 2 {
		t.Fatalf("Expected 2 tracked keys, got %d", limiter.Len())
	}

	time.Sleep(5 * time.Millisecond)
	limiter.Prune()

	if limiter.Len() != 0 {
		t.Errorf("Expected idle keys evicted, got %d", limiter.Len())
	}
}
