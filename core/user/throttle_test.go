package user

import (
	"fmt"
	"testing"
	"time"

	"github.com/trezcool/shule/core"
)

func TestLoginThrottle_Allow(t *testing.T) {
	throttle := NewLoginThrottle(core.LoginThrottleConfig{Attempts: 3, Window: time.Hour})

	for i := 0; i < 3; i++ {
		if !throttle.Allow("1.2.3.4", "awe") {
			t.Fatalf("Allow() = false on attempt %d, want true", i+1)
		}
	}
	if throttle.Allow("1.2.3.4", "awe") {
		t.Error("Allow() = true after burst exhausted, want false")
	}

	// attempts are bounded per (origin, login) pair
	if !throttle.Allow("1.2.3.4", "other") {
		t.Error("Allow() = false for a different login, want true")
	}
	if !throttle.Allow("5.6.7.8", "awe") {
		t.Error("Allow() = false for a different origin, want true")
	}

	// login matching is case-insensitive
	throttle = NewLoginThrottle(core.LoginThrottleConfig{Attempts: 1, Window: time.Hour})
	if !throttle.Allow("1.2.3.4", "AWE") {
		t.Fatal("Allow() = false on first attempt, want true")
	}
	if throttle.Allow("1.2.3.4", "awe") {
		t.Error("Allow() = true for same login in different case, want false")
	}
}

func TestLoginThrottle_prune(t *testing.T) {
	throttle := NewLoginThrottle(core.LoginThrottleConfig{Attempts: 1, Window: time.Hour})

	for i := 0; i < 1030; i++ {
		throttle.Allow("1.2.3.4", fmt.Sprintf("user%d", i))
	}

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	for _, b := range throttle.buckets {
		b.lastSeen = time.Now().Add(-2 * time.Hour)
	}
	throttle.prune()
	if len(throttle.buckets) != 0 {
		t.Errorf("prune() left %d stale buckets, want 0", len(throttle.buckets))
	}
}
