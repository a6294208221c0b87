package provider

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatalf("Expected acquire %d to succeed, got %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected no blocking under the limit, took %v", elapsed)
	}
	if rl.InFlight() != 3 {
		t.Errorf("Expected 3 calls in flight, got %d", rl.InFlight())
	}
}

func TestRateLimiterBlocksAtLimit(t *testing.T) {
	period := 300 * time.Millisecond
	rl := NewRateLimiter(3, period)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}

	start := time.Now()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("Fourth acquire failed: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < period {
		t.Errorf("Expected fourth acquire to wait at least %v, waited %v", period, elapsed)
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Acquire(ctx)
	if err == nil {
		t.Fatal("Expected context error while blocked")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	period := 150 * time.Millisecond
	rl := NewRateLimiter(2, period)
	ctx := context.Background()

	rl.Acquire(ctx)
	rl.Acquire(ctx)

	time.Sleep(period + rateLimitSlack)
	if n := rl.InFlight(); n != 0 {
		t.Errorf("Expected window to drain, got %d in flight", n)
	}

	start := time.Now()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after drain failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Expected immediate acquire after drain, took %v", elapsed)
	}
}
