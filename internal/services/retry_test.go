package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Do_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicy_Do_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := fastPolicy(4).Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetryPolicy_Do_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	notFound := &NotFoundError{Resource: "page", Key: "x"}
	err := fastPolicy(5).Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		calls++
		return Permanent(notFound)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !IsNotFound(err) {
		t.Errorf("expected unwrapped not-found error, got %v", err)
	}
}

func TestRetryPolicy_Do_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, Multiplier: 1}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, zerolog.Nop(), func(ctx context.Context) error {
			calls++
			return errors.New("unavailable")
		})
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryPolicy_Do_HonoursRetryAfter(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), zerolog.Nop(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitSignal{URL: "u", RetryAfter: 50 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected to wait at least the Retry-After hint, waited %s", elapsed)
	}
}
