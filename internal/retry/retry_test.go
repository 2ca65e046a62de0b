package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func noSleep(recorded *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		if recorded != nil {
			*recorded = append(*recorded, d)
		}
		return nil
	})
}

func TestDo_SucceedsOnAttemptN(t *testing.T) {
	for n := 1; n <= 5; n++ {
		calls := 0
		err := Do(context.Background(), Insert, func(context.Context) error {
			calls++
			if calls < n {
				return errors.New("transient")
			}
			return nil
		}, noSleep(nil))
		if err != nil {
			t.Fatalf("n=%d: unexpected error %v", n, err)
		}
		if calls != n {
			t.Errorf("n=%d: calls = %d, want %d", n, calls, n)
		}
	}
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	var delays []time.Duration
	err := Do(context.Background(), Search, func(context.Context) error {
		calls++
		return boom
	}, noSleep(&delays))
	if calls != Search.MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, Search.MaxAttempts)
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want ErrExhausted wrapping boom", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	bad := errors.New("bad input")
	err := Do(context.Background(), Insert, func(context.Context) error {
		calls++
		return Permanent(bad)
	}, noSleep(nil))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, bad) || errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want bad without ErrExhausted", err)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	base := errors.New("boom")
	if Retryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !Retryable(base) {
		t.Error("plain error should be retryable")
	}
	if Retryable(fmt.Errorf("wrapped: %w", Permanent(base))) {
		t.Error("wrapped permanent error should not be retryable")
	}
}
