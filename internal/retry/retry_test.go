package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: time.Millisecond}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "ready", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ready" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestDoSurfacesLastErrorOnExhaustion(t *testing.T) {
	calls := 0
	var last error
	_, err := Do(context.Background(), Policy{Name: "probe", MaxAttempts: 4, Backoff: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		last = fmt.Errorf("attempt %d", calls)
		return 0, last
	})
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, last) {
		t.Fatalf("expected last error %v to be wrapped, got %v", last, err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 4 || ex.Op != "probe" {
		t.Fatalf("unexpected exhausted error: %#v", ex)
	}
}

func TestDoSpacesAttemptsByBackoff(t *testing.T) {
	const backoff = 20 * time.Millisecond
	var stamps []time.Time
	_ = Run(context.Background(), Policy{MaxAttempts: 3, Backoff: backoff}, func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("down")
	})
	if len(stamps) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < backoff {
			t.Fatalf("attempt %d came %v after the previous one, want >= %v", i+1, gap, backoff)
		}
	}
}

func TestDoZeroAttemptsMeansOnce(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("malformed")
	err := Run(context.Background(), Policy{MaxAttempts: 5, Backoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return Permanent(boom)
	})
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, boom) || errors.Is(err, ErrExhausted) {
		t.Fatalf("expected the permanent error unwrapped, got %v", err)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Run(ctx, Policy{MaxAttempts: 10, Backoff: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}
