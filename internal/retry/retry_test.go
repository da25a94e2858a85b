package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(3, 0), func() error {
		calls++
		return nil
	})
	if result.Err != nil {
		t.Fatalf("err = %v", result.Err)
	}
	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d", calls, result.Attempts)
	}
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(3, 0), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if result.Err != nil {
		t.Fatalf("err = %v", result.Err)
	}
	if calls != 3 || result.Attempts != 3 {
		t.Errorf("calls = %d, attempts = %d", calls, result.Attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	result := Do(context.Background(), Linear(2, 0), func() error {
		calls++
		return boom
	})
	if !errors.Is(result.Err, boom) {
		t.Fatalf("err = %v", result.Err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	result := Do(context.Background(), Linear(5, 0), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	if calls != 1 || result.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d", calls, result.Attempts)
	}
	if !IsPermanent(result.Err) {
		t.Errorf("err = %v, want permanent", result.Err)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := Do(ctx, Linear(3, time.Millisecond), func() error {
		return errors.New("never succeeds")
	})
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", result.Err)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	Do(context.Background(), Linear(0, 0), func() error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, result := DoWithValue(context.Background(), Linear(3, 0), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "done", nil
	})
	if result.Err != nil {
		t.Fatalf("err = %v", result.Err)
	}
	if value != "done" {
		t.Errorf("value = %q", value)
	}
}

func TestPermanent_NilPassthrough(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error must not be permanent")
	}
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	wrapped := Permanent(inner)
	if !errors.Is(wrapped, inner) {
		t.Error("wrapped error must unwrap to inner")
	}
}
