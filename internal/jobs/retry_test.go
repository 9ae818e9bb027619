package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errUnavailable = errors.New("oracle unavailable")

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy(errUnavailable)

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{"nil error", nil, 1, false},
		{"allow-listed error", fmt.Errorf("infer: %w", errUnavailable), 1, true},
		{"allow-listed on last attempt", errUnavailable, 3, false},
		{"not allow-listed", errors.New("bad header"), 1, false},
		{"discard", fmt.Errorf("import gone: %w", ErrDiscard), 1, false},
		{"canceled", context.Canceled, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldRetry(tt.err, tt.attempt); got != tt.want {
				t.Errorf("ShouldRetry = %v, want %v", got, tt.want)
			}
		})
	}

	open := RetryPolicy{MaxAttempts: 2}
	if !open.ShouldRetry(errors.New("anything"), 1) {
		t.Error("empty allow-list should retry any error")
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_Poll(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	t.Run("done on third check", func(t *testing.T) {
		calls := 0
		err := p.Poll(context.Background(), time.Second, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := p.Poll(context.Background(), time.Second, func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
		if !errors.Is(err, ErrPollTimeout) {
			t.Fatalf("err = %v, want ErrPollTimeout", err)
		}
		if calls != 5 {
			t.Errorf("calls = %d, want 5", calls)
		}
	})

	t.Run("gives up at ceiling", func(t *testing.T) {
		slow := RetryPolicy{MaxAttempts: 1000, BaseDelay: 20 * time.Millisecond, Multiplier: 1}
		err := slow.Poll(context.Background(), 50*time.Millisecond, func(context.Context) (bool, error) {
			return false, nil
		})
		if !errors.Is(err, ErrPollTimeout) {
			t.Fatalf("err = %v, want ErrPollTimeout", err)
		}
	})

	t.Run("check error stops polling", func(t *testing.T) {
		boom := errors.New("boom")
		err := p.Poll(context.Background(), time.Second, func(context.Context) (bool, error) {
			return false, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
	})
}

func TestJobStatus_Terminal(t *testing.T) {
	for status, want := range map[JobStatus]bool{
		JobStatusPending:   false,
		JobStatusRunning:   false,
		JobStatusRetrying:  false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusDiscarded: true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
