package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries:    maxRetries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
		Jitter:        false,
	}
}

func TestRetryExecutor_SuccessOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	executor := NewRetryExecutor(testConfig(3))
	callCount := 0

	err := executor.Execute(ctx, func(_ context.Context) error {
		callCount++
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 call, got: %d", callCount)
	}
}

func TestRetryExecutor_SuccessAfterRetries(t *testing.T) {
	ctx := context.Background()
	executor := NewRetryExecutor(testConfig(3))
	callCount := 0

	err := executor.Execute(ctx, func(_ context.Context) error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if callCount != 3 {
		t.Errorf("Expected 3 calls, got: %d", callCount)
	}
}

func TestRetryExecutor_FailureAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	executor := NewRetryExecutor(testConfig(2))
	callCount := 0

	err := executor.Execute(ctx, func(_ context.Context) error {
		callCount++
		return errors.New("rate limit exceeded")
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries, got none")
	}

	if callCount != 3 { // initial attempt + 2 retries
		t.Errorf("Expected 3 calls, got: %d", callCount)
	}
}

func TestRetryExecutor_NonRetryableErrorStopsImmediately(t *testing.T) {
	ctx := context.Background()
	executor := NewRetryExecutor(testConfig(3))
	callCount := 0

	nonRetryable := errors.New("invalid request payload")
	err := executor.Execute(ctx, func(_ context.Context) error {
		callCount++
		return nonRetryable
	})
	if !errors.Is(err, nonRetryable) {
		t.Errorf("Expected the original error, got: %v", err)
	}

	if callCount != 1 {
		t.Errorf("Expected 1 call for non-retryable error, got: %d", callCount)
	}
}

func TestRetryExecutor_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	executor := NewRetryExecutor(&RetryConfig{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		MaxDelay:      time.Second,
		BackoffFactor: 1.0,
		Jitter:        false,
	})

	callCount := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- executor.Execute(ctx, func(_ context.Context) error {
			callCount++
			return errors.New("timeout")
		})
	}()

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after context cancellation")
	}
}

func TestDefaultRetryableChecker(t *testing.T) {
	checker := &DefaultRetryableChecker{}

	retryable := []string{
		"rate limit exceeded",
		"429 Too Many Requests",
		"connection refused",
		"deadlock detected",
		"resource temporarily unavailable",
	}
	for _, msg := range retryable {
		if !checker.IsRetryable(errors.New(msg)) {
			t.Errorf("Expected %q to be retryable", msg)
		}
	}

	nonRetryable := []string{
		"invalid api key",
		"model not found",
		"context length exceeded",
	}
	for _, msg := range nonRetryable {
		if checker.IsRetryable(errors.New(msg)) {
			t.Errorf("Expected %q to be non-retryable", msg)
		}
	}

	if checker.IsRetryable(nil) {
		t.Error("Expected nil error to be non-retryable")
	}
}
