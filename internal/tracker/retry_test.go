package tracker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	fake := newFakeTracker(&HTTPError{StatusCode: http.StatusServiceUnavailable}, 2)
	r := WithRetry(fake, fastPolicy())

	if err := r.AddLabels(context.Background(), "X-1", "tested"); err != nil {
		t.Fatalf("AddLabels() error = %v", err)
	}
	if got := fake.count("AddLabels"); got != 3 {
		t.Errorf("AddLabels called %d times, want 3", got)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	fake := newFakeTracker(&HTTPError{StatusCode: http.StatusTooManyRequests}, 100)
	r := WithRetry(fake, fastPolicy())

	err := r.TransitionTo(context.Background(), "X-1", "Closed")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("TransitionTo() error = %v, want HTTPError", err)
	}
	if got := fake.count("TransitionTo"); got != 4 {
		t.Errorf("TransitionTo called %d times, want 4", got)
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	fake := newFakeTracker(&HTTPError{StatusCode: http.StatusBadRequest}, 100)
	r := WithRetry(fake, fastPolicy())

	if err := r.SetTargetRelease(context.Background(), "X-1", "7.10.0.GA"); err == nil {
		t.Fatal("expected error")
	}
	if got := fake.count("SetTargetRelease"); got != 1 {
		t.Errorf("SetTargetRelease called %d times, want 1", got)
	}
}

func TestRetryDoesNotRepeatCreate(t *testing.T) {
	fake := newFakeTracker(&HTTPError{StatusCode: http.StatusBadGateway}, 1)
	r := WithRetry(fake, fastPolicy())

	if _, err := r.CreateIssue(context.Background(), CreateRequest{Summary: "x"}); err == nil {
		t.Fatal("expected CreateIssue error")
	}
	if got := fake.count("CreateIssue"); got != 1 {
		t.Errorf("CreateIssue called %d times, want 1", got)
	}
	if got, ok := As[*fakeTracker](r); !ok || got != fake {
		t.Error("As() did not find wrapped tracker")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{&HTTPError{StatusCode: 500}, true},
		{&HTTPError{StatusCode: 429}, true},
		{&HTTPError{StatusCode: 404}, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if !IsNotFound(&HTTPError{StatusCode: 404}) {
		t.Error("IsNotFound(404) = false")
	}
}
