package tracker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/backport/internal/types"
)

// Retry configuration for idempotent tracker updates.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
)

// RetryPolicy bounds the retries of idempotent operations.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, p.MaxRetries), ctx)
}

// Retrying decorates an IssueTracker so reads and idempotent updates are
// retried on transient errors with jittered exponential backoff. Issue
// creation and linking are not idempotent and are attempted once.
type Retrying struct {
	IssueTracker
	Policy RetryPolicy
}

// WithRetry wraps t with the given retry policy.
func WithRetry(t IssueTracker, policy RetryPolicy) *Retrying {
	return &Retrying{IssueTracker: t, Policy: policy}
}

// Unwrap returns the wrapped tracker.
func (r *Retrying) Unwrap() IssueTracker { return r.IssueTracker }

func (r *Retrying) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && IsRetryable(err) {
			return err // Retryable - backoff will retry
		}
		if err != nil {
			return backoff.Permanent(err) // Non-retryable - stop immediately
		}
		return nil
	}, r.Policy.newBackOff(ctx))
}

func (r *Retrying) GetIssue(ctx context.Context, key string) (*types.Issue, error) {
	var issue *types.Issue
	err := r.retry(ctx, func() error {
		var err error
		issue, err = r.IssueTracker.GetIssue(ctx, key)
		return err
	})
	return issue, err
}

func (r *Retrying) LinkedIssues(ctx context.Context, upstreamKey string) ([]string, error) {
	var keys []string
	err := r.retry(ctx, func() error {
		var err error
		keys, err = r.IssueTracker.LinkedIssues(ctx, upstreamKey)
		return err
	})
	return keys, err
}

func (r *Retrying) AddLabels(ctx context.Context, key string, labels ...string) error {
	return r.retry(ctx, func() error { return r.IssueTracker.AddLabels(ctx, key, labels...) })
}

func (r *Retrying) AddUpstreamLinks(ctx context.Context, key string, links ...string) error {
	return r.retry(ctx, func() error { return r.IssueTracker.AddUpstreamLinks(ctx, key, links...) })
}

func (r *Retrying) SetTargetRelease(ctx context.Context, key, release string) error {
	return r.retry(ctx, func() error { return r.IssueTracker.SetTargetRelease(ctx, key, release) })
}

func (r *Retrying) TransitionTo(ctx context.Context, key, state string) error {
	return r.retry(ctx, func() error { return r.IssueTracker.TransitionTo(ctx, key, state) })
}
