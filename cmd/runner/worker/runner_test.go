package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/config"
	"github.com/opsrelay/opsrelay/common/quota"
)

func testRunner(base, max time.Duration) *Runner {
	return &Runner{cfg: config.RunnerConfig{
		BackoffBase: base,
		BackoffMax:  max,
	}}
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	r := testRunner(5*time.Second, 5*time.Minute)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
	}
	for _, tc := range cases {
		if got := r.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	r := testRunner(5*time.Second, 30*time.Second)

	if got := r.backoff(10); got != 30*time.Second {
		t.Errorf("backoff(10) = %s, want the 30s cap", got)
	}

	// A base already above the cap is clamped too
	r = testRunner(time.Minute, 30*time.Second)
	if got := r.backoff(1); got != 30*time.Second {
		t.Errorf("backoff(1) = %s, want the 30s cap", got)
	}
}

func TestRetriableClassification(t *testing.T) {
	r := testRunner(time.Second, time.Minute)

	if !r.retriable(apperrors.New(apperrors.KindUnavailable, "slack is down")) {
		t.Error("unavailable should be retriable")
	}
	if r.retriable(apperrors.New(apperrors.KindValidation, "malformed repo")) {
		t.Error("validation failures are permanent")
	}

	// Quota denials never retry, even though they look like capacity problems
	if r.retriable(&quota.ErrExceeded{Kind: quota.KindSlackPosts, Limit: 200}) {
		t.Error("quota denial should be permanent")
	}

	// Unclassified errors default to retriable so transient transport noise
	// is not misread as a permanent failure
	if !r.retriable(errors.New("read: connection reset by peer")) {
		t.Error("unclassified error should be retriable")
	}
}
