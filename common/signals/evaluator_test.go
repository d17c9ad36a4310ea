package signals

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/rules"
)

type fakeLocker struct {
	acquired bool
	setErr   error
	setKey   string
	expiry   time.Duration
	deleted  []string
}

func (f *fakeLocker) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	f.setKey = key
	f.expiry = expiry
	return f.acquired, f.setErr
}

func (f *fakeLocker) Delete(ctx context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func lockedEvaluator(lock cycleLocker) *Evaluator {
	return &Evaluator{
		loader:   rules.NewLoader("/nonexistent/rules.yaml", logger.New("error", "text")),
		interval: time.Minute,
		lock:     lock,
		logger:   logger.New("error", "text"),
	}
}

func TestCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	lock := &fakeLocker{acquired: false}
	e := lockedEvaluator(lock)

	if err := e.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if lock.setKey == "" {
		t.Error("lock never attempted")
	}
	if lock.expiry != e.interval {
		t.Errorf("lock expiry = %s, want the cycle interval", lock.expiry)
	}
	if len(lock.deleted) != 0 {
		t.Error("released a lock it never held")
	}
}

func TestCycleReleasesLockAfterRun(t *testing.T) {
	lock := &fakeLocker{acquired: true}
	e := lockedEvaluator(lock)

	// With the lock held, the cycle proceeds into rule loading
	err := e.Cycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to load rules") {
		t.Fatalf("err = %v, want rule load failure", err)
	}
	if len(lock.deleted) != 1 || lock.deleted[0] != cycleLockKey {
		t.Errorf("released keys = %v, want [%s]", lock.deleted, cycleLockKey)
	}
}

func TestCycleProceedsWhenLockStoreDown(t *testing.T) {
	lock := &fakeLocker{setErr: errors.New("connection refused")}
	e := lockedEvaluator(lock)

	// A lock store outage degrades to unlocked evaluation
	err := e.Cycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to load rules") {
		t.Fatalf("err = %v, want rule load failure", err)
	}
	if len(lock.deleted) != 0 {
		t.Error("released a lock it never acquired")
	}
}
