package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sweepNow = time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cutoffRecorder implements every purger and remembers the cutoff it saw.
type cutoffRecorder struct {
	mu      sync.Mutex
	cutoffs map[string]time.Time
	n       int64
	err     error
}

func (c *cutoffRecorder) record(name string, t time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cutoffs == nil {
		c.cutoffs = map[string]time.Time{}
	}
	c.cutoffs[name] = t
	return c.n, c.err
}

func (c *cutoffRecorder) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return c.record("expired", now)
}

func (c *cutoffRecorder) DeleteRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return c.record("revoked", cutoff)
}

func (c *cutoffRecorder) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	return c.record("stale", cutoff)
}

func (c *cutoffRecorder) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return c.record("older", cutoff)
}

func (c *cutoffRecorder) ClearExpiredLockouts(_ context.Context, now time.Time) (int64, error) {
	return c.record("lockouts", now)
}

type fakeLimiter struct{ n int }

func (f fakeLimiter) Sweep(context.Context) (int, error) { return f.n, nil }

func newTestSweeper(tasks ...Task) *Sweeper {
	s := NewSweeper(time.Hour, nil, quietLogger(), tasks...)
	s.now = func() time.Time { return sweepNow }
	return s
}

func TestTasks_ApplyRetention(t *testing.T) {
	tokens := &cutoffRecorder{n: 4}
	attempts := &cutoffRecorder{n: 2}
	events := &cutoffRecorder{n: 1}
	tasks := Tasks(Stores{
		RefreshTokens:  tokens,
		LoginAttempts:  attempts,
		SecurityEvents: events,
		Limiter:        fakeLimiter{n: 7},
	}, Retention{
		LoginAttempts:  24 * time.Hour,
		SecurityEvents: 90 * 24 * time.Hour,
		RevokedTokens:  7 * 24 * time.Hour,
	})
	require.Len(t, tasks, 4)

	results := newTestSweeper(tasks...).SweepOnce(context.Background())

	assert.Equal(t, map[string]int64{
		"refresh_tokens":  4,
		"login_attempts":  2,
		"security_events": 1,
		"rate_limits":     7,
	}, results)
	assert.Equal(t, sweepNow.Add(-7*24*time.Hour), tokens.cutoffs["revoked"])
	assert.Equal(t, sweepNow.Add(-24*time.Hour), attempts.cutoffs["older"])
	assert.Equal(t, sweepNow.Add(-90*24*time.Hour), events.cutoffs["older"])
}

func TestTasks_ExpiryTasksUseNow(t *testing.T) {
	rec := &cutoffRecorder{}
	tasks := Tasks(Stores{Sessions: rec, Handshakes: rec, Lockouts: rec}, Retention{})
	require.Len(t, tasks, 3)

	newTestSweeper(tasks...).SweepOnce(context.Background())

	assert.Equal(t, sweepNow, rec.cutoffs["expired"])
	assert.Equal(t, sweepNow, rec.cutoffs["stale"])
	assert.Equal(t, sweepNow, rec.cutoffs["lockouts"])
}

func TestSweepOnce_FailingTaskDoesNotStopOthers(t *testing.T) {
	var ran atomic.Int32
	ok := func(n int64) func(context.Context, time.Time) (int64, error) {
		return func(context.Context, time.Time) (int64, error) {
			ran.Add(1)
			return n, nil
		}
	}
	s := newTestSweeper(
		Task{Name: "a", Run: ok(3)},
		Task{Name: "broken", Run: func(context.Context, time.Time) (int64, error) {
			ran.Add(1)
			return 0, errors.New("relation does not exist")
		}},
		Task{Name: "b", Run: ok(0)},
		Task{Name: "c", Run: ok(5)},
	)

	results := s.SweepOnce(context.Background())

	assert.Equal(t, int32(4), ran.Load())
	assert.Equal(t, map[string]int64{"a": 3, "b": 0, "c": 5}, results)
}

func TestRun_SweepsImmediatelyAndStopsOnCancel(t *testing.T) {
	swept := make(chan struct{}, 1)
	s := newTestSweeper(Task{Name: "tick", Run: func(context.Context, time.Time) (int64, error) {
		select {
		case swept <- struct{}{}:
		default:
		}
		return 1, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run on start")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
