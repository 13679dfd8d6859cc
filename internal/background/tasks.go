package background

import (
	"context"
	"time"
)

type sessionPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type refreshTokenPurger interface {
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type handshakePurger interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type historyPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type lockoutClearer interface {
	ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error)
}

type limiterSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Stores are the cleanup targets. Nil entries are skipped.
type Stores struct {
	Sessions       sessionPurger
	RefreshTokens  refreshTokenPurger
	Handshakes     handshakePurger
	LoginAttempts  historyPurger
	SecurityEvents historyPurger
	Lockouts       lockoutClearer
	Limiter        limiterSweeper
}

// Retention controls how long history is kept past its useful life.
type Retention struct {
	LoginAttempts  time.Duration
	SecurityEvents time.Duration
	RevokedTokens  time.Duration
}

// Tasks builds the standard maintenance tasks for the given stores.
func Tasks(s Stores, r Retention) []Task {
	var tasks []Task
	if s.Sessions != nil {
		tasks = append(tasks, Task{Name: "sessions", Run: s.Sessions.DeleteExpired})
	}
	if s.RefreshTokens != nil {
		tasks = append(tasks, Task{Name: "refresh_tokens", Run: func(ctx context.Context, now time.Time) (int64, error) {
			return s.RefreshTokens.DeleteRevokedBefore(ctx, now.Add(-r.RevokedTokens))
		}})
	}
	if s.Handshakes != nil {
		tasks = append(tasks, Task{Name: "handshakes", Run: s.Handshakes.DeleteStale})
	}
	if s.LoginAttempts != nil {
		tasks = append(tasks, Task{Name: "login_attempts", Run: func(ctx context.Context, now time.Time) (int64, error) {
			return s.LoginAttempts.DeleteOlderThan(ctx, now.Add(-r.LoginAttempts))
		}})
	}
	if s.SecurityEvents != nil {
		tasks = append(tasks, Task{Name: "security_events", Run: func(ctx context.Context, now time.Time) (int64, error) {
			return s.SecurityEvents.DeleteOlderThan(ctx, now.Add(-r.SecurityEvents))
		}})
	}
	if s.Lockouts != nil {
		tasks = append(tasks, Task{Name: "lockouts", Run: s.Lockouts.ClearExpiredLockouts})
	}
	if s.Limiter != nil {
		tasks = append(tasks, Task{Name: "rate_limits", Run: func(ctx context.Context, _ time.Time) (int64, error) {
			n, err := s.Limiter.Sweep(ctx)
			return int64(n), err
		}})
	}
	return tasks
}
