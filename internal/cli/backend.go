package cli

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/app"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/services"
)

// actorID marks events produced from the command line.
const actorID = "bastionctl"

type backend struct {
	db         *database.DB
	users      *repositories.UserRepository
	lockout    *services.LockoutService
	limiter    *services.RateLimiterService
	sweeper    *background.Sweeper
	dispatcher *services.NotificationDispatcher
	logger     *slog.Logger
}

// Open loads configuration from the environment and connects to the
// database and rate limit store.
func Open(logger *slog.Logger) Opener {
	return func(ctx context.Context) (Backend, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := ratelimit.NewStore(ctx, cfg.RateLimit, cfg.Redis, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		if cfg.RateLimit.Store != "redis" {
			logger.Warn("rate limit store is in-memory; blocks held by a running server are not visible here")
		}
		notifier, err := services.NewNotifier(ctx, cfg.Email, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		dispatcher := services.NewNotificationDispatcher(notifier, cfg.Email.MaxSendRate, logger)

		users := repositories.NewUserRepository(db)
		events := services.NewSecurityEventService(repositories.NewSecurityEventRepository(db), logger)
		limiter := services.NewRateLimiterService(store, cfg.RateLimit, repositories.NewLoginAttemptRepository(db), events, nil, logger)

		return &backend{
			db:      db,
			users:   users,
			lockout: services.NewLockoutService(users, app.LockoutPolicy(cfg.Lockout), events, dispatcher, nil, logger),
			limiter: limiter,
			sweeper: background.NewSweeper(cfg.Auth.CleanupInterval, nil, logger, app.MaintenanceTasks(cfg, db, limiter)...),
			dispatcher: dispatcher,
			logger:     logger,
		}, nil
	}
}

func (b *backend) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, b.db.Pool, b.logger)
}

func (b *backend) MigrationStatus(ctx context.Context) error {
	return database.MigrationStatus(ctx, b.db.Pool)
}

func (b *backend) Unlock(ctx context.Context, email string) error {
	user, err := b.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	return b.lockout.Unlock(ctx, actorID, user.ID)
}

func (b *backend) Unblock(ctx context.Context, address string) error {
	return b.limiter.Unblock(ctx, actorID, address)
}

func (b *backend) Sweep(ctx context.Context) map[string]int64 {
	return b.sweeper.SweepOnce(ctx)
}

func (b *backend) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.dispatcher.Close(ctx); err != nil {
		b.logger.Warn("notification queue not drained", slog.Any("error", err))
	}
	b.db.Close()
}
