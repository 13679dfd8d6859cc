// Package ratelimit holds the fixed-window counters and the blocked-address
// list. Both are advisory: losing them resets throttling and nothing else.
package ratelimit

import (
	"context"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// Store is the backing store for request counters and address blocks.
type Store interface {
	// Increment charges one hit against key. The window starts on the first
	// hit and the counter resets when it ends.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
	// Count returns the current hits for key without charging one.
	Count(ctx context.Context, key string, now time.Time) (int, error)
	// Reset drops the counter for key.
	Reset(ctx context.Context, key string) error

	Block(ctx context.Context, block models.BlockedAddress) error
	Unblock(ctx context.Context, address string) (bool, error)
	// Blocked returns the active block for address, or nil.
	Blocked(ctx context.Context, address string, now time.Time) (*models.BlockedAddress, error)
	ListBlocked(ctx context.Context, now time.Time) ([]models.BlockedAddress, error)

	// Sweep evicts expired counters and blocks and reports how many went.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// CounterKey builds the counter key for an endpoint class and client address.
func CounterKey(class models.RateClass, address string) string {
	return "rl:" + string(class) + ":" + address
}
