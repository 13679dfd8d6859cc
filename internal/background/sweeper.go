package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/observability"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentTasks bounds how many sweep tasks hit the database at once.
const maxConcurrentTasks = 3

// Task is one idempotent maintenance step. It returns how many records it
// removed or cleared.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically runs maintenance tasks. Expiry is always also checked
// at read time, so a missed sweep only delays cleanup.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper running tasks every interval.
func NewSweeper(interval time.Duration, metrics *observability.Metrics, logger *slog.Logger, tasks ...Task) *Sweeper {
	return &Sweeper{
		tasks:    tasks,
		interval: interval,
		timeout:  30 * time.Second,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		}
	}
}

// SweepOnce runs every task concurrently and reports per-task counts. A
// failing task is logged and does not affect the others.
func (s *Sweeper) SweepOnce(ctx context.Context) map[string]int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	var (
		mu      sync.Mutex
		results = make(map[string]int64, len(s.tasks))
		g       errgroup.Group
	)
	g.SetLimit(maxConcurrentTasks)

	for _, task := range s.tasks {
		g.Go(func() error {
			n, err := task.Run(ctx, now)
			if err != nil {
				s.logger.Error("sweep task failed", slog.String("task", task.Name), slog.Any("error", err))
				return nil
			}
			s.metrics.RecordSwept(ctx, task.Name, n)

			mu.Lock()
			results[task.Name] = n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var total int64
	for _, n := range results {
		total += n
	}
	if total > 0 {
		s.logger.Info("sweep completed", slog.Int64("removed", total), slog.Int("tasks", len(results)))
	}
	return results
}
