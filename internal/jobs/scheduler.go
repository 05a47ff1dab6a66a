package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pancomido/auth/internal/config"
)

// TaskCleanup asks the worker to purge stale OTP codes and expired
// trusted devices.
const TaskCleanup = "cleanup"

// Scheduler publishes maintenance tasks onto the Redis stream the worker
// consumes. It does no work itself.
type Scheduler struct {
	cron     *cron.Cron
	queue    redis.UniversalClient
	stream   string
	schedule string
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(queue redis.UniversalClient, cfg *config.AppConfig, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		queue:    queue,
		stream:   cfg.Redis.Stream,
		schedule: cfg.Jobs.CleanupSchedule,
		log:      log,
		now:      time.Now,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.schedule == "" {
		s.log.Info().Msg("maintenance scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueCleanup); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Str("stream", s.stream).Msg("maintenance scheduler started")
	return nil
}

// Stop waits for a running enqueue to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Scheduler) enqueueCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := s.Enqueue(ctx, TaskCleanup)
	if err != nil {
		s.log.Error().Err(err).Msg("enqueue cleanup failed")
		return
	}
	s.log.Debug().Str("message_id", id).Msg("cleanup enqueued")
}

// Enqueue appends a task message and returns its stream id.
func (s *Scheduler) Enqueue(ctx context.Context, taskType string) (string, error) {
	if s.queue == nil {
		return "", nil
	}
	return s.queue.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":        taskType,
			"requestedAt": s.now().UTC().Format(time.RFC3339),
		},
	}).Result()
}
