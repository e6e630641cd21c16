package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Client enqueues one-off maintenance runs, bypassing the cron cadence.
// The worker uses it at startup to reconcile blob storage immediately
// instead of waiting out the first sweep interval.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueuePurgeExpired(ctx context.Context, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewPurgeExpiredTask(MaintenancePayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) EnqueueSweepOrphans(ctx context.Context, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewSweepOrphansTask(MaintenancePayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	info, err := c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// NewScheduler registers the recurring maintenance runs: expiry purge on
// the configured cron line, orphan sweep on a fixed interval.
func NewScheduler(redisOpt asynq.RedisClientOpt, queueName, purgeCron string, sweepEvery time.Duration) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})

	purgeTask, err := NewPurgeExpiredTask(MaintenancePayload{Trigger: TriggerCron})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(purgeCron, purgeTask,
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
	); err != nil {
		return nil, fmt.Errorf("register purge schedule %q: %w", purgeCron, err)
	}

	sweepTask, err := NewSweepOrphansTask(MaintenancePayload{Trigger: TriggerCron})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register("@every "+sweepEvery.String(), sweepTask,
		asynq.Queue(queueName),
		asynq.MaxRetry(3),
		asynq.Timeout(15*time.Minute),
	); err != nil {
		return nil, fmt.Errorf("register sweep schedule: %w", err)
	}

	return scheduler, nil
}
