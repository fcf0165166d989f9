// Package redis implements the task queue on Redis Streams with a consumer
// group. Delayed and retried tasks wait in a sorted set until they are due.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

const (
	taskStream     = "unified:tasks"
	taskGroup      = "unified:workers"
	scheduledTasks = "unified:scheduled"
	taskStatuses   = "unified:task_status"
	taskKeyPrefix  = "unified:task:"

	taskTTL = 24 * time.Hour

	// DefaultClaimTimeout is how long a delivered task may stay unacknowledged
	// before another worker claims it. It outlasts a sync lease so a claim
	// never lands while the first attempt still holds its leases.
	DefaultClaimTimeout = 2 * domain.DefaultLeaseTTL
)

var _ driven.TaskQueue = (*Queue)(nil)

// Queue implements driven.TaskQueue using Redis Streams.
type Queue struct {
	client       *redis.Client
	consumerName string
	claimTimeout time.Duration
}

// Option configures a Queue
type Option func(*Queue)

// WithClaimTimeout overrides DefaultClaimTimeout
func WithClaimTimeout(d time.Duration) Option {
	return func(q *Queue) { q.claimTimeout = d }
}

// NewQueue creates a new Redis-backed task queue and its consumer group.
// consumerName should be unique per worker process.
func NewQueue(ctx context.Context, client *redis.Client, consumerName string, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if consumerName == "" {
		consumerName = "worker-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	q := &Queue{client: client, consumerName: consumerName, claimTimeout: DefaultClaimTimeout}
	for _, opt := range opts {
		opt(q)
	}

	err := q.client.XGroupCreateMkStream(ctx, taskStream, taskGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func taskKey(id string) string { return taskKeyPrefix + id }
func msgKey(id string) string  { return taskKeyPrefix + id + ":msg" }

// stage writes the task body and routes it to the stream or the scheduled set.
func stage(ctx context.Context, pipe redis.Pipeliner, task *domain.Task, now time.Time) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	pipe.HSet(ctx, taskStatuses, task.ID, string(task.Status))

	if task.ScheduledFor.After(now) {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{Score: float64(task.ScheduledFor.Unix()), Member: task.ID})
		return nil
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: taskStream,
		Values: map[string]any{"task_id": task.ID, "type": string(task.Type)},
	})
	return nil
}

// Enqueue adds a task to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch stages all tasks in a single MULTI/EXEC.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	now := time.Now()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, task := range tasks {
			if task == nil {
				continue
			}
			if err := stage(ctx, pipe, task, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue tasks: %w", err)
	}
	return nil
}

// DequeueWithTimeout promotes due tasks, reclaims abandoned deliveries and
// then blocks on the stream for up to timeout seconds.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promoteScheduled(ctx); err != nil {
		return nil, fmt.Errorf("promote scheduled tasks: %w", err)
	}

	if task, err := q.claimAbandoned(ctx); err != nil || task != nil {
		return task, err
	}

	block := time.Duration(timeout) * time.Second
	if block <= 0 {
		block = -1 // no BLOCK argument
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  []string{taskStream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return q.deliver(ctx, streams[0].Messages[0])
}

// deliver loads the task behind a stream message and marks it processing.
// Messages whose task body is gone are dropped.
func (q *Queue) deliver(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	taskID, _ := msg.Values["task_id"].(string)
	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		q.client.XAck(ctx, taskStream, taskGroup, msg.ID)
		q.client.XDel(ctx, taskStream, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.MarkProcessing()
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	pipe.Set(ctx, msgKey(task.ID), msg.ID, taskTTL)
	pipe.HSet(ctx, taskStatuses, task.ID, string(task.Status))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("mark task processing: %w", err)
	}
	return task, nil
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.MarkCompleted()
	return q.settle(ctx, task, false)
}

// Nack reschedules the task with backoff, or fails it once its attempts are spent.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	retry := task.CanRetry()
	if retry {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	return q.settle(ctx, task, retry)
}

// settle acknowledges the current delivery and stores the task's new state.
func (q *Queue) settle(ctx context.Context, task *domain.Task, reschedule bool) error {
	msgID, err := q.client.Get(ctx, msgKey(task.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get message id: %w", err)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, taskStream, taskGroup, msgID)
		pipe.XDel(ctx, taskStream, msgID)
	}
	pipe.Set(ctx, taskKey(task.ID), data, taskTTL)
	pipe.HSet(ctx, taskStatuses, task.ID, string(task.Status))
	pipe.Del(ctx, msgKey(task.ID))
	if reschedule {
		pipe.ZAdd(ctx, scheduledTasks, redis.Z{Score: float64(task.ScheduledFor.Unix()), Member: task.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// Stats counts tasks by their last recorded status.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	statuses, err := q.client.HVals(ctx, taskStatuses).Result()
	if err != nil {
		return nil, fmt.Errorf("read task statuses: %w", err)
	}
	stats := &driven.QueueStats{}
	for _, s := range statuses {
		switch domain.TaskStatus(s) {
		case domain.TaskStatusPending:
			stats.PendingCount++
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the client is shared with the lock.
func (q *Queue) Close() error {
	return nil
}

// promoteScheduled moves due tasks from the scheduled set onto the stream.
func (q *Queue) promoteScheduled(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	for _, id := range due {
		// ZRem decides which worker promotes the task.
		removed, err := q.client.ZRem(ctx, scheduledTasks, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		err = q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: taskStream,
			Values: map[string]any{"task_id": id},
		}).Err()
		if err != nil {
			return err
		}
	}
	return nil
}

// claimAbandoned takes over a delivery another consumer left unacknowledged
// for longer than the claim timeout.
func (q *Queue) claimAbandoned(ctx context.Context) (*domain.Task, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   taskStream,
		Group:    taskGroup,
		Consumer: q.consumerName,
		MinIdle:  q.claimTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim abandoned tasks: %w", err)
	}
	for _, msg := range msgs {
		task, err := q.deliver(ctx, msg)
		if err != nil || task != nil {
			return task, err
		}
	}
	return nil, nil
}
