// Package queue implements a durable, at-least-once job queue on top of the
// record store, with exponential backoff redelivery, a configurable attempt
// ceiling, stalled-message reclaim and a fixed-size worker pool. Consumers
// must be idempotent: the same message can be delivered more than once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/clipstream/transcoder/internal/database"
	"github.com/clipstream/transcoder/internal/xerrors"
)

// Payload is the transcode job message. Attempt is the domain-level counter:
// it keys the TranscodeJob row, so queue redeliveries of one message reuse a
// single attempt row while a fresh enqueue bumps it. The queue's own
// AttemptsMade counter, not this field, drives backoff and the retry ceiling.
type Payload struct {
	MediaAssetID string `json:"mediaAssetId"`
	Attempt      int    `json:"attempt"`
}

// Options configures a queue.
type Options struct {
	Topic             string
	BackoffBase       time.Duration
	MaxAttempts       int
	VisibilityTimeout time.Duration
}

// Queue is a named-topic view over the queue_messages table.
type Queue struct {
	db      *gorm.DB
	opts    Options
	monitor *Monitor
	logger  hclog.Logger
}

// New creates a queue for one topic.
func New(db *gorm.DB, opts Options, logger hclog.Logger) *Queue {
	return &Queue{
		db:      db,
		opts:    opts,
		monitor: NewMonitor(opts.Topic, logger),
		logger:  logger,
	}
}

// Topic returns the queue's topic name.
func (q *Queue) Topic() string {
	return q.opts.Topic
}

// Enqueue publishes a payload as a new waiting message.
func (q *Queue) Enqueue(ctx context.Context, payload Payload) (*database.QueueMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	msg := &database.QueueMessage{
		Topic:       q.opts.Topic,
		Payload:     string(raw),
		Status:      database.MessageStatusWaiting,
		MaxAttempts: q.opts.MaxAttempts,
		AvailableAt: time.Now().UTC(),
	}
	if err := q.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue: %w", err)
	}
	q.monitor.Waiting(msg)
	return msg, nil
}

// Claim picks the oldest deliverable waiting message and locks it for
// consumerID. Returns nil when the queue is empty. Claiming is a
// compare-and-swap on the row status, so concurrent workers never share a
// message.
func (q *Queue) Claim(ctx context.Context, consumerID string) (*database.QueueMessage, error) {
	now := time.Now().UTC()

	var candidates []database.QueueMessage
	err := q.db.WithContext(ctx).
		Where("topic = ? AND status = ? AND available_at <= ?",
			q.opts.Topic, database.MessageStatusWaiting, now).
		Order("id ASC").
		Limit(5).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting messages: %w", err)
	}

	for i := range candidates {
		msg := &candidates[i]
		res := q.db.WithContext(ctx).Model(&database.QueueMessage{}).
			Where("id = ? AND status = ?", msg.ID, database.MessageStatusWaiting).
			Updates(map[string]interface{}{
				"status":    database.MessageStatusActive,
				"locked_by": consumerID,
				"locked_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim message %d: %w", msg.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to another worker.
			continue
		}
		msg.Status = database.MessageStatusActive
		msg.LockedBy = consumerID
		msg.LockedAt = &now
		q.monitor.Active(msg)
		return msg, nil
	}
	return nil, nil
}

// DecodePayload parses a message body.
func DecodePayload(msg *database.QueueMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
		return Payload{}, fmt.Errorf("malformed payload on message %d: %w", msg.ID, err)
	}
	return p, nil
}

// Complete marks a delivered message as successfully consumed.
func (q *Queue) Complete(ctx context.Context, msg *database.QueueMessage) error {
	err := q.db.WithContext(ctx).Model(&database.QueueMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":    database.MessageStatusCompleted,
			"locked_by": "",
			"locked_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to complete message %d: %w", msg.ID, err)
	}
	q.monitor.Completed(msg)
	return nil
}

// Fail records a handler failure. Permanent errors fail the message
// terminally without consuming the remaining retry budget; everything else is
// rescheduled with exponential backoff until AttemptsMade reaches the
// ceiling.
func (q *Queue) Fail(ctx context.Context, msg *database.QueueMessage, handlerErr error) error {
	attempts := msg.AttemptsMade + 1
	lastErr := xerrors.Truncate(handlerErr.Error(), database.ErrorMessageLimit)

	if xerrors.IsPermanent(handlerErr) || attempts >= msg.MaxAttempts {
		err := q.db.WithContext(ctx).Model(&database.QueueMessage{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{
				"status":        database.MessageStatusFailed,
				"attempts_made": attempts,
				"last_error":    lastErr,
				"locked_by":     "",
				"locked_at":     nil,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to fail message %d: %w", msg.ID, err)
		}
		msg.AttemptsMade = attempts
		q.monitor.Failed(msg, handlerErr, xerrors.IsPermanent(handlerErr))
		return nil
	}

	delay := q.Backoff(attempts)
	err := q.db.WithContext(ctx).Model(&database.QueueMessage{}).
		Where("id = ?", msg.ID).
		Updates(map[string]interface{}{
			"status":        database.MessageStatusWaiting,
			"attempts_made": attempts,
			"available_at":  time.Now().UTC().Add(delay),
			"last_error":    lastErr,
			"locked_by":     "",
			"locked_at":     nil,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule message %d: %w", msg.ID, err)
	}
	msg.AttemptsMade = attempts
	q.monitor.Rescheduled(msg, delay, handlerErr)
	return nil
}

// Backoff computes the redelivery delay after the given number of made
// attempts: base for the first redelivery, doubling for each one after.
func (q *Queue) Backoff(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	return q.opts.BackoffBase << (attemptsMade - 1)
}

// ReclaimStalled returns messages whose lock outlived the visibility timeout
// to the waiting state. Their redelivery still counts against the attempt
// ceiling via Fail on the next failure, not here.
func (q *Queue) ReclaimStalled(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-q.opts.VisibilityTimeout)
	res := q.db.WithContext(ctx).Model(&database.QueueMessage{}).
		Where("topic = ? AND status = ? AND locked_at < ?",
			q.opts.Topic, database.MessageStatusActive, cutoff).
		Updates(map[string]interface{}{
			"status":    database.MessageStatusWaiting,
			"locked_by": "",
			"locked_at": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stalled messages: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		q.monitor.Stalled(int(res.RowsAffected))
	}
	return int(res.RowsAffected), nil
}

// Drain terminally fails every waiting message on the topic. Operational use
// only.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	res := q.db.WithContext(ctx).Model(&database.QueueMessage{}).
		Where("topic = ? AND status = ?", q.opts.Topic, database.MessageStatusWaiting).
		Updates(map[string]interface{}{
			"status":     database.MessageStatusFailed,
			"last_error": "drained by operator",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to drain queue: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// CountByStatus reports message counts per delivery state for the topic.
func (q *Queue) CountByStatus(ctx context.Context) (map[database.MessageStatus]int64, error) {
	type row struct {
		Status database.MessageStatus
		N      int64
	}
	var rows []row
	err := q.db.WithContext(ctx).Model(&database.QueueMessage{}).
		Select("status, count(*) as n").
		Where("topic = ?", q.opts.Topic).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	counts := make(map[database.MessageStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
