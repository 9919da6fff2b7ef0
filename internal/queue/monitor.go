package queue

import (
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/clipstream/transcoder/internal/database"
)

// Monitor is a passive observer of queue lifecycle events. It only logs;
// nothing in the delivery path depends on it.
type Monitor struct {
	topic  string
	logger hclog.Logger
}

// NewMonitor creates a monitor for one topic.
func NewMonitor(topic string, logger hclog.Logger) *Monitor {
	return &Monitor{topic: topic, logger: logger.Named("monitor")}
}

// Waiting reports a freshly enqueued message.
func (m *Monitor) Waiting(msg *database.QueueMessage) {
	m.logger.Info("message waiting", "topic", m.topic, "message_id", msg.ID)
}

// Active reports a claimed message.
func (m *Monitor) Active(msg *database.QueueMessage) {
	m.logger.Info("message active",
		"topic", m.topic,
		"message_id", msg.ID,
		"consumer", msg.LockedBy,
		"attempts_made", msg.AttemptsMade,
	)
}

// Completed reports a successfully consumed message.
func (m *Monitor) Completed(msg *database.QueueMessage) {
	m.logger.Info("message completed", "topic", m.topic, "message_id", msg.ID)
}

// Rescheduled reports a failed delivery that will be retried.
func (m *Monitor) Rescheduled(msg *database.QueueMessage, delay time.Duration, err error) {
	m.logger.Warn("message rescheduled",
		"topic", m.topic,
		"message_id", msg.ID,
		"attempts_made", msg.AttemptsMade,
		"max_attempts", msg.MaxAttempts,
		"delay", delay,
		"error", err,
	)
}

// Failed reports a terminally failed message.
func (m *Monitor) Failed(msg *database.QueueMessage, err error, permanent bool) {
	m.logger.Error("message failed",
		"topic", m.topic,
		"message_id", msg.ID,
		"attempts_made", msg.AttemptsMade,
		"permanent", permanent,
		"error", err,
	)
}

// Stalled reports reclaimed messages whose consumer stopped heartbeating.
func (m *Monitor) Stalled(count int) {
	m.logger.Warn("reclaimed stalled messages", "topic", m.topic, "count", count)
}
