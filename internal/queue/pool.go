package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/clipstream/transcoder/internal/xerrors"
)

// Handler processes one decoded message. The returned error decides the
// message's fate: nil completes it, a permanent error fails it terminally,
// anything else reschedules it with backoff.
type Handler func(ctx context.Context, payload Payload) error

// Pool runs a fixed number of workers against one queue. Each worker claims
// a message, runs it to completion and only then claims the next; jobs for
// different messages run concurrently, bounded by the pool size.
type Pool struct {
	queue        *Queue
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	logger       hclog.Logger
	wg           sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(q *Queue, handler Handler, concurrency int, pollInterval time.Duration, logger hclog.Logger) *Pool {
	return &Pool{
		queue:        q,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start launches the workers and the stalled-message janitor. It returns
// immediately; cancel ctx and call Wait to shut down.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		consumerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.runWorker(ctx, consumerID)
	}

	p.wg.Add(1)
	go p.runJanitor(ctx)

	p.logger.Info("worker pool started", "topic", p.queue.Topic(), "concurrency", p.concurrency)
}

// Wait blocks until every worker has finished its current job and exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, consumerID string) {
	defer p.wg.Done()
	logger := p.logger.With("consumer", consumerID)

	// Shutdown only stops the claim loop. A claimed message runs to
	// completion on a detached context so cancelling the pool never aborts
	// an in-flight job or its Complete/Fail bookkeeping, which would leave
	// the message locked until a later stalled reclaim.
	jobCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.queue.Claim(jobCtx, consumerID)
		if err != nil {
			logger.Error("claim failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if msg == nil {
			p.sleep(ctx)
			continue
		}

		payload, err := DecodePayload(msg)
		if err != nil {
			// A body that never parses can never be handled.
			if failErr := p.queue.Fail(jobCtx, msg, xerrors.Permanent("decode", err)); failErr != nil {
				logger.Error("failed to record malformed message", "error", failErr)
			}
			continue
		}

		handlerErr := p.handler(jobCtx, payload)
		if handlerErr == nil {
			if err := p.queue.Complete(jobCtx, msg); err != nil {
				logger.Error("failed to complete message", "message_id", msg.ID, "error", err)
			}
			continue
		}
		if err := p.queue.Fail(jobCtx, msg, handlerErr); err != nil {
			logger.Error("failed to record message failure", "message_id", msg.ID, "error", err)
		}
	}
}

// runJanitor periodically returns stalled messages to the waiting state.
func (p *Pool) runJanitor(ctx context.Context) {
	defer p.wg.Done()

	interval := p.queue.opts.VisibilityTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.ReclaimStalled(ctx); err != nil {
				p.logger.Error("stalled reclaim failed", "error", err)
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
