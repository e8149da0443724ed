// Package worker implements C6, the concurrent queue consumer.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/internal/metrics"
	"notifyrelay/internal/queue"

	"github.com/wb-go/wbf/logger"
)

// Processor is the subset of service.Processor the pool depends on,
// kept as an interface so tests can substitute a fake (the teacher's
// app.go wires concrete types directly; this repo's worker pool is new
// so it follows the narrower-interface convention used elsewhere in the
// pack, e.g. anish-eng-safe-notify's store/sender interfaces).
type Processor interface {
	Process(ctx context.Context, item entity.WorkItem) error
}

type Config struct {
	Concurrency         int
	WaitSeconds         int
	VisibilityTimeout   time.Duration
	ExtendThreshold     float64
	ShutdownGracePeriod time.Duration
}

func defaultConfig() Config {
	return Config{
		Concurrency:         10,
		WaitSeconds:         20,
		VisibilityTimeout:   30 * time.Second,
		ExtendThreshold:     0.7,
		ShutdownGracePeriod: 30 * time.Second,
	}
}

// Pool is grounded on the teacher's app.go errgroup-supervised
// goroutine pattern, generalized into a bounded consumer loop (tracked
// with a sync.WaitGroup rather than an errgroup) that
// long-polls C3, extends visibility on slow handlers, and shuts down
// gracefully.
type Pool struct {
	q         queue.Adapter
	processor Processor
	log       logger.Logger
	cfg       Config
}

func NewPool(q queue.Adapter, processor Processor, log logger.Logger, cfg Config) *Pool {
	merged := defaultConfig()
	if cfg.Concurrency > 0 {
		merged.Concurrency = cfg.Concurrency
	}
	if cfg.WaitSeconds > 0 {
		merged.WaitSeconds = cfg.WaitSeconds
	}
	if cfg.VisibilityTimeout > 0 {
		merged.VisibilityTimeout = cfg.VisibilityTimeout
	}
	if cfg.ExtendThreshold > 0 {
		merged.ExtendThreshold = cfg.ExtendThreshold
	}
	if cfg.ShutdownGracePeriod > 0 {
		merged.ShutdownGracePeriod = cfg.ShutdownGracePeriod
	}

	return &Pool{q: q, processor: processor, log: log, cfg: merged}
}

// Run blocks until ctx is cancelled, then awaits in-flight tasks up to
// ShutdownGracePeriod before returning.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			return p.shutdown(&wg)
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.WaitSeconds)*time.Second)
		messages, err := p.q.Receive(pollCtx, p.cfg.Concurrency)
		cancel()
		if err != nil {
			p.log.LogAttrs(ctx, logger.ErrorLevel, "queue receive failed", logger.Any("error", err.Error()))
			continue
		}

		for _, msg := range messages {
			wg.Add(1)
			metrics.QueueDepth.Inc()
			go func(msg queue.Message) {
				defer wg.Done()
				p.handle(ctx, msg)
			}(msg)
		}
	}
}

func (p *Pool) shutdown(wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.ShutdownGracePeriod):
		return fmt.Errorf("worker.Pool.shutdown: grace period exceeded, in-flight items left for queue redelivery")
	}
}

func (p *Pool) handle(ctx context.Context, msg queue.Message) {
	defer metrics.QueueDepth.Dec()

	deadline := time.Duration(float64(p.cfg.VisibilityTimeout) * p.cfg.ExtendThreshold)
	extendCtx, cancelExtend := context.WithCancel(ctx)
	defer cancelExtend()

	go p.watchVisibility(extendCtx, msg, deadline)

	err := p.processor.Process(ctx, msg.Item)
	if err != nil {
		p.log.LogAttrs(ctx, logger.ErrorLevel, "processing failed, leaving unacked for redelivery", logger.Any("notification_id", msg.Item.NotificationID.String()), logger.Any("error", err.Error()))
		return
	}

	if ackErr := p.q.Acknowledge(ctx, msg); ackErr != nil {
		p.log.LogAttrs(ctx, logger.ErrorLevel, "acknowledge failed", logger.Any("notification_id", msg.Item.NotificationID.String()), logger.Any("error", ackErr.Error()))
	}
}

// watchVisibility extends the in-flight claim once the handler has run
// past cfg.ExtendThreshold of the visibility timeout, per spec.md
// §4.C6's "guard against slow handlers" requirement.
func (p *Pool) watchVisibility(ctx context.Context, msg queue.Message, deadline time.Duration) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		if err := p.q.ExtendVisibility(ctx, msg); err != nil {
			p.log.LogAttrs(ctx, logger.WarnLevel, "extend visibility failed", logger.Any("notification_id", msg.Item.NotificationID.String()), logger.Any("error", err.Error()))
		}
	}
}
