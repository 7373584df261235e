package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

const (
	defaultConcurrency  = 4
	defaultSendDeadline = 15 * time.Second
)

// Sender is the push service interface.
type Sender interface {
	Send(ctx context.Context, alert model.Alert) error
}

// FailureRecorder counts failed dispatches.
type FailureRecorder interface {
	RecordDispatchFailure()
}

// Dispatcher sends each alert on its own goroutine, at most a few at a time.
// Failures are logged and counted; nothing is retried.
type Dispatcher struct {
	sender   Sender
	failures FailureRecorder
	logger   *slog.Logger
	timeout  time.Duration

	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher builds a dispatcher. A nil sender makes Submit a logged no-op.
func NewDispatcher(sender Sender, failures FailureRecorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		failures: failures,
		logger:   logger,
		timeout:  defaultSendDeadline,
		sem:      make(chan struct{}, defaultConcurrency),
	}
}

// Submit returns immediately; delivery happens in the background.
func (d *Dispatcher) Submit(alert model.Alert) {
	if d.sender == nil {
		d.logger.Debug("push notifications not configured; alert not sent", "rule_id", alert.RuleID)
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed; alert dropped", "rule_id", alert.RuleID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		d.send(alert)
	}()
}

func (d *Dispatcher) send(alert model.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	startedAt := time.Now()
	err := d.sender.Send(ctx, alert)
	if err != nil {
		if d.failures != nil {
			d.failures.RecordDispatchFailure()
		}
		d.logger.Error("push notification failed", "rule_id", alert.RuleID, "alert_id", alert.ID, "err", err)
		return
	}
	d.logger.Info("push notification sent",
		"rule_id", alert.RuleID,
		"alert_id", alert.ID,
		"priority", alert.Priority.String(),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
}

// Close stops accepting alerts and waits for in-flight sends, or until ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
