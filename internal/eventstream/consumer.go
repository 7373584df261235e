// Package eventstream keeps a live subscription to the bridge's push events
// and applies each change to the state store as it arrives.
package eventstream

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/hue"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Source is the part of the bridge client the consumer needs.
type Source interface {
	Resources(ctx context.Context) (*hue.Resolver, error)
	OpenEventStream(ctx context.Context) (io.ReadCloser, error)
}

// Status is the connection view exposed through the stats endpoint.
type Status struct {
	State         State         `json:"state"`
	Since         time.Time     `json:"since"`
	Connects      uint64        `json:"connects"`
	Failures      uint64        `json:"failures"`
	LastError     string        `json:"last_error,omitempty"`
	RetryIn       time.Duration `json:"retry_in_ns,omitempty"`
	EventsApplied uint64        `json:"events_applied"`
	EventsSkipped uint64        `json:"events_skipped"`
}

type Consumer struct {
	source  Source
	store   *state.Store
	clock   clock.Clock
	logger  *slog.Logger
	sleepFn func(ctx context.Context, wait time.Duration) error

	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	status Status
}

func New(source Source, store *state.Store, clk clock.Clock, logger *slog.Logger) *Consumer {
	if clk == nil {
		clk = clock.Real()
	}
	c := &Consumer{
		source:     source,
		store:      store,
		clock:      clk,
		logger:     logger,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		status:     Status{State: StateDisconnected, Since: clk.Now().UTC()},
	}
	c.sleepFn = c.sleep
	return c
}

// Status returns the current connection state and counters.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run holds the stream open until ctx is cancelled, reconnecting with
// exponential backoff. The backoff returns to its minimum after any session
// that reached the connected state.
func (c *Consumer) Run(ctx context.Context) {
	retry := c.newBackOff()
	defer c.setState(StateDisconnected, nil, 0)

	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting, nil, 0)
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			retry.Reset()
		}

		wait := retry.NextBackOff()
		c.setState(StateDisconnected, err, wait)
		if hue.IsRetryable(err) {
			c.logger.Warn("event stream disconnected", "err", err, "retry_in", wait.String())
		} else {
			c.logger.Error("event stream failed", "err", err, "retry_in", wait.String())
		}
		if sleepErr := c.sleepFn(ctx, wait); sleepErr != nil {
			return
		}
	}
}

// newBackOff doubles from minBackoff up to maxBackoff without jitter and
// never gives up.
func (c *Consumer) newBackOff() *backoff.ExponentialBackOff {
	retry := &backoff.ExponentialBackOff{
		InitialInterval:     c.minBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.maxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	retry.Reset()
	return retry
}

// session runs one connect-and-read cycle. connected reports whether the
// stream was opened before the cycle ended.
func (c *Consumer) session(ctx context.Context) (connected bool, err error) {
	resolver, err := c.source.Resources(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		// Events carrying id_v1 still resolve without the resource index.
		c.logger.Warn("fetch clip resources failed", "err", err)
		resolver = nil
	}

	body, err := c.source.OpenEventStream(ctx)
	if err != nil {
		return false, err
	}
	defer body.Close()

	c.setState(StateConnected, nil, 0)
	c.logger.Info("event stream connected", "resources", resolver.Len())

	scanner := hue.NewSSEScanner(body)
	for scanner.Next() {
		c.handle(scanner.Event(), resolver)
	}
	if err := scanner.Err(); err != nil {
		return true, err
	}
	return true, io.EOF
}

func (c *Consumer) handle(event hue.SSEEvent, resolver *hue.Resolver) {
	updates, err := hue.DecodeEvents(event.Data, resolver)
	if err != nil {
		c.mu.Lock()
		c.status.EventsSkipped++
		c.mu.Unlock()
		c.logger.Warn("skipping malformed event", "event_id", event.ID, "err", err)
	}
	for _, update := range updates {
		changed, _, _ := c.store.Update(update.Key, func(current model.Entity) model.Entity {
			return applyPatch(current, update)
		})
		if changed {
			c.mu.Lock()
			c.status.EventsApplied++
			c.mu.Unlock()
			c.logger.Debug("event applied", "key", update.Key.String(), "resource", update.Resource)
		}
	}
}

func (c *Consumer) setState(next State, err error, retryIn time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State != next {
		c.status.Since = c.clock.Now().UTC()
	}
	c.status.State = next
	c.status.RetryIn = retryIn
	switch next {
	case StateConnected:
		c.status.Connects++
		c.status.LastError = ""
	case StateDisconnected:
		if err != nil {
			c.status.Failures++
			c.status.LastError = err.Error()
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, wait time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(wait):
		return nil
	}
}
