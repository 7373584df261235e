// Package poller periodically merges the bridge's full state into the store.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

// missThreshold is how many consecutive successful polls may omit a known
// entity before it is marked unreachable.
const missThreshold = 2

// Fetcher is the bridge's full-state poll interface.
type Fetcher interface {
	GetSensors(ctx context.Context) ([]model.Sensor, error)
	GetLights(ctx context.Context) ([]model.Light, error)
}

type Poller struct {
	fetcher   Fetcher
	store     *state.Store
	clock     clock.Clock
	interval  time.Duration
	refreshCh chan struct{}
	logger    *slog.Logger

	inFlight atomic.Bool
	wg       sync.WaitGroup

	// misses is only touched by the single in-flight poll.
	misses map[model.Key]int

	firstOnce   sync.Once
	onFirstPoll func(ctx context.Context, sensors []model.Sensor)
}

func New(fetcher Fetcher, store *state.Store, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	return &Poller{
		fetcher:   fetcher,
		store:     store,
		clock:     clk,
		interval:  interval,
		refreshCh: make(chan struct{}, 1),
		logger:    logger,
		misses:    map[model.Key]int{},
	}
}

// OnFirstPoll registers fn to run once with the sensors of the first
// successful poll. It must be set before Run.
func (p *Poller) OnFirstPoll(fn func(ctx context.Context, sensors []model.Sensor)) {
	p.onFirstPoll = fn
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

// TriggerRefresh requests an immediate poll. Requests made while one is
// already pending collapse into it.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Run polls once immediately and then on every interval tick or refresh
// request until ctx is cancelled. It returns after the in-flight poll ends.
func (p *Poller) Run(ctx context.Context) {
	defer p.wg.Wait()

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.tryPoll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.refreshCh:
		case <-ticker.C():
		}
		p.tryPoll(ctx)
	}
}

// tryPoll starts a poll unless one is still running, in which case the
// trigger is dropped and counted.
func (p *Poller) tryPoll(ctx context.Context) bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.store.Stats().RecordPollSkipped()
		p.logger.Debug("poll skipped; previous poll still in flight")
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("poll failed", "err", err)
		}
	}()
	return true
}

// PollOnce fetches sensors and lights and upserts every returned entity.
// A kind that fails to fetch is left untouched; the poll then counts as
// failed. Calls must not overlap; Run guarantees that.
func (p *Poller) PollOnce(ctx context.Context) error {
	sensors, sensorErr := p.fetcher.GetSensors(ctx)
	if sensorErr == nil {
		seen := make(map[model.Key]struct{}, len(sensors))
		for _, sensor := range sensors {
			p.store.Upsert(sensor)
			seen[sensor.Key()] = struct{}{}
		}
		p.markMissing(model.KindSensor, seen)
		p.firstOnce.Do(func() {
			if p.onFirstPoll != nil {
				p.onFirstPoll(ctx, sensors)
			}
		})
	}

	lights, lightErr := p.fetcher.GetLights(ctx)
	if lightErr == nil {
		seen := make(map[model.Key]struct{}, len(lights))
		for _, light := range lights {
			p.store.Upsert(light)
			seen[light.Key()] = struct{}{}
		}
		p.markMissing(model.KindLight, seen)
	}

	err := errors.Join(sensorErr, lightErr)
	p.store.Stats().RecordPoll(p.clock.Now(), err)
	if err == nil {
		p.logger.Debug("poll completed", "sensors", len(sensors), "lights", len(lights))
	}
	return err
}

func (p *Poller) markMissing(kind model.EntityKind, seen map[model.Key]struct{}) {
	for _, key := range p.store.Keys(kind) {
		if _, ok := seen[key]; ok {
			delete(p.misses, key)
			continue
		}
		p.misses[key]++
		if p.misses[key] < missThreshold {
			continue
		}
		changed, _, _ := p.store.Update(key, markUnreachable)
		if changed {
			p.logger.Warn("entity missing from bridge; marked unreachable", "key", key.String())
		}
	}
}

func markUnreachable(current model.Entity) model.Entity {
	switch entity := current.(type) {
	case model.Sensor:
		entity.Reachable = false
		return entity
	case model.Light:
		entity.Reachable = false
		return entity
	default:
		return nil
	}
}
