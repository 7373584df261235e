// Package state holds the single in-memory view of sensors, lights and run
// statistics shared by the poller, the event stream and the HTTP write path.
package state

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/model"
)

// Change is one accepted mutation, numbered in acceptance order.
type Change struct {
	Seq      uint64
	Key      model.Key
	Previous model.Entity
	Current  model.Entity
	At       time.Time
}

// Created reports whether the change introduced a new entity.
func (c Change) Created() bool {
	return c.Previous == nil
}

// Observer receives accepted changes inside the commit section, so
// implementations must return quickly and must not call back into the Store.
type Observer interface {
	Observe(change Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(change Change)

func (f ObserverFunc) Observe(change Change) { f(change) }

// Snapshot is a consistent copy of every tracked entity at one sequence number.
type Snapshot struct {
	Seq     uint64         `json:"seq"`
	Sensors []model.Sensor `json:"sensors"`
	Lights  []model.Light  `json:"lights"`
}

// Store is safe for concurrent use. Read-modify-write is serialised per
// entity; commits are serialised briefly to assign sequence numbers.
type Store struct {
	clock  clock.Clock
	logger *slog.Logger
	stats  *Stats
	events *eventLog

	mu    sync.RWMutex
	slots map[model.Key]*slot

	commitMu  sync.Mutex
	seq       uint64
	observers []Observer
}

type slot struct {
	mu    sync.Mutex
	value atomic.Pointer[entityBox]
}

type entityBox struct {
	entity model.Entity
}

func (s *slot) load() model.Entity {
	box := s.value.Load()
	if box == nil {
		return nil
	}
	return box.entity
}

// New creates an empty store. Observers are attached with Observe before
// producers start.
func New(clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		clock:  clk,
		logger: logger,
		stats:  newStats(clk.Now()),
		events: newEventLog(defaultRecentEvents),
		slots:  map[model.Key]*slot{},
	}
}

// Observe registers an observer for every subsequently accepted change.
func (s *Store) Observe(o Observer) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Store) Stats() *Stats {
	return s.stats
}

// RecentEvents returns the most recent presence transitions, newest first.
func (s *Store) RecentEvents() []Event {
	return s.events.list()
}

// Upsert replaces the entity under its key. changed is false when the
// candidate is observably equal to the stored value.
func (s *Store) Upsert(entity model.Entity) (changed bool, previous, current model.Entity) {
	return s.Update(entity.Key(), func(model.Entity) model.Entity { return entity })
}

// Update applies mutate to the current value of key (nil when unknown) and
// commits the result. Returning nil from mutate discards the update.
func (s *Store) Update(key model.Key, mutate func(current model.Entity) model.Entity) (changed bool, previous, current model.Entity) {
	sl := s.slotFor(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	previous = sl.load()
	candidate := mutate(previous)
	if candidate == nil || candidate.Key() != key {
		return false, previous, previous
	}
	if previous != nil && previous.Equivalent(candidate) {
		return false, previous, previous
	}

	now := s.clock.Now().UTC()
	current = candidate.Stamp(now)

	s.commitMu.Lock()
	sl.value.Store(&entityBox{entity: current})
	s.seq++
	change := Change{Seq: s.seq, Key: key, Previous: previous, Current: current, At: now}
	s.stats.recordChange(change)
	s.events.record(change)
	for _, o := range s.observers {
		o.Observe(change)
	}
	s.commitMu.Unlock()

	return true, previous, current
}

// Get returns the committed value for key.
func (s *Store) Get(key model.Key) (model.Entity, bool) {
	s.mu.RLock()
	sl, ok := s.slots[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	entity := sl.load()
	return entity, entity != nil
}

// Keys lists the keys of every entity of kind currently stored.
func (s *Store) Keys(kind model.EntityKind) []model.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]model.Key, 0, len(s.slots))
	for key, sl := range s.slots {
		if key.Kind == kind && sl.load() != nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// Snapshot returns an immutable copy of all entities.
func (s *Store) Snapshot() Snapshot {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.snapshotLocked()
}

// WithSnapshot calls fn with a snapshot while no change can commit, so a
// subscriber registered inside fn sees every later change exactly once.
func (s *Store) WithSnapshot(fn func(snap Snapshot)) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	fn(s.snapshotLocked())
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Seq: s.seq, Sensors: []model.Sensor{}, Lights: []model.Light{}}
	s.mu.RLock()
	for _, sl := range s.slots {
		switch entity := sl.load().(type) {
		case model.Sensor:
			snap.Sensors = append(snap.Sensors, entity)
		case model.Light:
			snap.Lights = append(snap.Lights, entity)
		}
	}
	s.mu.RUnlock()

	sort.Slice(snap.Sensors, func(i, j int) bool { return lessID(snap.Sensors[i].ID, snap.Sensors[j].ID) })
	sort.Slice(snap.Lights, func(i, j int) bool { return lessID(snap.Lights[i].ID, snap.Lights[j].ID) })
	return snap
}

func (s *Store) slotFor(key model.Key) *slot {
	s.mu.RLock()
	sl, ok := s.slots[key]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[key]; ok {
		return sl
	}
	sl = &slot{}
	s.slots[key] = sl
	return sl
}

// lessID orders numeric controller ids numerically and everything else lexically.
func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	if (errA == nil) != (errB == nil) {
		return errA == nil
	}
	return a < b
}
