package projection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cimchain/eventing/store"
	"cimchain/logging"
)

// HandlerStatus reports one handler's progress, folding the teacher's
// ProjectionStatus and the Rust ProjectionMetadata (cim-projections)
// into a single struct per SPEC_FULL.md's supplemented-features
// decision.
type HandlerStatus struct {
	Name            string
	Position        uint64
	ProcessedEvents int64
	FailedEvents    int64
	Status          string // running, idle, error
	LastError       string
	UpdatedAt       time.Time
}

// Manager dispatches stored events to every registered Handler[T] for
// one read-model type, advancing each handler's own checkpoint and
// isolating each handler's failures from its siblings and from the
// caller (spec §8). Generalized from the teacher's
// ProjectionManager/projectionEventHandler machinery (manager.go),
// replacing its bus-subscription plumbing with direct calls from a
// Runner.
type Manager[T any] struct {
	mu        sync.RWMutex
	store     Store[T]
	positions PositionStore
	handlers  map[string]Handler[T]
	statuses  map[string]*HandlerStatus
	logger    logging.ILogger
}

// NewManager creates a manager over readStore, persisting checkpoints
// to positions (may be nil to disable checkpointing).
func NewManager[T any](readStore Store[T], positions PositionStore) *Manager[T] {
	return &Manager[T]{
		store:     readStore,
		positions: positions,
		handlers:  make(map[string]Handler[T]),
		statuses:  make(map[string]*HandlerStatus),
		logger:    logging.GetLogger().WithField("component", "projection.manager"),
	}
}

// Register adds h to the manager, initializing its status. Registering
// a handler under a name already in use replaces the previous handler
// without resetting its recorded status.
func (m *Manager[T]) Register(h Handler[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[h.Name()] = h
	if _, ok := m.statuses[h.Name()]; !ok {
		m.statuses[h.Name()] = &HandlerStatus{Name: h.Name(), Status: "idle", UpdatedAt: time.Now()}
	}
}

// Handlers returns the registered handlers, in no particular order, for
// Runner to compute the minimum checkpoint position across all of them.
func (m *Manager[T]) Handlers() []Handler[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Handler[T], 0, len(m.handlers))
	for _, h := range m.handlers {
		out = append(out, h)
	}
	return out
}

// Status returns the current HandlerStatus for name.
func (m *Manager[T]) Status(name string) (HandlerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	if !ok {
		return HandlerStatus{}, false
	}
	return *s, true
}

// Dispatch routes ev to every handler whose HandledEventTypes matches
// ev.EventType (an empty HandledEventTypes list matches every event
// type; see matchesEventType). A panicking or erroring handler is
// recorded as failed and skipped; it never stops dispatch to the
// remaining handlers, and Dispatch itself never returns an error.
func (m *Manager[T]) Dispatch(ctx context.Context, ev store.StoredEvent) {
	m.mu.RLock()
	matched := make([]Handler[T], 0, len(m.handlers))
	for _, h := range m.handlers {
		if matchesEventType(h.HandledEventTypes(), ev.EventType) {
			matched = append(matched, h)
		}
	}
	m.mu.RUnlock()

	for _, h := range matched {
		m.dispatchOne(ctx, h, ev)
	}
}

func (m *Manager[T]) dispatchOne(ctx context.Context, h Handler[T], ev store.StoredEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.recordFailure(ctx, h.Name(), ev, fmt.Sprintf("handler panicked: %v", r))
		}
	}()

	if err := h.Handle(ctx, m.store, ev); err != nil {
		m.recordFailure(ctx, h.Name(), ev, err.Error())
		return
	}

	// The checkpoint only moves forward: an event at or below the
	// handler's recorded position (in memory or persisted) leaves it as is.
	var stored uint64
	if m.positions != nil {
		if p, err := m.positions.GetPosition(ctx, h.Name()); err == nil {
			stored = p
		}
	}

	m.mu.Lock()
	status, ok := m.statuses[h.Name()]
	if !ok {
		status = &HandlerStatus{Name: h.Name()}
		m.statuses[h.Name()] = status
	}
	status.ProcessedEvents++
	if stored > status.Position {
		status.Position = stored
	}
	advance := ev.Sequence > status.Position
	if advance {
		status.Position = ev.Sequence
	}
	status.Status = "running"
	status.LastError = ""
	status.UpdatedAt = time.Now()
	m.mu.Unlock()

	if m.positions != nil && advance {
		if err := m.positions.SetPosition(ctx, h.Name(), ev.Sequence); err != nil {
			m.logger.Warn(ctx, "failed to persist projection checkpoint",
				logging.String("handler", h.Name()), logging.Error(err))
		}
	}
}

func (m *Manager[T]) recordFailure(ctx context.Context, name string, ev store.StoredEvent, reason string) {
	m.mu.Lock()
	status, ok := m.statuses[name]
	if !ok {
		status = &HandlerStatus{Name: name}
		m.statuses[name] = status
	}
	status.FailedEvents++
	status.Status = "error"
	status.LastError = reason
	status.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.logger.Warn(ctx, "projection handler failed, continuing with remaining handlers",
		logging.String("handler", name),
		logging.String("aggregate_id", ev.AggregateID),
		logging.Uint64("sequence", ev.Sequence),
		logging.String("event_type", ev.EventType),
		logging.String("reason", reason))
}
