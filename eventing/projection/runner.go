package projection

import (
	"context"
	"math"

	"cimchain/eventing/store"
	"cimchain/logging"
)

// catchUpBatchSize bounds a single catch-up read, mirroring
// run_catch_up's `1000` in cim-projections/src/manager.rs.
const catchUpBatchSize = 1000

// Runner drives a Manager[T] off an EventStore: RunForAggregate
// subscribes for live dispatch starting after the manager's minimum
// checkpoint, RunCatchUp replays history in bounded batches. Grounded
// in cim-projections/src/manager.rs's ProjectionRunner, adapted from
// its async subscription loop to Go channels and from its single
// DynamicProjectionStore to the generic Manager[T].
type Runner[T any] struct {
	manager    *Manager[T]
	eventStore store.EventStore
	logger     logging.ILogger
}

// NewRunner builds a runner driving manager off eventStore.
func NewRunner[T any](manager *Manager[T], eventStore store.EventStore) *Runner[T] {
	return &Runner[T]{
		manager:    manager,
		eventStore: eventStore,
		logger:     logging.GetLogger().WithField("component", "projection.runner"),
	}
}

func (r *Runner[T]) minPosition(ctx context.Context) uint64 {
	handlers := r.manager.Handlers()
	if len(handlers) == 0 {
		return 0
	}
	min := uint64(math.MaxUint64)
	for _, h := range handlers {
		pos, err := r.positionFor(ctx, h.Name())
		if err != nil {
			r.logger.Warn(ctx, "failed to read handler position, treating as zero",
				logging.String("handler", h.Name()), logging.Error(err))
			pos = 0
		}
		if pos < min {
			min = pos
		}
	}
	if min == uint64(math.MaxUint64) {
		return 0
	}
	return min
}

func (r *Runner[T]) positionFor(ctx context.Context, handlerName string) (uint64, error) {
	status, ok := r.manager.Status(handlerName)
	if ok && status.Position > 0 {
		return status.Position, nil
	}
	if r.manager.positions == nil {
		return 0, nil
	}
	return r.manager.positions.GetPosition(ctx, handlerName)
}

// RunForAggregate subscribes to aggregateID's live event stream and
// dispatches every event whose sequence exceeds the minimum checkpoint
// across all registered handlers, until ctx is cancelled. Call
// RunCatchUp first to process history; RunForAggregate only sees
// events appended after the subscription opens (spec §4.4's
// "new"-only delivery policy).
func (r *Runner[T]) RunForAggregate(ctx context.Context, aggregateID string) error {
	minPos := r.minPosition(ctx)

	ch, err := r.eventStore.SubscribeToEvents(ctx, aggregateID)
	if err != nil {
		return err
	}

	r.logger.Info(ctx, "starting projection runner",
		logging.String("aggregate_id", aggregateID), logging.Uint64("start_position", minPos))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Sequence <= minPos {
				continue
			}
			r.manager.Dispatch(ctx, ev)
		}
	}
}

// RunCatchUp replays each aggregate's history, in batches of
// catchUpBatchSize, starting at the minimum checkpoint across all
// registered handlers, dispatching every fetched event to the manager.
func (r *Runner[T]) RunCatchUp(ctx context.Context, aggregateIDs []string) error {
	for _, aggregateID := range aggregateIDs {
		minPos := r.minPosition(ctx)

		r.logger.Info(ctx, "running catch-up for aggregate",
			logging.String("aggregate_id", aggregateID), logging.Uint64("from_position", minPos))

		from := minPos
		for {
			events, err := r.eventStore.GetEvents(ctx, aggregateID, from+1, catchUpBatchSize)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				break
			}
			for _, ev := range events {
				r.manager.Dispatch(ctx, ev)
			}
			from = events[len(events)-1].Sequence
			if len(events) < catchUpBatchSize {
				break
			}
		}
	}
	return nil
}
