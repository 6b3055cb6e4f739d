package projection

import (
	"context"
	"fmt"

	"cimchain/eventing/store"
)

// Handler applies one kind of read-model update for a subset of event
// types. Generalized from the teacher's IProjection interface
// (manager.go), split out of the monolithic projection object so a
// single read-model type can have many independent handlers, each
// isolated from the others' failures by Manager.Dispatch.
type Handler[T any] interface {
	// Name identifies the handler for checkpointing and status
	// reporting; must be stable across restarts.
	Name() string

	// HandledEventTypes lists the event types this handler reacts to.
	// An empty list means "every event type" — spec §4.6's should_handle
	// default. Manager.Dispatch and the BaseHandler default
	// RebuildFromEvents both apply this same rule via matchesEventType.
	HandledEventTypes() []string

	// Handle applies ev to readStore. A returned error marks this
	// handler's HandlerStatus as failed but never stops dispatch to
	// sibling handlers (spec §8, handler failure isolation).
	Handle(ctx context.Context, readStore Store[T], ev store.StoredEvent) error

	// RebuildFromEvents replaces readStore's entire state by replaying
	// events from scratch (spec §4.6's rebuild_from_events). The default
	// on BaseHandler clears readStore and calls Handle once per matching
	// event, in order; a handler whose read model needs a cheaper partial
	// rebuild may override this instead.
	RebuildFromEvents(ctx context.Context, readStore Store[T], events []store.StoredEvent) error
}

// matchesEventType reports whether eventType should be dispatched to a
// handler whose HandledEventTypes() returned types. An empty types list
// stands for "all event types" — the spec's should_handle default that a
// bare HandledEventTypes() allowlist would otherwise drop.
func matchesEventType(types []string, eventType string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == eventType {
			return true
		}
	}
	return false
}

// BaseHandler supplies Name/HandledEventTypes from static fields, plus a
// clear-then-replay default RebuildFromEvents, so concrete handlers only
// need to implement Handle, mirroring the teacher's pattern of small
// structs embedding shared boilerplate. The default RebuildFromEvents
// mirrors ProjectionHandler::rebuild_from_events's default body
// (original_source/modules/cim-projections/src/projection.rs): Go has no
// way for an embedded struct to call back into the embedding type's own
// method, so the embedding handler must assign Self to itself once
// constructed for the default to be able to invoke its Handle.
type BaseHandler[T any] struct {
	HandlerName string
	EventTypes  []string
	Self        Handler[T]
}

func (b BaseHandler[T]) Name() string { return b.HandlerName }

func (b BaseHandler[T]) HandledEventTypes() []string { return b.EventTypes }

// RebuildFromEvents clears readStore and replays events, in order,
// through Self.Handle — the default "clear the store and replay"
// behavior spec §4.6 names. Self must be set by the embedding handler's
// constructor; a handler that forgets to do so gets a descriptive error
// rather than a nil-pointer panic.
func (b BaseHandler[T]) RebuildFromEvents(ctx context.Context, readStore Store[T], events []store.StoredEvent) error {
	if b.Self == nil {
		return fmt.Errorf("projection: BaseHandler.Self not set for handler %q; the embedding handler must assign BaseHandler.Self to itself after construction", b.HandlerName)
	}
	if err := readStore.Clear(ctx); err != nil {
		return err
	}
	for _, ev := range events {
		if !matchesEventType(b.EventTypes, ev.EventType) {
			continue
		}
		if err := b.Self.Handle(ctx, readStore, ev); err != nil {
			return err
		}
	}
	return nil
}
