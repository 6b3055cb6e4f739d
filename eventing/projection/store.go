// Package projection implements the CQRS read side: typed read-model
// stores, per-projection checkpoints, handler dispatch with failure
// isolation, and a runner that drives handlers off an EventStore.
package projection

import "context"

// Store persists and queries a single read-model type T. Generalized
// from the Rust ProjectionStore<T> trait (cim-projections/src/store.rs)
// into Go generics, resolving spec §9's Open Question in favor of
// full static typing over a type-erased dynamic-dispatch façade.
type Store[T any] interface {
	Save(ctx context.Context, id string, model T) error
	Get(ctx context.Context, id string) (T, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]T, error)
	Query(ctx context.Context, predicate func(T) bool) ([]T, error)
	Clear(ctx context.Context) error
}

// PositionStore tracks each projection's last-applied sequence number,
// keyed by projection name, so a runner can resume after a restart
// without reprocessing already-applied events.
type PositionStore interface {
	GetPosition(ctx context.Context, projectionName string) (uint64, error)
	SetPosition(ctx context.Context, projectionName string, position uint64) error
}
