package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	evterrors "cimchain/errors"
)

// SQLProjectionStore is a database/sql-backed Store[T]. It marshals T
// as JSON into a single data column, keeping the schema stable across
// read-model shape changes. Simplified from the teacher's
// checkpoint_sql.go (which routes through gochen's data/db/sqlbuilder
// dialect abstraction) down to raw SQL against modernc.org/sqlite, per
// DESIGN.md's documented scope decision; the CREATE TABLE IF NOT
// EXISTS / UPSERT shape still follows checkpoint_sql.go and the Rust
// PostgresProjectionStore.
type SQLProjectionStore[T any] struct {
	db        *sql.DB
	tableName string
}

// NewSQLProjectionStore opens (creating if absent) the read-model
// table tableName on db.
func NewSQLProjectionStore[T any](ctx context.Context, db *sql.DB, tableName string) (*SQLProjectionStore[T], error) {
	if tableName == "" {
		tableName = "projection_read_models"
	}
	s := &SQLProjectionStore[T]{db: db, tableName: tableName}
	if err := s.createTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLProjectionStore[T]) createTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
	)`, s.tableName)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return evterrors.NewStoreError("failed to create projection table", err)
	}
	return nil
}

func (s *SQLProjectionStore[T]) Save(ctx context.Context, id string, model T) error {
	data, err := json.Marshal(model)
	if err != nil {
		return evterrors.NewSerializationError("failed to marshal read model", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, data, updated_at) VALUES (?, ?, strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, s.tableName)
	if _, err := s.db.ExecContext(ctx, q, id, string(data)); err != nil {
		return evterrors.NewStoreError("failed to upsert read model", err)
	}
	return nil
}

func (s *SQLProjectionStore[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	q := fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, s.tableName)
	row := s.db.QueryRowContext(ctx, q, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return zero, false, nil
		}
		return zero, false, evterrors.NewStoreError("failed to load read model", err)
	}
	var model T
	if err := json.Unmarshal([]byte(raw), &model); err != nil {
		return zero, false, evterrors.NewSerializationError("failed to unmarshal read model", err)
	}
	return model, true, nil
}

func (s *SQLProjectionStore[T]) Delete(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return evterrors.NewStoreError("failed to delete read model", err)
	}
	return nil
}

func (s *SQLProjectionStore[T]) List(ctx context.Context) ([]T, error) {
	q := fmt.Sprintf(`SELECT data FROM %s`, s.tableName)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, evterrors.NewStoreError("failed to list read models", err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, evterrors.NewStoreError("failed to scan read model row", err)
		}
		var model T
		if err := json.Unmarshal([]byte(raw), &model); err != nil {
			return nil, evterrors.NewSerializationError("failed to unmarshal read model", err)
		}
		out = append(out, model)
	}
	return out, rows.Err()
}

// Query fetches every row and applies predicate in process. The
// read-model tables this store targets are small CQRS projections, not
// a general query engine, so pushing the predicate into SQL isn't
// worth the complexity here.
func (s *SQLProjectionStore[T]) Query(ctx context.Context, predicate func(T) bool) ([]T, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, v := range all {
		if predicate(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *SQLProjectionStore[T]) Clear(ctx context.Context) error {
	q := fmt.Sprintf(`DELETE FROM %s`, s.tableName)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return evterrors.NewStoreError("failed to clear read models", err)
	}
	return nil
}

var _ Store[struct{}] = (*SQLProjectionStore[struct{}])(nil)

// SQLPositionStore is a database/sql-backed PositionStore, mirroring
// SQLCheckpointStore's UPSERT pattern for the simpler (name, position)
// shape this spec requires (no last-event-id/last-event-time columns).
type SQLPositionStore struct {
	db        *sql.DB
	tableName string
}

// NewSQLPositionStore opens (creating if absent) the checkpoint table
// tableName on db.
func NewSQLPositionStore(ctx context.Context, db *sql.DB, tableName string) (*SQLPositionStore, error) {
	if tableName == "" {
		tableName = "projection_positions"
	}
	s := &SQLPositionStore{db: db, tableName: tableName}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		projection_name TEXT PRIMARY KEY,
		position INTEGER NOT NULL
	)`, s.tableName)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, evterrors.NewStoreError("failed to create position table", err)
	}
	return s, nil
}

func (s *SQLPositionStore) GetPosition(ctx context.Context, projectionName string) (uint64, error) {
	q := fmt.Sprintf(`SELECT position FROM %s WHERE projection_name = ?`, s.tableName)
	row := s.db.QueryRowContext(ctx, q, projectionName)
	var pos uint64
	if err := row.Scan(&pos); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, evterrors.NewStoreError("failed to load position", err)
	}
	return pos, nil
}

func (s *SQLPositionStore) SetPosition(ctx context.Context, projectionName string, position uint64) error {
	q := fmt.Sprintf(`INSERT INTO %s (projection_name, position) VALUES (?, ?)
		ON CONFLICT(projection_name) DO UPDATE SET position = excluded.position`, s.tableName)
	if _, err := s.db.ExecContext(ctx, q, projectionName, position); err != nil {
		return evterrors.NewStoreError("failed to upsert position", err)
	}
	return nil
}

var _ PositionStore = (*SQLPositionStore)(nil)
