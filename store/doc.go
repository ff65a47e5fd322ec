// Package store defines the CheckpointStore interface and the Checkpoint
// record it persists, plus a TypeRegistry that wraps values of registered
// struct types with their type name so they survive a JSON round trip.
//
// # Store Interface
//
//	type CheckpointStore interface {
//	    Save(ctx context.Context, checkpoint *Checkpoint) error
//	    Load(ctx context.Context, checkpointID string) (*Checkpoint, error)
//	    List(ctx context.Context, executionID string) ([]*Checkpoint, error)
//	    Delete(ctx context.Context, checkpointID string) error
//	    Clear(ctx context.Context, executionID string) error
//	}
//
// List and Clear select the checkpoints that belong to one execution. The
// sqlite, postgres and redis stores match on Checkpoint.Metadata["execution_id"].
//
// # Implementations
//
//   - store/memory: an in-process map.
//   - store/file: one JSON file per checkpoint in a directory.
//   - store/sqlite: one SQLite table, created when the store is opened.
//   - store/postgres: one PostgreSQL table on a pgx pool, created by InitSchema.
//   - store/redis: one key per checkpoint plus a per-execution index set,
//     with an optional TTL.
//
// cmd/tradeserver picks one of these with its -store flag to persist
// session descriptors.
//
// Example:
//
//	import "github.com/LingXuanTech/tradeorch/store/sqlite"
//
//	store, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//	    Path: "./checkpoints.db",
//	})
package store
