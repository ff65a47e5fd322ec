// Package sqlite provides a SQLite-backed store.CheckpointStore, using the
// github.com/mattn/go-sqlite3 driver.
//
// # Basic Usage
//
//	import "github.com/LingXuanTech/tradeorch/store/sqlite"
//
//	store, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//		Path:      "./checkpoints.db", // Database file path
//		TableName: "checkpoints",      // Optional, defaults to "checkpoints"
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
// # Schema
//
// NewSqliteCheckpointStore opens the database and runs InitSchema, which
// creates the table (named by TableName) and an index on execution_id if
// they do not exist:
//
//	CREATE TABLE IF NOT EXISTS checkpoints (
//		id           TEXT PRIMARY KEY,
//		execution_id TEXT NOT NULL,
//		node_name    TEXT NOT NULL,
//		state        TEXT NOT NULL,
//		metadata     TEXT,
//		timestamp    DATETIME NOT NULL,
//		version      INTEGER NOT NULL
//	);
//
// State and metadata are stored as JSON text. Save upserts by id and fills
// execution_id from Checkpoint.Metadata["execution_id"] (empty when absent).
// List and Clear select by execution_id, and List returns rows in timestamp
// order. Deleting an unknown ID is not an error.
package sqlite
