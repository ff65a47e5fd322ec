// Package redis provides a Redis-backed store.CheckpointStore, built on
// github.com/redis/go-redis/v9.
//
// # Usage
//
//	store := redis.NewRedisCheckpointStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		DB:     0,              // Redis database number
//		Prefix: "tradeorch:",   // Optional key prefix, defaults to "langgraph:"
//		TTL:    24 * time.Hour, // Optional expiry, defaults to 0 (no expiry)
//	})
//
// # Key Layout
//
//	{prefix}checkpoint:{checkpoint_id}            the JSON-encoded checkpoint
//	{prefix}execution:{execution_id}:checkpoints  the set of that execution's checkpoint IDs
//
// Save writes the checkpoint key and, when Checkpoint.Metadata["execution_id"]
// is a non-empty string, adds the ID to that execution's set; with a TTL set,
// both keys expire after it. List reads the set and skips IDs whose
// checkpoint key no longer exists; the order of the returned checkpoints is
// not defined. Delete returns an error for an unknown checkpoint ID. Clear
// deletes every checkpoint in the set and then the set.
package redis
