package state

// #region types

// Hashes carries the per-layer hex digests and the composite hash of a
// snapshot. Total is computed over the raw digest bytes of the three
// layers, not their hex strings.
type Hashes struct {
	Root   string
	Domain string
	Local  string
	Total  string
}

// Snapshot is an immutable, fully isolated materialization of the store:
// independently owned copies of every layer plus their merge (local over
// domain over root). Consumed by exactly one evaluation, never mutated.
type Snapshot struct {
	Root   map[string]any
	Domain map[string]any
	Local  map[string]any
	Merged map[string]any

	Hashes    Hashes
	TakenAtMS int64
	AgeMS     int64
	Stale     bool
}

// #endregion types

// #region config

// StoreConfig bounds the context store.
type StoreConfig struct {
	// MaxShardBytes caps the canonical byte length of each layer.
	MaxShardBytes int
	// StalenessBoundMS is the local-layer age past which snapshots flag stale.
	StalenessBoundMS int64
	// MaxDepth caps the nesting depth of any layer tree.
	MaxDepth int
	// Clock returns unix milliseconds. Nil means wall clock.
	Clock func() int64
}

// DefaultStoreConfig returns the production bounds.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxShardBytes:    256 * 1024,
		StalenessBoundMS: 100,
		MaxDepth:         32,
	}
}

// #endregion config
