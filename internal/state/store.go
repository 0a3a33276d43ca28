// Package state holds the layered context model: three owned layers
// (root, domain, local) behind one lock, exported only as deep copies,
// hashed per layer with a composite hash over raw digest bytes.
package state

// #region imports
import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/errs"
)

// #endregion imports

// #region store

// Store owns the three context layers. Root and domain change rarely and
// keep cached digests; local is replaced or patched per tick.
type Store struct {
	mu  sync.RWMutex
	cfg StoreConfig

	root   map[string]any
	domain map[string]any
	local  map[string]any

	rootDigest   []byte
	domainDigest []byte
	rootHash     string
	domainHash   string

	lastLocalUpdateMS int64
}

// NewStore deep-copies all three layers, validates depth and canonical
// size, and pre-computes the static layer digests. Nil layers become
// empty maps.
func NewStore(root, domain, local map[string]any, cfg StoreConfig) (*Store, error) {
	if cfg.MaxShardBytes == 0 {
		cfg.MaxShardBytes = DefaultStoreConfig().MaxShardBytes
	}
	if cfg.StalenessBoundMS == 0 {
		cfg.StalenessBoundMS = DefaultStoreConfig().StalenessBoundMS
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultStoreConfig().MaxDepth
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	s := &Store{cfg: cfg}
	if err := s.setRoot(root); err != nil {
		return nil, err
	}
	if err := s.setDomain(domain); err != nil {
		return nil, err
	}
	if err := s.setLocal(local); err != nil {
		return nil, err
	}
	s.lastLocalUpdateMS = cfg.Clock()
	return s, nil
}

// #endregion store

// #region layer-validation

func (s *Store) checkLayer(layer map[string]any) ([]byte, string, error) {
	if d := depth(layer); d > s.cfg.MaxDepth {
		return nil, "", errs.New(errs.CodeContextTooDeep, "layer depth %d exceeds limit %d", d, s.cfg.MaxDepth)
	}
	data, err := canonical.Marshal(layer)
	if err != nil {
		return nil, "", err
	}
	if len(data) > s.cfg.MaxShardBytes {
		return nil, "", errs.New(errs.CodeContextTooLarge, "layer size %d exceeds limit %d", len(data), s.cfg.MaxShardBytes)
	}
	digest, err := layerDigest(layer)
	if err != nil {
		return nil, "", err
	}
	return digest, hex.EncodeToString(digest), nil
}

// layerDigest hashes the identity surface of a layer: keys prefixed with
// '_' are stripped first, so transient bookkeeping never shifts identity.
func layerDigest(layer map[string]any) ([]byte, error) {
	stripped, _ := stripInternal(layer).(map[string]any)
	if stripped == nil {
		stripped = map[string]any{}
	}
	data, err := canonical.Marshal(stripped)
	if err != nil {
		return nil, err
	}
	return canonical.SumBytes(data), nil
}

func (s *Store) setRoot(root map[string]any) error {
	cp := copyMap(root)
	digest, hash, err := s.checkLayer(cp)
	if err != nil {
		return err
	}
	s.root, s.rootDigest, s.rootHash = cp, digest, hash
	return nil
}

func (s *Store) setDomain(domain map[string]any) error {
	cp := copyMap(domain)
	digest, hash, err := s.checkLayer(cp)
	if err != nil {
		return err
	}
	s.domain, s.domainDigest, s.domainHash = cp, digest, hash
	return nil
}

func (s *Store) setLocal(local map[string]any) error {
	cp := copyMap(local)
	if _, _, err := s.checkLayer(cp); err != nil {
		return err
	}
	s.local = cp
	return nil
}

// #endregion layer-validation

// #region mutators

// PatchLocal deep-merges delta into a fresh copy of the local layer. The
// store is unchanged if validation fails.
func (s *Store) PatchLocal(delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := deepMerge(s.local, delta)
	if _, _, err := s.checkLayer(merged); err != nil {
		return err
	}
	s.local = merged
	s.lastLocalUpdateMS = s.cfg.Clock()
	return nil
}

// ReplaceLocal substitutes the local layer wholesale.
func (s *Store) ReplaceLocal(local map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setLocal(local); err != nil {
		return err
	}
	s.lastLocalUpdateMS = s.cfg.Clock()
	return nil
}

// ReplaceDomain substitutes the domain layer and re-freezes its digest.
func (s *Store) ReplaceDomain(domain map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDomain(domain)
}

// UnsafeReplaceRoot substitutes the root layer. Root holds global safety
// invariants; callers must treat this as a deployment event, not a tick.
func (s *Store) UnsafeReplaceRoot(root map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setRoot(root)
}

// #endregion mutators

// #region accessors

// Root returns an independently owned copy of the root layer.
func (s *Store) Root() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.root)
}

// Domain returns an independently owned copy of the domain layer.
func (s *Store) Domain() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.domain)
}

// Local returns an independently owned copy of the local layer.
func (s *Store) Local() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.local)
}

// #endregion accessors

// #region snapshot

// Snapshot materializes an isolated copy of every layer plus their merge,
// with per-layer hashes and the composite hash. Root and domain digests
// are reused from cache; local is hashed fresh.
func (s *Store) Snapshot() (*Snapshot, error) {
	nowMS := s.cfg.Clock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rootCopy := copyMap(s.root)
	domainCopy := copyMap(s.domain)
	localCopy := copyMap(s.local)

	merged := deepMerge(deepMerge(rootCopy, domainCopy), localCopy)

	localDigest, err := layerDigest(localCopy)
	if err != nil {
		return nil, err
	}

	total := sha256.New()
	total.Write(s.rootDigest)
	total.Write(s.domainDigest)
	total.Write(localDigest)

	age := nowMS - s.lastLocalUpdateMS
	return &Snapshot{
		Root:   rootCopy,
		Domain: domainCopy,
		Local:  localCopy,
		Merged: merged,
		Hashes: Hashes{
			Root:   s.rootHash,
			Domain: s.domainHash,
			Local:  hex.EncodeToString(localDigest),
			Total:  hex.EncodeToString(total.Sum(nil)),
		},
		TakenAtMS: nowMS,
		AgeMS:     age,
		Stale:     age > s.cfg.StalenessBoundMS,
	}, nil
}

// #endregion snapshot

// #region tree-helpers

// copyMap deep-copies a map tree. Nil maps become empty maps so layers are
// always owned, never aliased.
func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return copyMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = copyValue(item)
		}
		return out
	default:
		return x
	}
}

// stripInternal drops '_'-prefixed keys from a value tree.
func stripInternal(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if len(k) > 0 && k[0] == '_' {
				continue
			}
			out[k] = stripInternal(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = stripInternal(item)
		}
		return out
	default:
		return v
	}
}

// deepMerge overlays overlay onto base, recursing on overlapping maps and
// replacing everything else. Neither input is mutated.
func deepMerge(base, overlay map[string]any) map[string]any {
	result := copyMap(base)
	for k, v := range overlay {
		if existing, ok := result[k].(map[string]any); ok {
			if sub, ok := v.(map[string]any); ok {
				result[k] = deepMerge(existing, sub)
				continue
			}
		}
		result[k] = copyValue(v)
	}
	return result
}

// depth returns the nesting depth of a value tree. Scalars count 0, an
// empty map counts 1.
func depth(v any) int {
	switch x := v.(type) {
	case map[string]any:
		max := 0
		for _, item := range x {
			if d := depth(item); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, item := range x {
			if d := depth(item); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}

// Merge exposes the layer merge rule for callers assembling evaluation
// contexts from projections.
func Merge(base, overlay map[string]any) map[string]any {
	return deepMerge(base, overlay)
}

// Copy exposes the deep copy used for layer isolation.
func Copy(m map[string]any) map[string]any {
	return copyMap(m)
}

// Depth exposes the tree depth measure used by layer validation.
func Depth(v any) int {
	return depth(v)
}

// #endregion tree-helpers
