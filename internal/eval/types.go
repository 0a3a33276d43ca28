package eval

// #region config

// Config holds evaluator thresholds. Context values override where the
// shard carries its own (modal.certainty_threshold, spatial.cone).
type Config struct {
	Mode               string  // "strict" or "partial"
	CertaintyThreshold float64 // sha acceptance level
	NearDistance       float64 // partial-mode default for thresholds.near
	FarDistance        float64 // partial-mode default for thresholds.far
	MotionCosTheta     float64 // tra/fra cone half-angle cosine
	MotionVMin         float64 // minimum speed for directional motion
	MotionDMin         float64 // minimum separation for directional motion
	QuantSomeRatio     float64 // mun acceptance ratio
	QuantFewRatio      float64 // fiu acceptance ratio
	MaxDepth           int     // evaluation recursion bound
}

// DefaultConfig returns the frozen v1 thresholds.
func DefaultConfig() Config {
	return Config{
		Mode:               "strict",
		CertaintyThreshold: 0.8,
		NearDistance:       1.0,
		FarDistance:        10.0,
		MotionCosTheta:     0.707,
		MotionVMin:         0.05,
		MotionDMin:         0.5,
		QuantSomeRatio:     0.4,
		QuantFewRatio:      0.1,
		MaxDepth:           100,
	}
}

// #endregion config

// #region result

// Meta carries the provenance coordinates of a result.
type Meta struct {
	ContextHash string `json:"context_hash"`
	Mode        string `json:"mode"`
	RootHash    string `json:"root_hash,omitempty"`
	DomainHash  string `json:"domain_hash,omitempty"`
	LocalHash   string `json:"local_hash,omitempty"`
}

// Result is the typed verdict of one evaluation.
type Result struct {
	Domain  string `json:"domain"`
	Value   any    `json:"value"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Meta    Meta   `json:"meta"`
}

// #endregion result

// #region partial-defaults

// partialDefaults stands in for absent shards in partial mode. Strict mode
// never consults it.
var partialDefaults = map[string]any{
	"literals": map[string]any{},
	"spatial": map[string]any{
		"thresholds":  map[string]any{"near": 1.0, "far": 10.0},
		"orientation": map[string]any{},
	},
	"temporal": map[string]any{"now": 0.0, "max_skew_ms": 1000.0},
	"modal":    map[string]any{},
	"axioms":   map[string]any{"value_system": map[string]any{}},
	"delivery": map[string]any{},
	"audit":    map[string]any{},
	"entities": map[string]any{},
}

// #endregion partial-defaults
