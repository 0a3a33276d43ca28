package runtime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/noe-kernel/internal/eval"
	"github.com/danielpatrickdp/noe-kernel/internal/projection"
	"github.com/danielpatrickdp/noe-kernel/internal/provenance"
)

// #region runtime-config

// Config holds the knobs for a runtime instance. Mode applies to the
// validator and the evaluator together; mixing a strict gate with a
// partial evaluator would make refusals unreproducible.
type Config struct {
	Mode            string `yaml:"mode"`   // "strict" | "partial"
	Source          string `yaml:"source"` // provenance source tag on emitted actions
	MaxContextDepth int    `yaml:"max_context_depth"`
	ParseCacheSize  int    `yaml:"parse_cache_size"`

	Eval       eval.Config       `yaml:"eval"`
	Projection projection.Config `yaml:"projection"`
}

// DefaultConfig returns the strict profile.
func DefaultConfig() Config {
	return Config{
		Mode:            "strict",
		Source:          "runtime",
		MaxContextDepth: 32,
		ParseCacheSize:  1000,
		Eval:            eval.DefaultConfig(),
		Projection:      projection.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config file over the defaults. Missing keys
// keep their default values.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Mode != "strict" && cfg.Mode != "partial" {
		return Config{}, fmt.Errorf("invalid mode %q", cfg.Mode)
	}
	cfg.Eval.Mode = cfg.Mode
	return cfg, nil
}

// #endregion runtime-config

// #region outcome

// Outcome bundles everything one evaluation produced. The certificate
// and the record are already final: persisting them later yields the
// same rows that persisting them now would.
type Outcome struct {
	EvaluationID string                 `json:"evaluation_id"`
	Result       eval.Result            `json:"result"`
	Certificate  provenance.Certificate `json:"certificate"`
	Record       provenance.Record      `json:"record"`
	QuestionHash string                 `json:"question_hash,omitempty"`
}

// Blocked reports whether the evaluation refused to act.
func (o *Outcome) Blocked() bool {
	return o.Result.Domain == "error" || o.Result.Domain == "undefined"
}

// #endregion outcome
