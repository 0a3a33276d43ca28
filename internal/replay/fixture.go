package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a frozen
// context, a clock, and the chains to re-run with their expected surface.
type Fixture struct {
	Description string         `json:"description"`
	Context     FixtureContext `json:"context"`
	NowMS       int64          `json:"now_ms"`
	Chains      []string       `json:"chains"`
	Expected    []Expectation  `json:"expected"`
}

// FixtureContext is the layered context the fixture was recorded against.
type FixtureContext struct {
	Root   map[string]any `json:"root"`
	Domain map[string]any `json:"domain"`
	Local  map[string]any `json:"local"`
}

// Expectation pins the recorded surface for one chain. An empty
// CertificateHash skips the hash comparison and checks the verdict only.
type Expectation struct {
	Chain           string `json:"chain"`
	VerdictDomain   string `json:"verdict_domain"`
	CertificateHash string `json:"certificate_hash"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Chains) == 0 {
		return nil, fmt.Errorf("fixture %s has no chains", path)
	}
	return &f, nil
}

// WriteFixture serializes a fixture to disk, indented for diffing.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// expectationFor finds the pinned expectation for a canonical chain.
// Fixture authors may write expectations with surface whitespace; both
// sides compare canonically.
func (f *Fixture) expectationFor(chain string) *Expectation {
	for i := range f.Expected {
		if canonical.CanonicalizeChain(f.Expected[i].Chain) == chain {
			return &f.Expected[i]
		}
	}
	return nil
}

// #endregion fixture-loader
