// Package replay re-runs recorded chains against their frozen contexts
// and verifies that verdicts and certificate hashes reproduce exactly.
// A certificate that cannot be replayed byte-for-byte is evidence of a
// semantics drift, never tolerated noise.
package replay

import (
	"fmt"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/runtime"
	"github.com/danielpatrickdp/noe-kernel/internal/state"
)

// #region types

// Result captures the outcome of replaying one chain.
type Result struct {
	Chain           string
	VerdictDomain   string
	CertificateHash string
	Code            string // error code when the chain was blocked
	Matched         bool
	Divergence      string // empty when matched
}

// Summary aggregates a replay run.
type Summary struct {
	Total    int
	Matched  int
	Diverged int
}

// Clean reports whether every chain reproduced.
func (s Summary) Clean() bool {
	return s.Diverged == 0
}

// #endregion types

// #region harness

// Replay builds a fresh runtime over the fixture's context and evaluates
// every chain. Chains without a pinned expectation always count as
// matched; they exist to exercise the pipeline, not to assert on it.
func Replay(f *Fixture, cfg runtime.Config) ([]Result, Summary, error) {
	storeCfg := state.DefaultStoreConfig()
	storeCfg.Clock = func() int64 { return f.NowMS }
	store, err := state.NewStore(f.Context.Root, f.Context.Domain, f.Context.Local, storeCfg)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("fixture context: %w", err)
	}
	rt := runtime.New(store, cfg)

	var results []Result
	var sum Summary
	for _, chain := range f.Chains {
		out, err := rt.Evaluate(chain, f.NowMS)
		if err != nil {
			return nil, Summary{}, fmt.Errorf("evaluate %q: %w", chain, err)
		}

		r := Result{
			Chain:           canonical.CanonicalizeChain(chain),
			VerdictDomain:   out.Result.Domain,
			CertificateHash: out.Certificate.CertificateHash,
			Code:            out.Result.Code,
			Matched:         true,
		}
		if exp := f.expectationFor(r.Chain); exp != nil {
			r.Matched, r.Divergence = compare(r, exp)
		}

		sum.Total++
		if r.Matched {
			sum.Matched++
		} else {
			sum.Diverged++
		}
		results = append(results, r)
	}
	return results, sum, nil
}

func compare(r Result, exp *Expectation) (bool, string) {
	if r.VerdictDomain != exp.VerdictDomain {
		return false, fmt.Sprintf("verdict %q, expected %q", r.VerdictDomain, exp.VerdictDomain)
	}
	if exp.CertificateHash != "" && r.CertificateHash != exp.CertificateHash {
		return false, fmt.Sprintf("certificate %s, expected %s", r.CertificateHash, exp.CertificateHash)
	}
	return true, ""
}

// #endregion harness
