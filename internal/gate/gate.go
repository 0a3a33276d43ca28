// Package gate validates a chain and its context snapshot before any
// evaluation happens. It never executes chains: it inspects the chain
// text, the merged context, and the operator requirements, and decides
// whether the runtime may proceed. A refused chain must be treated as
// blocked, never as partially evaluated.
package gate

// #region imports
import (
	"fmt"
	"regexp"
	"sort"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/grammar"
	"github.com/danielpatrickdp/noe-kernel/internal/state"
)

// #endregion imports

// #region gate

// Gate is the pre-evaluation validator.
type Gate struct {
	config Config
}

// NewGate creates a gate with the given configuration.
func NewGate(config Config) *Gate {
	if config.Mode == "" {
		config.Mode = "strict"
	}
	if config.MaxContextDepth <= 0 {
		config.MaxContextDepth = DefaultConfig().MaxContextDepth
	}
	return &Gate{config: config}
}

// Validate runs every applicable check and returns the winning violation,
// or nil when the chain may be evaluated against the snapshot.
func (g *Gate) Validate(chain string, snap *state.Snapshot) *Violation {
	all := g.ValidateAll(chain, snap)
	if len(all) == 0 {
		return nil
	}
	v := all[0]
	return &v
}

// ValidateAll returns every violation found, sorted by priority then code.
func (g *Gate) ValidateAll(chain string, snap *state.Snapshot) []Violation {
	chain = canonical.CanonicalizeChain(chain)

	if snap == nil || snap.Merged == nil {
		return []Violation{{Code: errs.CodeBadContext, Detail: "context snapshot missing"}}
	}
	total := snap.Merged

	if state.Depth(total) > g.config.MaxContextDepth {
		return []Violation{{
			Code:   errs.CodeContextTooDeep,
			Detail: fmt.Sprintf("context nesting exceeds limit (%d)", g.config.MaxContextDepth),
		}}
	}
	if _, err := canonical.Marshal(total); err != nil {
		return []Violation{{Code: errs.CodeContextUnserializable, Detail: "context cannot be canonically serialized"}}
	}

	var out []Violation
	ops := grammar.ExtractOpsSet(chain, grammar.AllOps)

	out = append(out, g.checkLiterals(chain, total)...)

	if g.config.Mode == "strict" {
		out = append(out, g.checkShape(total)...)
		out = append(out, g.checkStaleness(snap, total)...)
		out = append(out, g.checkOperatorGrounding(ops, total)...)
		out = append(out, g.checkActionPlacement(chain)...)
	}

	if _, err := grammar.Parse(chain); err != nil {
		out = append(out, Violation{Code: errs.CodeParseFailed, Detail: err.Error()})
	}

	sortViolations(out)
	return out
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		pi, ok := errorPriority[vs[i].Code]
		if !ok {
			pi = 999
		}
		pj, ok := errorPriority[vs[j].Code]
		if !ok {
			pj = 999
		}
		if pi != pj {
			return pi < pj
		}
		return vs[i].Code < vs[j].Code
	})
}

// #endregion gate

// #region literal-scan

var (
	literalRawRe    = regexp.MustCompile(`@[^ \t\r\n\)\]\}>,;]+`)
	literalStrictRe = regexp.MustCompile(`^@[a-z0-9_]+$`)
)

// checkLiterals scans the raw chain for @-tokens. A token that is not
// exactly @[a-z0-9_]+ is malformed; a well-formed token must resolve in
// the literals shard under strict mode.
func (g *Gate) checkLiterals(chain string, total map[string]any) []Violation {
	var out []Violation
	seen := map[string]bool{}
	for _, raw := range literalRawRe.FindAllString(chain, -1) {
		if seen[raw] {
			continue
		}
		seen[raw] = true
		if !literalStrictRe.MatchString(raw) {
			out = append(out, Violation{
				Code:   errs.CodeInvalidLiteral,
				Detail: fmt.Sprintf("malformed literal %q", raw),
			})
			continue
		}
		if g.config.Mode != "strict" {
			continue
		}
		key := canonical.LiteralKey(raw)
		shard, _ := total["literals"].(map[string]any)
		if shard == nil {
			continue // shape check reports the missing shard
		}
		if _, ok := shard[key]; ok {
			continue
		}
		if _, ok := shard[raw]; ok {
			continue
		}
		out = append(out, Violation{
			Code:   errs.CodeLiteralMissing,
			Detail: fmt.Sprintf("literal %q not found in context", raw),
		})
	}
	return out
}

// #endregion literal-scan

// #region shape

// checkShape enforces the strict context contract: literals, temporal,
// modal and axioms shards must exist with usable types. Spatial is only
// required when spatial operators appear in the chain.
func (g *Gate) checkShape(total map[string]any) []Violation {
	missing := func(what string) []Violation {
		return []Violation{{
			Code:   errs.CodeContextIncomplete,
			Detail: "context shape invalid: " + what,
		}}
	}

	if _, ok := total["literals"].(map[string]any); !ok {
		return missing("literals must be an object")
	}
	temporal, ok := total["temporal"].(map[string]any)
	if !ok {
		return missing("temporal must be an object")
	}
	hasLegacy := temporal["now"] != nil && temporal["max_skew_ms"] != nil
	hasMicro := temporal["now_us"] != nil
	if !hasLegacy && !hasMicro {
		return missing("temporal requires now+max_skew_ms or now_us")
	}
	if _, ok := total["modal"].(map[string]any); !ok {
		return missing("modal must be an object")
	}
	if _, ok := total["axioms"].(map[string]any); !ok {
		return missing("axioms must be an object")
	}
	return nil
}

// checkStaleness flags a snapshot whose local layer has aged past the
// store bound, or whose temporal shard says its own timestamp is older
// than now by more than the allowed skew.
func (g *Gate) checkStaleness(snap *state.Snapshot, total map[string]any) []Violation {
	if snap.Stale {
		return []Violation{{
			Code:   errs.CodeContextStale,
			Detail: fmt.Sprintf("local layer is %dms old", snap.AgeMS),
		}}
	}
	temporal, ok := total["temporal"].(map[string]any)
	if !ok {
		return nil
	}
	now, okNow := asFloat(temporal["now"])
	skew, okSkew := asFloat(temporal["max_skew_ms"])
	ts, okTS := asFloat(temporal["timestamp"])
	if !okTS {
		ts, okTS = asFloat(snap.Local["timestamp"])
	}
	if !okNow || !okSkew || !okTS {
		return nil
	}
	if now-ts > skew {
		return []Violation{{
			Code:   errs.CodeContextStale,
			Detail: fmt.Sprintf("timestamp %v older than now %v by more than %vms", ts, now, skew),
		}}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// #endregion shape

// #region operator-grounding

// checkOperatorGrounding gates whole operator families on the subsystems
// they read. Per-path requirements are resolved at evaluation time; the
// gate only refuses chains whose subsystems are absent outright.
func (g *Gate) checkOperatorGrounding(ops map[string]bool, total map[string]any) []Violation {
	var out []Violation

	if ops["dia"] || ops["doq"] {
		if v := checkDemonstrativeGrounding(total); v != nil {
			out = append(out, *v)
		}
	}

	spatialOps := []string{"nel", "tel", "xel", "en", "fra", "tra", "dia", "doq"}
	if anyOp(ops, spatialOps) {
		spatial, ok := total["spatial"].(map[string]any)
		if !ok {
			out = append(out, Violation{Code: errs.CodeSpatialUngroundable, Detail: "missing spatial context"})
		} else if _, ok := spatial["thresholds"]; !ok {
			out = append(out, Violation{Code: errs.CodeSpatialUngroundable, Detail: "missing spatial thresholds"})
		}
	}

	if ops["men"] {
		if _, ok := total["audit"].(map[string]any); !ok {
			out = append(out, Violation{Code: errs.CodeContextIncomplete, Detail: "missing audit subsystem"})
		}
	}

	if ops["vus"] || ops["vel"] || ops["noq"] {
		if v := checkDeliveryGrounding(total); v != nil {
			out = append(out, *v)
		}
	}

	return out
}

func checkDemonstrativeGrounding(total map[string]any) *Violation {
	spatial, ok := total["spatial"].(map[string]any)
	if !ok {
		return nil // spatial check reports the missing shard
	}
	grounded := true
	thresholds, ok := spatial["thresholds"].(map[string]any)
	if !ok {
		grounded = false
	} else if thresholds["near"] == nil || thresholds["far"] == nil {
		grounded = false
	}
	if _, ok := spatial["orientation"].(map[string]any); !ok {
		grounded = false
	}
	if grounded {
		return nil
	}
	return &Violation{
		Code:   errs.CodeDemonstrativeUngrounded,
		Detail: "demonstratives require spatial.thresholds (near/far) and orientation",
	}
}

func checkDeliveryGrounding(total map[string]any) *Violation {
	delivery, ok := total["delivery"].(map[string]any)
	if !ok {
		return &Violation{Code: errs.CodeContextIncomplete, Detail: "delivery must be an object"}
	}
	_, hasItems := delivery["items"]
	_, hasStatus := delivery["status"]
	if !hasItems && !hasStatus {
		return &Violation{Code: errs.CodeContextIncomplete, Detail: "delivery must contain items or status"}
	}
	if hasItems {
		if _, ok := delivery["items"].(map[string]any); !ok {
			return &Violation{Code: errs.CodeContextIncomplete, Detail: "delivery.items must be an object"}
		}
	}
	return nil
}

func anyOp(ops map[string]bool, names []string) bool {
	for _, n := range names {
		if ops[n] {
			return true
		}
	}
	return false
}

// #endregion operator-grounding

// #region action-placement

// checkActionPlacement statically rejects chains that place action verbs
// where the evaluator could reach them from logic. Legal placements: a
// pure action chain, actions inside a kra sek ... sek kernel, and the
// consequence clause of a khi guard.
func (g *Gate) checkActionPlacement(chain string) []Violation {
	tokens := grammar.ExtractOps(chain, grammar.AllOps)
	hasAction := false
	for _, t := range tokens {
		if grammar.ActionOps[t] {
			hasAction = true
			break
		}
	}
	if !hasAction {
		return nil
	}
	if isPureAction(tokens) {
		return nil
	}

	misuse := func(detail string) []Violation {
		return []Violation{{Code: errs.CodeActionMisuse, Detail: detail}}
	}

	var actionIdx, khiIdx, sekIdx []int
	for i, t := range tokens {
		switch {
		case grammar.ActionOps[t]:
			actionIdx = append(actionIdx, i)
		case t == "khi":
			khiIdx = append(khiIdx, i)
		case t == "sek":
			sekIdx = append(sekIdx, i)
		}
	}

	if tokens[0] == "kra" && len(sekIdx) >= 2 {
		first, second := sekIdx[0], sekIdx[1]
		for _, i := range actionIdx {
			if i <= first || i >= second {
				return misuse("action outside safety kernel (sek/sek)")
			}
		}
		return nil
	}

	if len(khiIdx) > 0 {
		k := khiIdx[0]
		for _, i := range actionIdx {
			if i < k {
				return misuse("action operators cannot appear in the condition of khi")
			}
		}
		clause := tokens[k+1:]
		var nonEmpty []string
		for _, t := range clause {
			if t != "nek" {
				nonEmpty = append(nonEmpty, t)
			}
		}
		if len(nonEmpty) == 0 || !(grammar.ActionOps[nonEmpty[0]] || nonEmpty[0] == "sek") {
			return misuse("guard requires an action clause")
		}
		for _, t := range nonEmpty[1:] {
			if t == "khi" || t == "sek" || t == "nek" {
				continue
			}
			if grammar.ActionOps[t] {
				continue
			}
			if grammar.LogicOps[t] || grammar.CompOps[t] {
				return misuse("action clause under khi cannot contain logical/comparison operators")
			}
		}
		return nil
	}

	return misuse("action operators cannot be mixed with logic without a guard")
}

func isPureAction(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	if !grammar.ActionOps[tokens[0]] {
		return false
	}
	for _, t := range tokens[1:] {
		if grammar.LogicOps[t] || grammar.CompOps[t] {
			return false
		}
	}
	return true
}

// #endregion action-placement
