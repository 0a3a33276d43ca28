// Package projection implements the safe evidence projection: the
// conservative filter that turns raw annotated evidence into the trusted
// literal set evaluation runs on. Uncertainty is resolved by omission,
// never by guessing.
package projection

// #region imports
import (
	"math"
	"sort"
	"strings"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/evidence"
)

// #endregion imports

// #region config

// Epistemic confidence floors consumed by the validator and evaluator
// when checking modal facts.
const (
	KnowledgeThreshold = 0.90
	BeliefThreshold    = 0.40
)

// Config tunes the projection. All time values are milliseconds.
type Config struct {
	// TauStaleMS is the max evidence age before a reading is stale.
	TauStaleMS int64
	// ThetaThresh is the min confidence to be a candidate.
	ThetaThresh float64
	// TauWindowMS is the simultaneity window anchored at the leading edge.
	TauWindowMS int64
	// MaxClockSkewMS rejects timestamps this far in the future.
	MaxClockSkewMS int64
	// AllowedSources is a per-predicate source allow-list. A predicate
	// absent from the map accepts any source.
	AllowedSources map[string][]string
	// IndependenceGroups maps a source to its independence group. Sources
	// absent from the map form their own group.
	IndependenceGroups map[string]string
	// RequiredContext lists dot-paths that must exist in the context
	// before a predicate may be promoted.
	RequiredContext map[string][]string
}

// DefaultConfig returns the production projection thresholds.
func DefaultConfig() Config {
	return Config{
		TauStaleMS:     1000,
		ThetaThresh:    0.8,
		TauWindowMS:    100,
		MaxClockSkewMS: 200,
	}
}

// #endregion config

// #region result

// EvidenceRow is one reading that contributed to a promoted literal.
type EvidenceRow struct {
	Source      string  `json:"source"`
	TimestampMS int64   `json:"t"`
	Confidence  float64 `json:"confidence"`
	Group       string  `json:"group"`
}

// Explanation is the audit trail for one promoted predicate.
type Explanation struct {
	Literal       string        `json:"literal"`
	Value         any           `json:"value"`
	Evidence      []EvidenceRow `json:"evidence"`
	Groups        int           `json:"groups"`
	LeadingEdgeMS int64         `json:"leading_edge_ms"`
}

// Result is the projection output: the safe literal set plus per-predicate
// explanations.
type Result struct {
	Literals     []evidence.BareLiteral
	Explanations map[string]Explanation
}

// #endregion result

// #region candidate-filter

// isCandidate checks freshness, future skew, confidence and source
// authority for a single reading.
func isCandidate(l evidence.AnnotatedLiteral, cfg Config, nowMS int64) bool {
	age := nowMS - l.TimestampMS
	if age < -cfg.MaxClockSkewMS {
		return false
	}
	if age > cfg.TauStaleMS {
		return false
	}
	if math.IsNaN(l.Confidence) || math.IsInf(l.Confidence, 0) {
		return false
	}
	if l.Confidence < cfg.ThetaThresh {
		return false
	}
	if cfg.AllowedSources != nil {
		if allowed, ok := cfg.AllowedSources[l.Predicate]; ok {
			found := false
			for _, s := range allowed {
				if s == l.Source {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// #endregion candidate-filter

// #region project

// Project filters candidates, resolves conflicts within the simultaneity
// window by independence-group consensus, and promotes only predicates
// with unanimous typed agreement. fullContext (may be nil) feeds the
// explained-literal gate.
func Project(cands []evidence.AnnotatedLiteral, nowMS int64, fullContext map[string]any, cfg Config) Result {
	byPred := map[string][]evidence.AnnotatedLiteral{}
	for _, l := range cands {
		if isCandidate(l, cfg, nowMS) {
			byPred[l.Predicate] = append(byPred[l.Predicate], l)
		}
	}

	preds := make([]string, 0, len(byPred))
	for p := range byPred {
		preds = append(preds, p)
	}
	sort.Strings(preds)

	res := Result{Explanations: map[string]Explanation{}}
	for _, pred := range preds {
		items := byPred[pred]

		if fullContext != nil && !isExplained(pred, fullContext, cfg.RequiredContext) {
			continue
		}

		// Leading edge: newest first, source as deterministic tie-break.
		sort.Slice(items, func(i, j int) bool {
			if items[i].TimestampMS != items[j].TimestampMS {
				return items[i].TimestampMS > items[j].TimestampMS
			}
			return items[i].Source < items[j].Source
		})
		maxT := items[0].TimestampMS
		var edge []evidence.AnnotatedLiteral
		for _, item := range items {
			if maxT-item.TimestampMS <= cfg.TauWindowMS {
				edge = append(edge, item)
			}
		}

		value, groups, ok := consensus(edge, cfg.IndependenceGroups)
		if !ok {
			// Disagreement suppresses the predicate entirely.
			continue
		}

		res.Literals = append(res.Literals, evidence.BareLiteral{Predicate: pred, Value: value})

		rows := make([]EvidenceRow, 0, len(edge))
		for _, item := range edge {
			rows = append(rows, EvidenceRow{
				Source:      item.Source,
				TimestampMS: item.TimestampMS,
				Confidence:  item.Confidence,
				Group:       groupOf(item.Source, cfg.IndependenceGroups),
			})
		}
		res.Explanations[pred] = Explanation{
			Literal:       pred,
			Value:         value,
			Evidence:      rows,
			Groups:        groups,
			LeadingEdgeMS: maxT,
		}
	}
	return res
}

// consensus checks typed agreement within and across independence groups.
// Returns the agreed value, the group count, and whether consensus held.
func consensus(edge []evidence.AnnotatedLiteral, independence map[string]string) (any, int, bool) {
	groupKeys := map[string]map[string]struct{}{}
	valueByKey := map[string]any{}

	for _, item := range edge {
		key, ok := typedKey(item.Value)
		if !ok {
			// NaN or unserializable values never participate in consensus.
			continue
		}
		g := groupOf(item.Source, independence)
		if groupKeys[g] == nil {
			groupKeys[g] = map[string]struct{}{}
		}
		groupKeys[g][key] = struct{}{}
		valueByKey[key] = item.Value
	}

	refKey := ""
	for _, keys := range groupKeys {
		if len(keys) > 1 {
			return nil, 0, false
		}
		for key := range keys {
			if refKey == "" {
				refKey = key
			} else if key != refKey {
				return nil, 0, false
			}
		}
	}
	if refKey == "" {
		return nil, 0, false
	}
	return valueByKey[refKey], len(groupKeys), true
}

func groupOf(source string, independence map[string]string) string {
	if g, ok := independence[source]; ok {
		return g
	}
	return source
}

// typedKey canonicalizes a value for equality with a type tag so 1 never
// equals true. NaN and unserializable values yield no key.
func typedKey(v any) (string, bool) {
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return "", false
	}
	data, err := canonical.Marshal([]any{typeTag(v), v})
	if err != nil {
		return "", false
	}
	return string(data), true
}

func typeTag(v any) string {
	switch v.(type) {
	case nil:
		return "none"
	case bool:
		return "bool"
	case string:
		return "str"
	case float32, float64:
		return "float"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return "other"
	}
}

// #endregion project

// #region explained-gate

// isExplained enforces the explained-literal gate: a literal predicate is
// promoted only if every required context path resolves. Non-literal
// predicates and predicates with no requirements pass.
func isExplained(pred string, ctx map[string]any, required map[string][]string) bool {
	if !strings.HasPrefix(pred, "@") {
		return true
	}
	reqs := required[pred]
	if len(reqs) == 0 {
		return true
	}
	for _, path := range reqs {
		if !ContextHas(ctx, path) {
			return false
		}
	}
	return true
}

// ContextHas resolves a dot-separated path against a structured or flat
// context. Explicit C_root./C_domain./C_local. prefixes pin the layer;
// unprefixed paths search local, then domain, then root in a structured
// context.
func ContextHas(ctx map[string]any, path string) bool {
	structured := isStructured(ctx)

	for prefix, layer := range map[string]string{"C_root.": "root", "C_domain.": "domain", "C_local.": "local"} {
		if strings.HasPrefix(path, prefix) {
			rest := strings.TrimPrefix(path, prefix)
			if structured {
				layerMap, _ := ctx[layer].(map[string]any)
				return hasPath(layerMap, rest)
			}
			return hasPath(ctx, rest)
		}
	}

	if structured {
		for _, layer := range []string{"local", "domain", "root"} {
			layerMap, _ := ctx[layer].(map[string]any)
			if hasPath(layerMap, path) {
				return true
			}
		}
		return false
	}
	return hasPath(ctx, path)
}

func hasPath(ctx map[string]any, path string) bool {
	var curr any = ctx
	for _, part := range strings.Split(path, ".") {
		m, ok := curr.(map[string]any)
		if !ok {
			return false
		}
		curr, ok = m[part]
		if !ok {
			return false
		}
	}
	return true
}

func isStructured(ctx map[string]any) bool {
	for _, k := range []string{"root", "domain", "local"} {
		if _, ok := ctx[k]; !ok {
			return false
		}
	}
	return true
}

// #endregion explained-gate
