// Package eval walks a parsed chain against an immutable context snapshot
// and produces a typed verdict under Strong Kleene three-valued logic.
// Unknown never silently collapses to false, and every action object is
// routed through a single finalization choke point.
package eval

// #region imports
import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/grammar"
	"github.com/danielpatrickdp/noe-kernel/internal/graph"
	"github.com/danielpatrickdp/noe-kernel/internal/state"
)

// #endregion imports

// #region env

// Env bundles everything one evaluation reads: the layered context, its
// hashes, the proposal DAG and the source chain. One Env per evaluation,
// never shared.
type Env struct {
	Root   map[string]any
	Domain map[string]any
	Local  map[string]any

	Mode        string
	Source      string
	ContextHash string
	Hashes      state.Hashes
	DAG         *graph.DAG
	NowMS       int64
}

// EnvFromSnapshot builds an Env over a store snapshot.
func EnvFromSnapshot(snap *state.Snapshot, mode, source string, nowMS int64) *Env {
	return &Env{
		Root:        snap.Root,
		Domain:      snap.Domain,
		Local:       snap.Local,
		Mode:        mode,
		Source:      source,
		ContextHash: snap.Hashes.Total,
		Hashes:      snap.Hashes,
		DAG:         graph.NewDAG(),
		NowMS:       nowMS,
	}
}

// contextField resolves a top-level shard with local over domain over root
// precedence. Map values found in several layers deep-merge, matching the
// snapshot's layer merge rule.
func (env *Env) contextField(key string) any {
	localVal := env.Local[key]
	domainVal := env.Domain[key]
	rootVal := env.Root[key]

	var maps []map[string]any
	for _, v := range []any{rootVal, domainVal, localVal} {
		if m, ok := v.(map[string]any); ok {
			maps = append(maps, m)
		}
	}
	if len(maps) > 0 {
		merged := map[string]any{}
		for _, m := range maps {
			merged = state.Merge(merged, m)
		}
		return merged
	}

	if localVal != nil {
		return localVal
	}
	if domainVal != nil {
		return domainVal
	}
	if rootVal != nil {
		return rootVal
	}
	return nil
}

// hasPath reports whether a dot path exists in any layer.
func (env *Env) hasPath(path string) bool {
	for _, layer := range []map[string]any{env.Local, env.Domain, env.Root} {
		if mapHasPath(layer, path) {
			return true
		}
	}
	return false
}

func mapHasPath(m map[string]any, path string) bool {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		cur, ok = mm[part]
		if !ok {
			return false
		}
	}
	return true
}

// #endregion env

// #region evaluator

// Evaluator evaluates parsed chains. Stateless across evaluations.
type Evaluator struct {
	cfg Config
}

// NewEvaluator returns an evaluator with the given thresholds.
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.Mode == "" {
		cfg.Mode = "strict"
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate walks the chain and wraps the verdict into its domain envelope.
func (e *Evaluator) Evaluate(node grammar.Node, env *Env) Result {
	if env.Mode == "" {
		env.Mode = e.cfg.Mode
	}
	if env.DAG == nil {
		env.DAG = graph.NewDAG()
	}
	v := e.eval(node, env, 0)
	res := wrapDomain(v)
	res.Meta = Meta{
		ContextHash: env.ContextHash,
		Mode:        env.Mode,
		RootHash:    env.Hashes.Root,
		DomainHash:  env.Hashes.Domain,
		LocalHash:   env.Hashes.Local,
	}
	return res
}

func (e *Evaluator) eval(node grammar.Node, env *Env, depth int) any {
	if depth > e.cfg.MaxDepth {
		return errObj(errs.CodeRecursionLimit, "evaluation depth exceeded")
	}

	switch n := node.(type) {
	case *grammar.ChainNode:
		v := e.eval(n.Expr, env, depth+1)
		if lit, ok := asLiteral(v); ok {
			return lit["value"]
		}
		return v

	case *grammar.QuestionNode:
		body := e.eval(n.Body, env, depth+1)
		var qtype any
		if n.Type != "" {
			qtype = n.Type
		}
		return map[string]any{
			"domain": "question",
			"value":  map[string]any{"type": qtype, "body": body},
		}

	case *grammar.GuardNode:
		return e.evalGuard(n, env, depth)

	case *grammar.ParenNode:
		return e.eval(n.Inner, env, depth+1)

	case *grammar.SekScopeNode:
		return []any{e.eval(n.Inner, env, depth+1)}

	case *grammar.JuxtNode:
		items := make([]any, 0, len(n.Items))
		for _, item := range n.Items {
			v := e.eval(item, env, depth+1)
			if lit, ok := asLiteral(v); ok {
				v = lit["value"]
			}
			items = append(items, v)
		}
		return items

	case *grammar.BinaryNode:
		left := e.eval(n.Left, env, depth+1)
		right := e.eval(n.Right, env, depth+1)
		return e.applyBinary(left, n.Op, right, env)

	case *grammar.UnaryNode:
		// Stacked operators count against the depth bound.
		if depth+len(n.Ops) > e.cfg.MaxDepth {
			return errObj(errs.CodeRecursionLimit, "evaluation depth exceeded")
		}
		return e.evalUnary(n, env, depth)

	case *grammar.ActionNode:
		target := e.eval(n.Target, env, depth+1)
		return e.actionEvent(n.Verb, target, env)

	case *grammar.LiteralNode:
		return e.evalLiteral(n, env)

	case *grammar.BoolNode:
		return n.Val

	case *grammar.UndefinedNode:
		return undefined

	case *grammar.NumberNode:
		return n.Val

	case *grammar.GlyphNode:
		if n.Name == "nei" && env.Mode == "strict" {
			return errObj(errs.CodeMorphology, "standalone 'nei' is invalid, use a '·nei' suffix")
		}
		return n.Name

	case *grammar.DemonstrativeNode:
		return e.evalDemonstrative(n.Op, env)

	case *grammar.MorphNode:
		return e.evalMorph(n, env, depth)
	}

	return undefined
}

// #endregion evaluator

// #region atoms

func (e *Evaluator) evalLiteral(n *grammar.LiteralNode, env *Env) any {
	literals := env.contextField("literals")
	if literals == nil && env.Mode == "partial" {
		literals = partialDefaults["literals"]
	}
	m, ok := literals.(map[string]any)
	if !ok {
		if env.Mode == "strict" {
			return errObj(errs.CodeContextIncomplete, "missing literals map")
		}
		// Pass the raw reference through for delivery-style lookups.
		return n.Key
	}

	val, ok := m[n.Key]
	if !ok {
		val, ok = m["@"+n.Key]
	}
	if !ok {
		return map[string]any{"domain": "undefined", "value": undefined}
	}
	return map[string]any{"domain": "literal", "key": n.Key, "value": val}
}

// evalDemonstrative grounds dia/doq against the demonstratives shard, with
// spatial threshold resolution as the fallback. Resolution must name
// exactly one entity.
func (e *Evaluator) evalDemonstrative(op string, env *Env) any {
	fail := func(detail string) any {
		if env.Mode == "strict" {
			return errObj(errs.CodeDemonstrativeUngrounded, "%s", detail)
		}
		return undefined
	}

	demonstratives, ok := env.contextField("demonstratives").(map[string]any)
	if !ok {
		return fail("missing demonstratives shard")
	}
	entities, ok := env.contextField("entities").(map[string]any)
	if !ok {
		return fail("missing entities shard")
	}

	key := "proximal"
	if op == "doq" {
		key = "distal"
	}
	binding := demonstratives[op]
	if binding == nil {
		binding = demonstratives[key]
	}

	if b, ok := binding.(map[string]any); ok {
		if entID, ok := b["entity"].(string); ok {
			if _, exists := entities[entID]; exists {
				return entID
			}
			return fail("demonstrative binding references unknown entity " + entID)
		}
	}
	if s, ok := binding.(string); ok && strings.HasPrefix(s, "@") {
		if _, exists := entities[s]; exists {
			return s
		}
		return fail("demonstrative binding references unknown entity " + s)
	}

	// Spatial fallback: no silent threshold defaults.
	spatial, ok := env.contextField("spatial").(map[string]any)
	if !ok {
		return fail("missing spatial shard for demonstrative resolution")
	}
	thresholds, ok := spatial["thresholds"].(map[string]any)
	if !ok {
		return fail("missing spatial thresholds")
	}

	limitKey := "near"
	if op == "doq" {
		limitKey = "far"
	}
	limit, ok := asFloat(thresholds[limitKey])
	if !ok {
		return fail("missing spatial threshold " + limitKey)
	}

	var candidates []string
	for entID, raw := range entities {
		ent, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		dist, ok := asFloat(ent["distance"])
		if !ok {
			continue
		}
		if (op == "dia" && dist <= limit) || (op == "doq" && dist >= limit) {
			candidates = append(candidates, entID)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return fail("demonstrative resolution is ambiguous or empty")
}

func (e *Evaluator) evalMorph(n *grammar.MorphNode, env *Env, depth int) any {
	if len(n.Parts) == 0 {
		base := e.eval(n.Base, env, depth+1)
		if n.Intensity != "" {
			return applyIntensity(n.Intensity, base)
		}
		return base
	}

	if env.Mode == "strict" {
		if _, ok := n.Base.(*grammar.GlyphNode); !ok {
			return errObj(errs.CodeMorphology, "morphology is only allowed on glyph atoms")
		}
		if err := validateMorphology(n.Token); err != nil {
			return err
		}
	}
	// The reconstructed token is the identifier; intensity is dropped.
	return n.Token
}

// validateMorphology enforces suffix placement for the inversion marker.
func validateMorphology(token string) any {
	if token == "nei" {
		return errObj(errs.CodeMorphology, "standalone 'nei' is invalid, use a '·nei' suffix")
	}
	if strings.Contains(token, "·nei·nei") {
		return errObj(errs.CodeMorphology, "double inversion '·nei·nei' is invalid")
	}
	if strings.Contains(token, "nei") && !strings.HasSuffix(token, "·nei") {
		if strings.Contains(token, "·nei·") || strings.HasPrefix(token, "nei·") {
			return errObj(errs.CodeMorphology, "invalid placement of 'nei' in %q, must be the final suffix", token)
		}
	}
	return nil
}

// applyIntensity scales numerics. Truth values are never flipped by
// intensity, everything else degrades to undefined.
func applyIntensity(op string, val any) any {
	if isUndefined(val) {
		return undefined
	}
	if b, ok := val.(bool); ok {
		return b
	}
	if f, ok := asFloat(val); ok {
		switch op {
		case "'":
			return f * 0.5
		case `"`:
			return f * 1.0
		case "°":
			return f * 2.0
		}
		return undefined
	}
	return undefined
}

// #endregion atoms

// #region guard

// evalGuard implements khi. The consequence is evaluated only when the
// condition is decidedly true, so a failed or unknown guard can never have
// action side effects.
func (e *Evaluator) evalGuard(n *grammar.GuardNode, env *Env, depth int) any {
	cond := e.eval(n.Cond, env, depth+1)
	if lit, ok := asLiteral(cond); ok {
		cond = lit["value"]
	}

	if env.Mode == "strict" && !isGuardTypable(cond) {
		return errObj(errs.CodeGuardType, "guard condition must be boolean")
	}

	t, ok := toTrit(cond)
	if !ok || !t {
		return undefined
	}

	consequence := e.eval(n.Consequence, env, depth+1)
	if env.Mode == "strict" && !isActionStructure(consequence) {
		if err, ok := asError(consequence); ok {
			return err
		}
		return errObj(errs.CodeGuardType, "guard consequence must be an action or list of actions")
	}
	return consequence
}

// isGuardTypable admits booleans plus undefined and error objects, which
// fall through to the trit conversion instead of raising a type error.
func isGuardTypable(cond any) bool {
	if cond == nil || isUndefined(cond) {
		return true
	}
	if _, ok := cond.(bool); ok {
		return true
	}
	if m, ok := cond.(map[string]any); ok {
		d := m["domain"]
		return d == "undefined" || d == "error" || d == "truth"
	}
	return false
}

func isActionStructure(v any) bool {
	if m, ok := v.(map[string]any); ok {
		return m["type"] == "action"
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return false
		}
		for _, item := range list {
			if !isActionStructure(item) {
				return false
			}
		}
		return true
	}
	return false
}

// #endregion guard

// #region helpers

// undefined is the evaluation sentinel for the third truth value. The
// string form survives serialization unchanged.
const undefined = "undefined"

func isUndefined(v any) bool {
	if v == nil || v == undefined {
		return true
	}
	if m, ok := v.(map[string]any); ok {
		return m["domain"] == "undefined"
	}
	return false
}

func errObj(code, format string, args ...any) map[string]any {
	return map[string]any{
		"domain": "error",
		"code":   code,
		"value":  fmt.Sprintf(format, args...),
	}
}

func asError(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok && m["domain"] == "error" {
		return m, true
	}
	return nil, false
}

func asLiteral(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok && m["domain"] == "literal" {
		return m, true
	}
	return nil, false
}

func asAction(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok && m["type"] == "action" {
		return m, true
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// toTrit maps a value into three-valued logic: (true, ok), (false, ok) or
// unknown (ok false). Non-boolean structures are unknown, never false.
func toTrit(v any) (bool, bool) {
	if isUndefined(v) {
		return false, false
	}
	if m, ok := v.(map[string]any); ok {
		if m["domain"] == "truth" {
			return toTrit(m["value"])
		}
		return false, false
	}
	if b, ok := v.(bool); ok {
		return b, true
	}
	if f, ok := asFloat(v); ok {
		if f != f { // NaN
			return false, false
		}
		return f != 0, true
	}
	return false, false
}

// ensureContext verifies the operator's required context paths exist.
func (e *Evaluator) ensureContext(op string, env *Env) bool {
	for _, path := range grammar.RequiredContext[op] {
		if env.hasPath(path) {
			continue
		}
		if env.Mode == "partial" && mapHasPath(partialDefaults, path) {
			continue
		}
		return false
	}
	return true
}

// wrapDomain maps a raw evaluation value into its typed domain envelope.
func wrapDomain(v any) Result {
	if isUndefined(v) {
		return Result{Domain: "undefined", Value: undefined}
	}
	if m, ok := v.(map[string]any); ok {
		if d, ok := m["domain"].(string); ok {
			res := Result{Domain: d, Value: m["value"]}
			if d == "error" {
				res.Value = "blocked"
				res.Code, _ = m["code"].(string)
				res.Details, _ = m["value"].(string)
			}
			return res
		}
		if m["type"] == "action" {
			return Result{Domain: "action", Value: m}
		}
	}
	if b, ok := v.(bool); ok {
		return Result{Domain: "truth", Value: b}
	}
	if f, ok := asFloat(v); ok {
		return Result{Domain: "numeric", Value: f}
	}
	if list, ok := v.([]any); ok {
		return Result{Domain: "list", Value: list}
	}
	return Result{Domain: "structural", Value: v}
}

// #endregion helpers
