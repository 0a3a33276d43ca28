package eval

// #region imports
import (
	"strings"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/grammar"
)

// #endregion imports

// #region unary-dispatch

// keyCarrierOps resolve their operand by literal key even when the literal
// itself is absent from the literals shard.
var keyCarrierOps = map[string]bool{
	"shi": true, "sha": true, "vek": true, "vus": true, "vel": true,
}

func (e *Evaluator) evalUnary(n *grammar.UnaryNode, env *Env, depth int) any {
	val := e.eval(n.Operand, env, depth+1)

	// Ops are stored outermost first; application runs inside out. The raw
	// operand surface feeds the innermost key-carrier op only.
	for i := len(n.Ops) - 1; i >= 0; i-- {
		op := n.Ops[i]
		extraKey := ""
		if i == len(n.Ops)-1 && keyCarrierOps[op] && strings.HasPrefix(n.RawOperand, "@") {
			extraKey = n.RawOperand
		}
		val = e.applyUnary(op, val, extraKey, env)
		if err, ok := asError(val); ok {
			return err
		}
	}
	return val
}

func (e *Evaluator) applyUnary(op string, val any, extraKey string, env *Env) any {
	if lit, ok := asLiteral(val); ok {
		extraKey, _ = lit["key"].(string)
		val = lit["value"]
	}

	// Delivery ops manage their own shard fallback.
	if op == "vus" || op == "vel" {
		return e.applyDelivery(op, val, extraKey, env)
	}

	if !e.ensureContext(op, env) {
		return undefined
	}

	switch op {
	case "shi":
		return e.applyKnowledge(val, extraKey, env)
	case "sha":
		return e.applyCertainty(val, extraKey, env)
	case "vek":
		return e.applyBelief(val, extraKey, env)
	case "nai", "nex":
		t, ok := toTrit(val)
		if !ok {
			return undefined
		}
		return !t
	case "da":
		t, ok := toTrit(val)
		if !ok {
			return undefined
		}
		return t
	case "eni", "sem", "mun", "fiu":
		return e.applyQuantifier(op, val)
	case "nau", "ret", "tri", "qer":
		return e.applyTemporal(op, val, env)
	case "tor":
		return e.applyNormative(val, env)
	}

	return undefined
}

// #endregion unary-dispatch

// #region epistemic

// modalKey extracts the lookup key for a modal operator: the captured
// literal surface first, then a raw '@' string operand.
func modalKey(val any, extraKey string) (string, bool) {
	if extraKey != "" {
		return canonical.LiteralKey(extraKey), true
	}
	if s, ok := val.(string); ok && strings.HasPrefix(s, "@") {
		return canonical.LiteralKey(s), true
	}
	return "", false
}

// modalLookup checks a modal sub-map under both key spellings.
func modalLookup(modal map[string]any, mapName, key string) (any, bool) {
	m, ok := modal[mapName].(map[string]any)
	if !ok {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	if v, ok := m["@"+key]; ok {
		return v, true
	}
	return nil, false
}

// applyKnowledge implements shi: truth only from modal.knowledge, grounded
// in the modal shard rather than world literals.
func (e *Evaluator) applyKnowledge(val any, extraKey string, env *Env) any {
	key, ok := modalKey(val, extraKey)
	if !ok {
		return undefined
	}
	modal, ok := env.contextField("modal").(map[string]any)
	if !ok {
		return undefined
	}
	if v, ok := modalLookup(modal, "knowledge", key); ok {
		return v
	}
	if env.Mode == "strict" {
		return errObj(errs.CodeEpistemicMismatch, "knowledge check failed for %q", key)
	}
	return undefined
}

// applyCertainty implements sha: the truth value passes only above the
// certainty threshold, sourced from knowledge then belief.
func (e *Evaluator) applyCertainty(val any, extraKey string, env *Env) any {
	key, ok := modalKey(val, extraKey)
	if !ok {
		return undefined
	}
	modal, ok := env.contextField("modal").(map[string]any)
	if !ok {
		return undefined
	}

	threshold := e.cfg.CertaintyThreshold
	if t, ok := asFloat(modal["certainty_threshold"]); ok {
		threshold = t
	}
	level := 0.0
	if certainty, ok := modal["certainty"].(map[string]any); ok {
		if v, ok := asFloat(certainty[key]); ok {
			level = v
		} else if v, ok := asFloat(certainty["@"+key]); ok {
			level = v
		}
	}

	if level >= threshold {
		if v, ok := modalLookup(modal, "knowledge", key); ok {
			return v
		}
		if v, ok := modalLookup(modal, "belief", key); ok {
			return v
		}
		if env.Mode == "strict" {
			return errObj(errs.CodeEpistemicMismatch, "certainty passed for %q but no truth value is grounded", key)
		}
		return undefined
	}

	if env.Mode == "strict" {
		return errObj(errs.CodeEpistemicMismatch, "certainty check failed for %q (threshold %g)", key, threshold)
	}
	return undefined
}

// applyBelief implements vek. Knowledge implies belief, so knowledge is
// consulted first.
func (e *Evaluator) applyBelief(val any, extraKey string, env *Env) any {
	key, ok := modalKey(val, extraKey)
	if !ok {
		return undefined
	}
	modal, ok := env.contextField("modal").(map[string]any)
	if !ok {
		return undefined
	}
	if v, ok := modalLookup(modal, "knowledge", key); ok {
		return v
	}
	if v, ok := modalLookup(modal, "belief", key); ok {
		return v
	}
	return undefined
}

// #endregion epistemic

// #region quantifiers

// applyQuantifier counts decided truth values of a list operand. Undefined
// entries are skipped, and an empty decided set is itself undefined
// (except eni with a positive witness, which cannot occur then).
func (e *Evaluator) applyQuantifier(op string, val any) any {
	if isUndefined(val) {
		return undefined
	}

	items, ok := val.([]any)
	if !ok {
		items = []any{val}
	}
	var trueCount, falseCount int
	for _, item := range items {
		t, ok := toTrit(item)
		if !ok {
			continue
		}
		if t {
			trueCount++
		} else {
			falseCount++
		}
	}
	n := trueCount + falseCount

	switch op {
	case "eni":
		if trueCount > 0 {
			return true
		}
		if n == 0 {
			return undefined
		}
		return false
	case "sem":
		if n == 0 {
			return undefined
		}
		return falseCount == 0
	case "mun":
		if n == 0 {
			return undefined
		}
		return float64(trueCount)/float64(n) >= e.cfg.QuantSomeRatio
	case "fiu":
		if n == 0 {
			return undefined
		}
		return float64(trueCount)/float64(n) <= e.cfg.QuantFewRatio
	}
	return undefined
}

// #endregion quantifiers

// #region temporal

// applyTemporal resolves the operand to an event record in temporal.events
// and compares its timestamp with temporal.now. Without a resolvable event
// the operator falls back to propositional pass-through for nau/qer and
// refuses to guess for ret/tri.
func (e *Evaluator) applyTemporal(op string, val any, env *Env) any {
	temporal, ok := env.contextField("temporal").(map[string]any)
	if !ok {
		return undefined
	}
	now, hasNow := asFloat(temporal["now"])
	events, _ := temporal["events"].(map[string]any)

	var event map[string]any
	if action, ok := asAction(val); ok && events != nil {
		if eventID, ok := action["event_id"].(string); ok {
			event, _ = events[eventID].(map[string]any)
		}
		if event == nil {
			if target, ok := action["target"].(string); ok && strings.HasPrefix(target, "@") {
				event, _ = events[target].(map[string]any)
			}
		}
	} else if s, ok := val.(string); ok && strings.HasPrefix(s, "@") && events != nil {
		event, _ = events[s].(map[string]any)
	}

	if event != nil {
		ts, hasTS := asFloat(event["ts"])
		if !hasTS {
			ts, hasTS = asFloat(event["time"])
		}
		if !hasTS || !hasNow {
			return undefined
		}
		switch op {
		case "nau":
			return ts == now
		case "ret":
			return ts < now
		case "tri":
			return ts > now
		case "qer":
			return true
		}
	}

	t, ok := toTrit(val)
	if !ok {
		return undefined
	}
	if op == "nau" || op == "qer" {
		return t
	}
	return undefined
}

// #endregion temporal

// #region normative

// applyNormative implements tor. An operand that already carries truth is
// never flipped; otherwise the key is judged against the value system.
func (e *Evaluator) applyNormative(val any, env *Env) any {
	if t, ok := toTrit(val); ok {
		return t
	}

	axioms, ok := env.contextField("axioms").(map[string]any)
	if !ok {
		return undefined
	}
	vs, ok := axioms["value_system"].(map[string]any)
	if !ok {
		return undefined
	}

	var key string
	if s, ok := val.(string); ok {
		key = s
	} else if m, ok := val.(map[string]any); ok {
		key, _ = m["value"].(string)
	}
	if key == "" {
		return undefined
	}

	if containsString(vs["accepted"], key) {
		return true
	}
	if containsString(vs["rejected"], key) {
		return false
	}
	return undefined
}

func containsString(list any, key string) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if item == key {
			return true
		}
	}
	return false
}

// #endregion normative

// #region delivery

// applyDelivery implements vus/vel: the delivery subsystem resolves the
// package literal into a structured action carrying status and
// verification, routed through finalization like every other action.
func (e *Evaluator) applyDelivery(op string, val any, extraKey string, env *Env) any {
	var literalKey string
	switch {
	case strings.HasPrefix(extraKey, "@"):
		literalKey = extraKey
	case extraKey != "":
		literalKey = "@" + extraKey
	default:
		s, ok := val.(string)
		if !ok || !strings.HasPrefix(s, "@") {
			return undefined
		}
		literalKey = s
	}

	// The delivery system may key items by an internal id carried on the
	// literal's value.
	lookupID := literalKey
	if content, ok := val.(map[string]any); ok {
		if id, ok := content["id"].(string); ok {
			lookupID = id
		} else if tracking, ok := content["tracking"].(string); ok {
			lookupID = tracking
		}
	}

	delivery, ok := env.contextField("delivery").(map[string]any)
	if !ok {
		if env.Mode == "strict" {
			return errObj(errs.CodeDeliveryMismatch, "missing delivery subsystem for %q", op)
		}
		delivery = map[string]any{}
	}

	items, _ := delivery["items"].(map[string]any)
	if len(items) == 0 {
		items = migrateLegacyDelivery(delivery, lookupID)
	}

	item, _ := items[lookupID].(map[string]any)
	if item == nil {
		if env.Mode == "strict" {
			return undefined
		}
		item = map[string]any{"status": "unknown", "verified": false}
	}

	action := map[string]any{
		"type":   "action",
		"kind":   "delivery",
		"verb":   op,
		"target": literalKey,
	}
	if status, ok := item["status"].(string); ok {
		action["status"] = status
	} else {
		action["status"] = "unknown"
	}
	if verified, ok := item["verified"].(bool); ok {
		action["verified"] = verified
	} else {
		action["verified"] = false
	}
	if v, ok := item["observed_at_ms"]; ok {
		action["observed_at_ms"] = v
	}
	if v, ok := item["expires_at_ms"]; ok {
		action["expires_at_ms"] = v
	}

	return e.finalizeAction(action, env)
}

// migrateLegacyDelivery lifts the pre-v1 split status/verified structure
// into the items form for a single lookup id.
func migrateLegacyDelivery(delivery map[string]any, lookupID string) map[string]any {
	statusMap, _ := delivery["status"].(map[string]any)
	verified := false
	if list, ok := delivery["verified"].([]any); ok {
		for _, v := range list {
			if v == lookupID {
				verified = true
			}
		}
	}

	status, hasStatus := statusMap[lookupID].(string)
	if !hasStatus && !verified {
		return map[string]any{}
	}
	if !hasStatus {
		status = "unknown"
	}
	return map[string]any{
		lookupID: map[string]any{"status": status, "verified": verified},
	}
}

// #endregion delivery
