package eval

// #region imports
import (
	"fmt"
	"math"
	"strings"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/grammar"
)

// #endregion imports

// #region binary-dispatch

func (e *Evaluator) applyBinary(left any, op string, right any, env *Env) any {
	var leftKey, rightKey string
	if lit, ok := asLiteral(left); ok {
		leftKey, _ = lit["key"].(string)
	}
	if lit, ok := asLiteral(right); ok {
		rightKey, _ = lit["key"].(string)
	}

	// Errors dominate. The unknown absorbs everywhere except under the
	// Kleene connectives, where a decided false (an) or true (ur) wins.
	if err, ok := asError(left); ok {
		return err
	}
	if err, ok := asError(right); ok {
		return err
	}
	if op != "an" && op != "ur" && (isUndefined(left) || isUndefined(right)) {
		return undefined
	}

	leftVal := unwrapValue(left)
	rightVal := unwrapValue(right)

	if op == "noq" && env.Mode == "strict" {
		if _, ok := asAction(rightVal); !ok {
			return errObj(errs.CodeActionMisuse, "noq right-hand side must be an action")
		}
	}

	if !e.checkGrounding(op, left, right, env) {
		return undefined
	}

	switch op {
	case "kra":
		t, ok := toTrit(leftVal)
		if !ok || !t {
			return undefined
		}
		return rightVal
	case "an":
		return kleeneAnd(leftVal, rightVal)
	case "ur":
		return kleeneOr(leftVal, rightVal)
	case "nel", "tel", "xel", "en", "tra", "fra":
		return e.applySpatial(op, leftVal, rightVal, leftKey, rightKey, env)
	case "noq":
		return e.applyRequest(leftVal, rightVal, leftKey, env)
	case "<", ">", "<=", ">=", "=":
		return applyComparison(op, leftVal, rightVal)
	case "kos", "til", "rel":
		return e.applyRelational(op, leftVal, rightVal, env)
	case "lef", "rai", "sup", "bel", "fai", "ban":
		return e.applyAxis(op, leftVal, rightVal, env)
	}

	// Unhandled operator pairs degrade to a structural triple.
	return []any{leftVal, op, rightVal}
}

func unwrapValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}

// checkGrounding verifies the operator's context requirements and, for
// spatial operators, that raw literal operands name positioned entities.
func (e *Evaluator) checkGrounding(op string, left, right any, env *Env) bool {
	for _, path := range grammar.RequiredContext[op] {
		if !env.hasPath(path) {
			if env.Mode == "partial" && mapHasPath(partialDefaults, path) {
				continue
			}
			return false
		}
	}

	switch op {
	case "nel", "tel", "xel", "en", "tra", "fra":
		entities, ok := env.contextField("entities").(map[string]any)
		if !ok {
			return false
		}
		for _, arg := range []any{left, right} {
			s, ok := arg.(string)
			if !ok || !strings.HasPrefix(s, "@") {
				continue
			}
			ent, ok := entities[s].(map[string]any)
			if !ok {
				return false
			}
			if _, ok := ent["position"]; !ok {
				return false
			}
		}
	}
	return true
}

// #endregion binary-dispatch

// #region kleene

// kleeneAnd short-circuits on false: a decided false dominates the unknown.
func kleeneAnd(left, right any) any {
	tL, okL := toTrit(left)
	tR, okR := toTrit(right)
	if (okL && !tL) || (okR && !tR) {
		return false
	}
	if !okL || !okR {
		return undefined
	}
	return true
}

// kleeneOr short-circuits on true.
func kleeneOr(left, right any) any {
	tL, okL := toTrit(left)
	tR, okR := toTrit(right)
	if (okL && tL) || (okR && tR) {
		return true
	}
	if okL && okR {
		return false
	}
	return undefined
}

// #endregion kleene

// #region spatial

// entityKey resolves an operand to an entity identifier: the captured
// literal key, a raw '@' reference, or a resolved deixis entity.
func entityKey(val any, explicitKey string) string {
	if explicitKey != "" {
		return explicitKey
	}
	if s, ok := val.(string); ok && strings.HasPrefix(s, "@") {
		return s
	}
	if m, ok := val.(map[string]any); ok && m["kind"] == "deixis" {
		if ent, ok := m["entity"].(string); ok {
			return ent
		}
	}
	return ""
}

func entityLookup(entities map[string]any, key string) (map[string]any, bool) {
	if ent, ok := entities[key].(map[string]any); ok {
		return ent, true
	}
	if ent, ok := entities["@"+key].(map[string]any); ok {
		return ent, true
	}
	return nil, false
}

func entityVec(ent map[string]any, primary, fallback string) ([2]float64, bool) {
	raw, ok := ent[primary]
	if !ok {
		raw, ok = ent[fallback]
	}
	if !ok {
		return [2]float64{}, false
	}
	list, ok := raw.([]any)
	if !ok || len(list) < 2 {
		return [2]float64{}, false
	}
	x, okX := asFloat(list[0])
	y, okY := asFloat(list[1])
	if !okX || !okY {
		return [2]float64{}, false
	}
	return [2]float64{x, y}, true
}

// applySpatial evaluates 2-D geometric predicates between two entities.
// Ungroundable operands are an error in strict mode, not a silent false.
func (e *Evaluator) applySpatial(op string, leftVal, rightVal any, leftKey, rightKey string, env *Env) any {
	fail := func(detail string) any {
		if env.Mode == "strict" {
			return errObj(errs.CodeSpatialUngroundable, "%s", detail)
		}
		return undefined
	}

	keyL := entityKey(leftVal, leftKey)
	keyR := entityKey(rightVal, rightKey)
	if keyL == "" || keyR == "" {
		return undefined
	}

	spatial, okS := env.contextField("spatial").(map[string]any)
	entities, okE := env.contextField("entities").(map[string]any)
	if !okS || !okE {
		return fail("missing spatial or entities shard")
	}

	entL, okL := entityLookup(entities, keyL)
	entR, okR := entityLookup(entities, keyR)
	if !okL || !okR {
		return fail(fmt.Sprintf("entities %q and %q must both be grounded", keyL, keyR))
	}
	posL, okL := entityVec(entL, "position", "pos")
	posR, okR := entityVec(entR, "position", "pos")
	if !okL || !okR {
		return fail(fmt.Sprintf("entities %q and %q must both carry positions", keyL, keyR))
	}

	dx := posR[0] - posL[0]
	dy := posR[1] - posL[1]
	dist := math.Sqrt(dx*dx + dy*dy)

	if op == "tra" || op == "fra" {
		return e.applyMotionCone(op, entL, spatial, dx, dy, dist)
	}

	thresholds, _ := spatial["thresholds"].(map[string]any)

	switch op {
	case "nel":
		limit, ok := asFloat(thresholds["near"])
		if !ok {
			return undefined
		}
		return dist <= limit
	case "tel":
		limit, ok := asFloat(thresholds["far"])
		if !ok {
			return undefined
		}
		return dist >= limit
	case "xel":
		orientation, _ := spatial["orientation"].(map[string]any)
		target, okT := asFloat(orientation["target"])
		tolerance, okTol := asFloat(orientation["tolerance"])
		if !okT || !okTol {
			return undefined
		}
		angle := math.Atan2(dy, dx) * 180 / math.Pi
		diff := math.Mod(math.Abs(angle-target), 360)
		if diff > 180 {
			diff = 360 - diff
		}
		return diff <= tolerance
	case "en":
		radius, ok := asFloat(entR["radius"])
		if !ok {
			return undefined
		}
		return dist <= radius
	}
	return undefined
}

// applyMotionCone decides toward/away by projecting the left entity's
// velocity onto the separation vector. Too slow or too close means the
// direction is physically undefined, never guessed.
func (e *Evaluator) applyMotionCone(op string, entL, spatial map[string]any, dx, dy, dist float64) any {
	cone, _ := spatial["cone"].(map[string]any)
	vMin := e.cfg.MotionVMin
	if v, ok := asFloat(cone["v_min"]); ok {
		vMin = v
	}
	dMin := e.cfg.MotionDMin
	if v, ok := asFloat(cone["d_min"]); ok {
		dMin = v
	}
	limit := e.cfg.MotionCosTheta
	if v, ok := asFloat(cone["cos_theta"]); ok {
		limit = v
	}

	if dist < dMin {
		return undefined
	}
	vel, ok := entityVec(entL, "velocity", "vel")
	if !ok {
		return undefined
	}
	speed := math.Sqrt(vel[0]*vel[0] + vel[1]*vel[1])
	if speed < vMin {
		return undefined
	}

	dot := (vel[0]/speed)*(dx/dist) + (vel[1]/speed)*(dy/dist)
	if op == "tra" {
		return dot >= limit
	}
	return dot <= -limit
}

// #endregion spatial

// #region request

// applyRequest implements noq: subject requests an already finalized
// action. The child's hash becomes a pointer so the request identity
// never re-hashes the nested proposal.
func (e *Evaluator) applyRequest(leftVal, rightVal any, leftKey string, env *Env) any {
	target, ok := asAction(rightVal)
	if !ok {
		if env.Mode == "strict" {
			return errObj(errs.CodeActionMisuse, "noq right-hand side must be an action")
		}
		return undefined
	}

	subject := requestSubject(leftVal, leftKey)
	if subject == "" {
		return undefined
	}

	request := map[string]any{
		"type":    "action",
		"kind":    "request",
		"verb":    "noq",
		"subject": subject,
		"target":  target,
	}
	if childHash, ok := target["action_hash"].(string); ok {
		request["child_action_hash"] = childHash
	}
	return e.finalizeAction(request, env)
}

func requestSubject(val any, explicitKey string) string {
	if explicitKey != "" {
		return explicitKey
	}
	switch t := val.(type) {
	case bool, float64, int:
		return ""
	case map[string]any:
		if t["kind"] == "deixis" {
			ent, _ := t["entity"].(string)
			return ent
		}
		return ""
	case string:
		return t
	}
	return ""
}

// #endregion request

// #region comparisons

// applyComparison compares numerics; a resolved deixis operand contributes
// its distance. Typed equality, no coercion from other domains.
func applyComparison(op string, leftVal, rightVal any) any {
	asNum := func(v any) (float64, bool) {
		if f, ok := asFloat(v); ok {
			return f, true
		}
		if m, ok := v.(map[string]any); ok && m["kind"] == "deixis" {
			return asFloat(m["distance"])
		}
		return 0, false
	}

	a, okA := asNum(leftVal)
	b, okB := asNum(rightVal)
	if !okA || !okB {
		return undefined
	}

	switch op {
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	case "=":
		return a == b
	}
	return undefined
}

// #endregion comparisons

// #region relational

// applyRelational looks the pair up in the rel table for the operator.
// Only explicit boolean cells decide; everything else is undefined.
func (e *Evaluator) applyRelational(op string, leftVal, rightVal any, env *Env) any {
	rel, ok := env.contextField("rel").(map[string]any)
	if !ok {
		return undefined
	}
	table, ok := rel[op].(map[string]any)
	if !ok {
		return undefined
	}

	leftEntity := func(v any) string {
		if s, ok := v.(string); ok {
			return s
		}
		if m, ok := v.(map[string]any); ok && m["kind"] == "deixis" {
			ent, _ := m["entity"].(string)
			return ent
		}
		return fmt.Sprintf("%v", v)
	}
	rightRef := func(v any) string {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "@") {
			return s
		}
		return fmt.Sprintf("%v", v)
	}

	l := leftEntity(leftVal)
	if l == "" {
		return undefined
	}
	row, ok := table[l].(map[string]any)
	if !ok {
		return undefined
	}
	if b, ok := row[rightRef(rightVal)].(bool); ok {
		return b
	}
	return undefined
}

// #endregion relational

// #region axis

// applyAxis compares 3-D frame positions along one axis: lef/rai on x,
// sup/bel on z, fai/ban on y.
func (e *Evaluator) applyAxis(op string, leftVal, rightVal any, env *Env) any {
	p1, ok1 := e.resolveFramePos(leftVal, env)
	p2, ok2 := e.resolveFramePos(rightVal, env)
	if !ok1 || !ok2 {
		return undefined
	}

	switch op {
	case "lef":
		return p1[0] < p2[0]
	case "rai":
		return p1[0] > p2[0]
	case "sup":
		return p1[2] > p2[2]
	case "bel":
		return p1[2] < p2[2]
	case "fai":
		return p1[1] > p2[1]
	case "ban":
		return p1[1] < p2[1]
	}
	return undefined
}

// resolveFramePos accepts an inline {x,y,z} map or resolves an identifier
// through local positions, root spatial frames, then the entities shard.
func (e *Evaluator) resolveFramePos(val any, env *Env) ([3]float64, bool) {
	if m, ok := val.(map[string]any); ok {
		return xyz(m)
	}

	id, ok := val.(string)
	if !ok {
		return [3]float64{}, false
	}

	if posMap, ok := env.Local["position"].(map[string]any); ok {
		if m, ok := posMap[id].(map[string]any); ok {
			return xyz(m)
		}
	}
	if spatial, ok := env.Root["spatial"].(map[string]any); ok {
		if frames, ok := spatial["frames"].(map[string]any); ok {
			if m, ok := frames[id].(map[string]any); ok {
				return xyz(m)
			}
		}
	}
	if entities, ok := env.contextField("entities").(map[string]any); ok {
		if ent, ok := entityLookup(entities, id); ok {
			if m, ok := ent["position"].(map[string]any); ok {
				return xyz(m)
			}
		}
	}
	return [3]float64{}, false
}

func xyz(m map[string]any) ([3]float64, bool) {
	x, okX := asFloat(m["x"])
	y, okY := asFloat(m["y"])
	z, okZ := asFloat(m["z"])
	if !okX || !okY || !okZ {
		return [3]float64{}, false
	}
	return [3]float64{x, y, z}, true
}

// #endregion axis
