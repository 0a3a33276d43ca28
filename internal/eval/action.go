package eval

// #region imports
import (
	"strings"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/provenance"
)

// #endregion imports

// #region action-event

// actionEvent builds the proposal object for mek/men. men marks an audit
// action and keeps the literal reference as its target, so the audit names
// the definition rather than the evaluated world value.
func (e *Evaluator) actionEvent(verb string, target any, env *Env) any {
	if lit, ok := asLiteral(target); ok {
		val := lit["value"]
		if _, isAct := asAction(val); verb == "men" && !isAct {
			key, _ := lit["key"].(string)
			target = "@" + key
		} else {
			target = val
		}
	}

	if err, ok := asError(target); ok {
		return err
	}

	if env.Mode == "strict" {
		if isUndefined(target) {
			return errObj(errs.CodeUndefinedTarget, "action target is undefined")
		}
		switch target.(type) {
		case bool, float64, int:
			return errObj(errs.CodeInvalidAction, "invalid primitive target for verb %q", verb)
		}
	}

	action := map[string]any{
		"type":   "action",
		"verb":   verb,
		"target": target,
	}
	if verb == "men" {
		action["kind"] = "audit"
	}
	if nested, ok := asAction(target); ok {
		if kind, ok := nested["kind"]; ok {
			action["kind"] = kind
		}
	}

	if verb == "men" {
		if ref, ok := target.(string); ok && strings.HasPrefix(ref, "@") {
			if status := e.auditStatus(ref, env); status != "" {
				action["audit_status"] = status
				action["verified"] = status == "verified"
			}
		}
	}

	return e.finalizeAction(action, env)
}

func (e *Evaluator) auditStatus(ref string, env *Env) string {
	audit, ok := env.contextField("audit").(map[string]any)
	if !ok {
		return ""
	}
	files, ok := audit["files"].(map[string]any)
	if !ok {
		return ""
	}
	if status, ok := files[ref].(string); ok {
		return status
	}
	return ""
}

// #endregion action-event

// #region finalize

// finalizeAction is the only path an action object takes into the world
// model: schema check, proposal and event hashing, DAG registration with
// cycle rejection, then the provenance block.
func (e *Evaluator) finalizeAction(action map[string]any, env *Env) any {
	if action["type"] != "action" {
		return action
	}
	if _, ok := action["verb"]; !ok {
		return e.invalidAction(env, "action missing verb")
	}
	target, ok := action["target"]
	if !ok {
		return e.invalidAction(env, "action missing target")
	}
	if isUndefined(target) {
		if env.Mode == "strict" {
			return errObj(errs.CodeUndefinedTarget, "action target is undefined")
		}
		return undefined
	}

	actionHash, err := provenance.ActionHash(action)
	if err != nil {
		return e.invalidAction(env, "action hashing failed: %v", err)
	}
	action["action_hash"] = actionHash

	eventHash := actionHash
	if hasOutcomeFields(action) {
		eventHash, err = provenance.EventHash(action)
		if err != nil {
			return e.invalidAction(env, "event hashing failed: %v", err)
		}
	}
	action["event_hash"] = eventHash

	env.DAG.AddNode(actionHash)
	if nested, ok := asAction(action["target"]); ok {
		if childHash, ok := nested["action_hash"].(string); ok && childHash != "" {
			if env.DAG.WouldCycle(actionHash, childHash) {
				if env.Mode == "strict" {
					return errObj(errs.CodeActionCycle, "action cycle detected in proposal graph")
				}
				return undefined
			}
			env.DAG.AddEdge(actionHash, childHash)
		}
	}

	prov := map[string]any{
		"action_hash":  actionHash,
		"event_hash":   eventHash,
		"context_hash": env.ContextHash,
		"source":       env.Source,
	}
	if env.NowMS > 0 && (action["kind"] == "delivery" || action["kind"] == "observation") {
		prov["observed_at_ms"] = env.NowMS
	}
	action["provenance"] = prov

	for key := range action {
		if strings.HasPrefix(key, "_") {
			delete(action, key)
		}
	}
	return action
}

func (e *Evaluator) invalidAction(env *Env, format string, args ...any) any {
	if env.Mode == "strict" {
		return errObj(errs.CodeInvalidAction, format, args...)
	}
	return undefined
}

func hasOutcomeFields(action map[string]any) bool {
	for field := range provenance.OutcomeFields {
		if _, ok := action[field]; ok {
			return true
		}
	}
	return false
}

// #endregion finalize
