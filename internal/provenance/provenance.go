// Package provenance is the hashing kernel: proposal, event, decision
// and record identities, each in its own namespace so two kinds of
// identity can never collide by coincidence.
package provenance

// #region imports
import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/errs"
)

// #endregion imports

// #region normalize

// excludedKeys never participate in action identity.
var excludedKeys = map[string]bool{
	"hash":             true,
	"meta":             true,
	"action_hash":      true,
	"provenance":       true,
	"event_hash":       true,
	"child_event_hash": true,
}

// normalizeAction strips an action object down to its identity surface.
// Underscore keys, metadata and self-references are dropped. When a
// child_action_hash pointer is present the full nested target is dropped
// too: the pointer IS the child identity, so hashing stays O(1) in the
// parent and stable against nested outcome churn. Outcome fields are
// dropped unless includeOutcome is set (event hashing).
func normalizeAction(obj any, includeOutcome bool) any {
	switch t := obj.(type) {
	case map[string]any:
		_, hasPointer := t["child_action_hash"]
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			if len(k) > 0 && k[0] == '_' {
				continue
			}
			if excludedKeys[k] {
				continue
			}
			if hasPointer && k == "target" {
				continue
			}
			if !includeOutcome && OutcomeFields[k] {
				continue
			}
			out[k] = normalizeAction(t[k], includeOutcome)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalizeAction(v, includeOutcome)
		}
		return out
	default:
		return obj
	}
}

// #endregion normalize

// #region action-hash

// ActionHash computes the proposal identity of an action object. Nested
// action targets are hashed first and replaced by a child_action_hash
// pointer on the parent (set on the passed map).
func ActionHash(action map[string]any) (string, error) {
	if action == nil {
		return "", errs.New(errs.CodeInvalidAction, "action hash requires an object")
	}
	if target, ok := action["target"].(map[string]any); ok && target["type"] == "action" {
		childHash, ok := target["action_hash"].(string)
		if !ok || childHash == "" {
			var err error
			childHash, err = ActionHash(target)
			if err != nil {
				return "", err
			}
			target["action_hash"] = childHash
		}
		action["child_action_hash"] = childHash
	}
	return hashNormalized(action, false)
}

// EventHash computes the event identity: the same surface as ActionHash
// with outcome fields included. An action with no outcome fields set has
// equal action and event hashes.
func EventHash(action map[string]any) (string, error) {
	if action == nil {
		return "", errs.New(errs.CodeInvalidAction, "event hash requires an object")
	}
	return hashNormalized(action, true)
}

func hashNormalized(action map[string]any, includeOutcome bool) (string, error) {
	norm := normalizeAction(action, includeOutcome)
	payload, err := canonical.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("action serialization: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// #endregion action-hash

// #region namespaced-hashes

// ExecutionRequestHash identifies the request to execute a chain.
func ExecutionRequestHash(chain, contextHash, domainPackHash string) (string, error) {
	return prefixedHash("noe.action.v1", chain, contextHash, domainPackHash)
}

// DecisionHash identifies a non-action verdict (truth, numeric). A
// separate prefix keeps decision and action identities disjoint.
func DecisionHash(chain, contextHash, domainPackHash string) (string, error) {
	return prefixedHash("noe.decision.v1", chain, contextHash, domainPackHash)
}

// ChildActionHash identifies a child proposal relative to its parent.
func ChildActionHash(parentActionHash, chain, contextHash, domainPackHash string) (string, error) {
	if err := requireCanonical(chain); err != nil {
		return "", err
	}
	return listHash([]any{"noe.child_action.v1", parentActionHash, chain, contextHash, domainPackHash})
}

func prefixedHash(prefix, chain, contextHash, domainPackHash string) (string, error) {
	if err := requireCanonical(chain); err != nil {
		return "", err
	}
	return listHash([]any{prefix, chain, contextHash, domainPackHash})
}

func requireCanonical(chain string) error {
	if chain != canonical.CanonicalizeChain(chain) {
		return errs.New(errs.CodeNonIdempotent, "chain must be canonicalized before hashing")
	}
	return nil
}

func listHash(payload []any) (string, error) {
	raw, err := canonical.MarshalStrict(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// QuestionHash identifies an asked question chain.
func QuestionHash(chain, questionType, audience, to, contextHash string, timestampMS int64) (string, error) {
	payload := map[string]any{
		"kind":         "Q",
		"chain":        chain,
		"context_hash": contextHash,
		"timestamp_ms": timestampMS,
	}
	if questionType != "" {
		payload["question_type"] = questionType
	}
	if audience != "" {
		payload["audience"] = audience
	}
	if to != "" {
		payload["to"] = to
	}
	return mapHash(payload)
}

// AnswerHash identifies an answer bound to its parent question.
func AnswerHash(parentQuestionHash string, answerPayload any, contextHash, answererID string, timestampMS int64) (string, error) {
	payload := map[string]any{
		"kind":                 "A",
		"parent_question_hash": parentQuestionHash,
		"answer_payload":       answerPayload,
		"context_hash":         contextHash,
		"timestamp_ms":         timestampMS,
	}
	if answererID != "" {
		payload["answerer_id"] = answererID
	}
	return mapHash(payload)
}

func mapHash(payload map[string]any) (string, error) {
	raw, err := canonical.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// #endregion namespaced-hashes

// #region record-builder

// BuildInput carries everything BuildRecord needs.
type BuildInput struct {
	Chain            string
	ASTRepr          string
	ContextHash      string
	ResultDomain     string
	ResultValue      any
	EpistemicBasis   []string
	ValueSystemBasis []string
	ParentActionHash string
	ActionHash       string
	ChildActionHash  string
	DecisionHash     string
	RuntimeMode      string
	CreatedAt        time.Time
}

// BuildRecord assembles a provenance record and computes its hash.
// Identity rules are enforced here rather than trusted from the caller:
// blocked results lose every identity hash, decisions lose action hashes,
// actions lose the decision hash.
func BuildRecord(in BuildInput) (Record, error) {
	chain := canonical.CanonicalizeChain(in.Chain)
	chainHash := sha256Hex(chain)

	astHash := zeroHash
	if in.ASTRepr != "" {
		astHash = sha256Hex(in.ASTRepr)
	}

	blocked := in.ResultDomain == "error" || in.ResultDomain == "undefined"
	isAction := in.ResultDomain == "action"
	switch {
	case blocked:
		in.ActionHash = ""
		in.ChildActionHash = ""
		in.DecisionHash = ""
	case !isAction:
		in.ActionHash = ""
		in.ChildActionHash = ""
	default:
		in.DecisionHash = ""
	}

	rec := Record{
		ID:               uuid.NewString(),
		Version:          RecordVersion,
		Chain:            chain,
		ChainHash:        chainHash,
		ASTHash:          astHash,
		ContextHash:      in.ContextHash,
		Result:           Result{Domain: in.ResultDomain, Value: in.ResultValue},
		EpistemicBasis:   sortedUnique(in.EpistemicBasis),
		ValueSystemBasis: sortedUnique(in.ValueSystemBasis),
		ParentActionHash: in.ParentActionHash,
		ActionHash:       in.ActionHash,
		ChildActionHash:  in.ChildActionHash,
		DecisionHash:     in.DecisionHash,
		SemanticsVersion: SemanticsVersion,
		RuntimeMode:      in.RuntimeMode,
		CreatedAt:        in.CreatedAt,
	}
	if rec.RuntimeMode == "" {
		rec.RuntimeMode = "strict"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if !blocked {
		surface := map[string]any{
			"version":            rec.Version,
			"chain_hash":         rec.ChainHash,
			"ast_hash":           rec.ASTHash,
			"context_hash":       rec.ContextHash,
			"result":             map[string]any{"domain": rec.Result.Domain, "value": rec.Result.Value},
			"epistemic_basis":    toAnySlice(rec.EpistemicBasis),
			"value_system_basis": toAnySlice(rec.ValueSystemBasis),
		}
		if rec.ParentActionHash != "" {
			surface["parent_action_hash"] = rec.ParentActionHash
		}
		if rec.ActionHash != "" {
			surface["action_hash"] = rec.ActionHash
		}
		if rec.ChildActionHash != "" {
			surface["child_action_hash"] = rec.ChildActionHash
		}
		if rec.DecisionHash != "" {
			surface["decision_hash"] = rec.DecisionHash
		}
		h, err := mapHash(surface)
		if err != nil {
			return Record{}, err
		}
		rec.RecordHash = h
	}
	return rec, nil
}

// BuildCertificate derives the replay surface for a finished evaluation.
func BuildCertificate(chain, contextHash, verdictDomain string, actionHashes []string) (Certificate, error) {
	canonChain := canonical.CanonicalizeChain(chain)
	hashes := append([]string(nil), actionHashes...)
	sort.Strings(hashes)
	surface := map[string]any{
		"chain_canonical": canonChain,
		"context_hash":    contextHash,
		"verdict_domain":  verdictDomain,
		"action_hashes":   toAnySlice(hashes),
	}
	raw, err := canonical.MarshalStrict(surface)
	if err != nil {
		return Certificate{}, err
	}
	sum := sha256.Sum256(raw)
	return Certificate{
		Chain:           canonChain,
		ContextHash:     contextHash,
		VerdictDomain:   verdictDomain,
		ActionHashes:    hashes,
		CertificateHash: hex.EncodeToString(sum[:]),
	}, nil
}

const zeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sortedUnique(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// #endregion record-builder
