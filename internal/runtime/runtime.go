// Package runtime wires the full evaluation pipeline: canonicalize,
// snapshot, validate, parse, project evidence, evaluate, certify, log.
// It is the only package that sees every stage; the stages themselves
// never import each other's state.
package runtime

// #region imports
import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/eval"
	"github.com/danielpatrickdp/noe-kernel/internal/evidence"
	"github.com/danielpatrickdp/noe-kernel/internal/gate"
	"github.com/danielpatrickdp/noe-kernel/internal/grammar"
	"github.com/danielpatrickdp/noe-kernel/internal/projection"
	"github.com/danielpatrickdp/noe-kernel/internal/provenance"
	"github.com/danielpatrickdp/noe-kernel/internal/state"
)

// #endregion imports

// #region runtime

// Runtime evaluates chains against a layered context store.
type Runtime struct {
	store  *state.Store
	cache  *grammar.Cache
	gate   *gate.Gate
	eval   *eval.Evaluator
	logger *zap.Logger
	prov   *provenance.Store
	cfg    Config
}

// New creates a runtime over a context store. The logger defaults to a
// no-op; provenance persistence is off until AttachProvenance.
func New(store *state.Store, cfg Config) *Runtime {
	if cfg.Mode == "" {
		cfg.Mode = "strict"
	}
	if cfg.Source == "" {
		cfg.Source = "runtime"
	}
	if cfg.MaxContextDepth <= 0 {
		cfg.MaxContextDepth = DefaultConfig().MaxContextDepth
	}
	if cfg.ParseCacheSize <= 0 {
		cfg.ParseCacheSize = DefaultConfig().ParseCacheSize
	}
	if cfg.Eval.MaxDepth <= 0 {
		cfg.Eval = eval.DefaultConfig()
	}
	cfg.Eval.Mode = cfg.Mode

	return &Runtime{
		store:  store,
		cache:  grammar.NewCache(cfg.ParseCacheSize),
		gate:   gate.NewGate(gate.Config{Mode: cfg.Mode, MaxContextDepth: cfg.MaxContextDepth}),
		eval:   eval.NewEvaluator(cfg.Eval),
		logger: zap.NewNop(),
		cfg:    cfg,
	}
}

// SetLogger replaces the no-op logger.
func (rt *Runtime) SetLogger(l *zap.Logger) {
	if l != nil {
		rt.logger = l
	}
}

// AttachProvenance enables record and certificate persistence.
func (rt *Runtime) AttachProvenance(ps *provenance.Store) {
	rt.prov = ps
}

// Store exposes the underlying context store for patching.
func (rt *Runtime) Store() *state.Store {
	return rt.store
}

// #endregion runtime

// #region evaluate

// Evaluate runs one chain against the current snapshot. Refusals come
// back as blocked outcomes, never as Go errors; the error return is for
// infrastructure failures only (snapshot hashing, persistence).
func (rt *Runtime) Evaluate(chain string, nowMS int64) (*Outcome, error) {
	canonChain, err := canonical.CanonicalizeChainChecked(chain)
	if err != nil {
		return rt.blocked(chain, "", errs.CodeOf(err), err.Error(), nil)
	}

	snap, err := rt.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	if v := rt.gate.Validate(canonChain, snap); v != nil {
		return rt.blocked(canonChain, snap.Hashes.Total, v.Code, v.Detail, snap)
	}

	ast, err := rt.cache.Parse(canonChain)
	if err != nil {
		return rt.blocked(canonChain, snap.Hashes.Total, errs.CodeOf(err), err.Error(), snap)
	}
	if grammar.Depth(ast) > rt.cfg.Eval.MaxDepth {
		detail := fmt.Sprintf("chain depth exceeds limit (%d)", rt.cfg.Eval.MaxDepth)
		return rt.blocked(canonChain, snap.Hashes.Total, errs.CodeRecursionLimit, detail, snap)
	}

	layers := map[string]any{"root": snap.Root, "domain": snap.Domain, "local": snap.Local}
	cands := evidence.ExtractFromContext(layers)
	proj := projection.Project(cands, nowMS, snap.Merged, rt.cfg.Projection)

	env := eval.EnvFromSnapshot(snap, rt.cfg.Mode, rt.cfg.Source, nowMS)
	promote(env, proj.Literals)

	res := rt.eval.Evaluate(ast, env)

	actionHashes := collectActionHashes(res.Value)
	cert, err := provenance.BuildCertificate(canonChain, snap.Hashes.Total, res.Domain, actionHashes)
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", err)
	}

	in := provenance.BuildInput{
		Chain:          canonChain,
		ASTRepr:        grammar.Repr(ast),
		ContextHash:    snap.Hashes.Total,
		ResultDomain:   res.Domain,
		ResultValue:    res.Value,
		EpistemicBasis: basisFrom(proj.Literals),
		RuntimeMode:    rt.cfg.Mode,
	}
	switch res.Domain {
	case "action":
		in.ActionHash, in.ChildActionHash = topActionHashes(res.Value)
	case "error", "undefined":
		// Blocked results carry no identity.
	default:
		in.DecisionHash, err = provenance.DecisionHash(canonChain, snap.Hashes.Total, snap.Hashes.Domain)
		if err != nil {
			return nil, fmt.Errorf("decision hash: %w", err)
		}
	}
	if ops := grammar.ExtractOpsSet(canonChain, grammar.AllOps); ops["tor"] {
		in.ValueSystemBasis = acceptedPolicies(snap.Merged)
	}

	rec, err := provenance.BuildRecord(in)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}

	out := &Outcome{
		EvaluationID: uuid.NewString(),
		Result:       res,
		Certificate:  cert,
		Record:       rec,
	}
	if res.Domain == "question" {
		qh, qerr := questionHash(canonChain, res.Value, snap.Hashes.Total, nowMS)
		if qerr != nil {
			return nil, fmt.Errorf("question hash: %w", qerr)
		}
		out.QuestionHash = qh
	}

	if err := rt.persist(out); err != nil {
		return nil, err
	}

	rt.logger.Debug("chain evaluated",
		zap.String("domain", res.Domain),
		zap.String("context_hash", snap.Hashes.Total),
		zap.String("certificate_hash", cert.CertificateHash),
		zap.Int("actions", len(actionHashes)),
	)
	return out, nil
}

// AnswerHash derives the hash chaining an answer to a prior question,
// bound to the current context snapshot.
func (rt *Runtime) AnswerHash(parentQuestionHash string, payload any, answererID string, nowMS int64) (string, error) {
	snap, err := rt.store.Snapshot()
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	return provenance.AnswerHash(parentQuestionHash, payload, snap.Hashes.Total, answererID, nowMS)
}

// #endregion evaluate

// #region blocked

// blocked assembles the outcome for a refused chain. The certificate
// carries no action hashes and the record carries no identity hashes:
// absence of identity is the proof that nothing executed.
func (rt *Runtime) blocked(chain, ctxHash, code, detail string, snap *state.Snapshot) (*Outcome, error) {
	res := eval.Result{
		Domain:  "error",
		Value:   "blocked",
		Code:    code,
		Details: detail,
		Meta:    eval.Meta{ContextHash: ctxHash, Mode: rt.cfg.Mode},
	}
	if snap != nil {
		res.Meta.RootHash = snap.Hashes.Root
		res.Meta.DomainHash = snap.Hashes.Domain
		res.Meta.LocalHash = snap.Hashes.Local
	}

	out := &Outcome{EvaluationID: uuid.NewString(), Result: res}

	// A chain that never canonicalized has no certificate surface.
	if cert, err := provenance.BuildCertificate(chain, ctxHash, "error", nil); err == nil {
		out.Certificate = cert
	}
	rec, err := provenance.BuildRecord(provenance.BuildInput{
		Chain:        chain,
		ContextHash:  ctxHash,
		ResultDomain: "error",
		ResultValue:  "blocked",
		RuntimeMode:  rt.cfg.Mode,
	})
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	out.Record = rec

	if err := rt.persist(out); err != nil {
		return nil, err
	}
	rt.logger.Debug("chain blocked",
		zap.String("code", code),
		zap.String("detail", detail),
	)
	return out, nil
}

func (rt *Runtime) persist(out *Outcome) error {
	if rt.prov == nil {
		return nil
	}
	if err := rt.prov.LogRecord(out.Record); err != nil {
		return fmt.Errorf("log record: %w", err)
	}
	if out.Certificate.CertificateHash != "" {
		if err := rt.prov.SaveCertificate(out.Certificate); err != nil {
			return fmt.Errorf("save certificate: %w", err)
		}
	}
	return nil
}

// #endregion blocked

// #region helpers

// promote merges projected literals into the evaluation context. Each
// safe literal lands in local literals; boolean values also back the
// knowledge operator.
func promote(env *eval.Env, lits []evidence.BareLiteral) {
	if len(lits) == 0 {
		return
	}
	local := state.Copy(env.Local)

	literals, _ := local["literals"].(map[string]any)
	if literals == nil {
		literals = map[string]any{}
	}
	modal, _ := local["modal"].(map[string]any)
	if modal == nil {
		modal = map[string]any{}
	}
	knowledge, _ := modal["knowledge"].(map[string]any)
	if knowledge == nil {
		knowledge = map[string]any{}
	}

	for _, l := range lits {
		literals[l.Predicate] = l.Value
		if b, ok := l.Value.(bool); ok {
			knowledge[l.Predicate] = b
		}
	}
	modal["knowledge"] = knowledge
	local["literals"] = literals
	local["modal"] = modal
	env.Local = local
}

// collectActionHashes walks a result value and gathers every finalized
// action identity, deterministically and without duplicates.
func collectActionHashes(v any) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(any)
	walk = func(v any) {
		switch x := v.(type) {
		case map[string]any:
			if x["type"] == "action" {
				if h, ok := x["action_hash"].(string); ok && !seen[h] {
					seen[h] = true
					out = append(out, h)
				}
			}
			keys := make([]string, 0, len(x))
			for k := range x {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(x[k])
			}
		case []any:
			for _, item := range x {
				walk(item)
			}
		}
	}
	walk(v)
	return out
}

// topActionHashes pulls the proposal identity (and child pointer, when
// the action nests another) off a top-level action result.
func topActionHashes(v any) (actionHash, childHash string) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", ""
	}
	actionHash, _ = m["action_hash"].(string)
	childHash, _ = m["child_action_hash"].(string)
	return actionHash, childHash
}

func basisFrom(lits []evidence.BareLiteral) []string {
	if len(lits) == 0 {
		return nil
	}
	out := make([]string, 0, len(lits))
	for _, l := range lits {
		out = append(out, l.Predicate)
	}
	return out
}

func acceptedPolicies(merged map[string]any) []string {
	axioms, _ := merged["axioms"].(map[string]any)
	vs, _ := axioms["value_system"].(map[string]any)
	list, _ := vs["accepted"].([]any)
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func questionHash(chain string, value any, ctxHash string, nowMS int64) (string, error) {
	qtype := ""
	if m, ok := value.(map[string]any); ok {
		if t, ok := m["type"].(string); ok {
			qtype = t
		}
	}
	return provenance.QuestionHash(chain, qtype, "", "", ctxHash, nowMS)
}

// #endregion helpers
