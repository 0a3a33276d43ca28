package runtime

// #region imports
import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/provenance"
	"github.com/danielpatrickdp/noe-kernel/internal/state"
)

// #endregion imports

// #region helpers

const testNowMS = int64(1000)

func makeContextStore(t *testing.T) *state.Store {
	t.Helper()
	root := map[string]any{
		"axioms": map[string]any{
			"value_system": map[string]any{
				"accepted": []any{"ok_policy"},
				"rejected": []any{"bad_policy"},
			},
		},
	}
	domain := map[string]any{
		"spatial": map[string]any{
			"thresholds": map[string]any{"near": 2.0, "far": 10.0},
		},
		"entities": map[string]any{
			"@r1": map[string]any{"position": []any{0.0, 0.0}, "distance": 1.0},
		},
	}
	local := map[string]any{
		"literals": map[string]any{
			"@door_open": true,
			"@power_ok":  true,
			"@lamp_on":   false,
			"@go":        map[string]any{"type": "actuator", "channel": 1},
			"@halt":      map[string]any{"type": "actuator", "channel": 2},
		},
		"temporal": map[string]any{"now": 1000, "max_skew_ms": 200},
		"audit":    map[string]any{"files": map[string]any{}},
		"modal": map[string]any{
			"knowledge": map[string]any{"@door_open": true},
		},
		"evidence": map[string]any{
			"@lamp_on": []any{
				map[string]any{"value": true, "timestamp": 950, "confidence": 0.95, "source": "lidar"},
			},
		},
	}
	cfg := state.DefaultStoreConfig()
	cfg.Clock = func() int64 { return testNowMS }
	store, err := state.NewStore(root, domain, local, cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func makeRuntime(t *testing.T) *Runtime {
	t.Helper()
	return New(makeContextStore(t), DefaultConfig())
}

func mustEvaluate(t *testing.T, rt *Runtime, chain string) *Outcome {
	t.Helper()
	out, err := rt.Evaluate(chain, testNowMS)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", chain, err)
	}
	return out
}

// #endregion helpers

// #region pipeline

func TestEvaluateTruthChain(t *testing.T) {
	rt := makeRuntime(t)
	out := mustEvaluate(t, rt, "@door_open an @power_ok nek")

	if out.Result.Domain != "truth" {
		t.Fatalf("domain = %q, want truth", out.Result.Domain)
	}
	if out.Result.Value != true {
		t.Fatalf("value = %v, want true", out.Result.Value)
	}
	if out.Blocked() {
		t.Fatal("truth outcome reported blocked")
	}
	if out.EvaluationID == "" {
		t.Fatal("missing evaluation id")
	}
	if out.Certificate.VerdictDomain != "truth" {
		t.Fatalf("certificate verdict = %q", out.Certificate.VerdictDomain)
	}
	if len(out.Certificate.ActionHashes) != 0 {
		t.Fatalf("truth chain produced action hashes: %v", out.Certificate.ActionHashes)
	}
	if out.Record.ContextHash != out.Certificate.ContextHash {
		t.Fatal("record and certificate disagree on context hash")
	}
	if len(out.Record.DecisionHash) != 64 {
		t.Fatalf("truth record missing decision hash: %q", out.Record.DecisionHash)
	}
	if out.Record.ActionHash != "" {
		t.Fatalf("truth record carries an action hash: %q", out.Record.ActionHash)
	}
}

func TestBlockedMissingLiteral(t *testing.T) {
	rt := makeRuntime(t)
	out := mustEvaluate(t, rt, "@ghost nek")

	if !out.Blocked() {
		t.Fatal("missing literal not blocked")
	}
	if out.Result.Code != errs.CodeLiteralMissing {
		t.Fatalf("code = %q, want %q", out.Result.Code, errs.CodeLiteralMissing)
	}
	if out.Result.Value != "blocked" {
		t.Fatalf("value = %v, want blocked", out.Result.Value)
	}
	if len(out.Certificate.ActionHashes) != 0 {
		t.Fatal("blocked outcome carries action hashes")
	}
	if out.Record.RecordHash != "" || out.Record.ActionHash != "" || out.Record.DecisionHash != "" {
		t.Fatal("blocked record carries identity hashes")
	}
}

func TestBlockedParseFailure(t *testing.T) {
	rt := makeRuntime(t)
	out := mustEvaluate(t, rt, "mek nek")

	if !out.Blocked() {
		t.Fatal("unparseable chain not blocked")
	}
	if out.Result.Code != errs.CodeParseFailed {
		t.Fatalf("code = %q, want %q", out.Result.Code, errs.CodeParseFailed)
	}
}

func TestDepthBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Eval.MaxDepth = 2
	rt := New(makeContextStore(t), cfg)

	out := mustEvaluate(t, rt, "nai nai nai @door_open nek")
	if out.Result.Code != errs.CodeRecursionLimit {
		t.Fatalf("code = %q, want %q", out.Result.Code, errs.CodeRecursionLimit)
	}
}

// #endregion pipeline

// #region identity

func TestActionOutcome(t *testing.T) {
	rt := makeRuntime(t)
	out := mustEvaluate(t, rt, "mek @go nek")

	if out.Result.Domain != "action" {
		t.Fatalf("domain = %q, want action", out.Result.Domain)
	}
	action, ok := out.Result.Value.(map[string]any)
	if !ok {
		t.Fatalf("action value is %T", out.Result.Value)
	}
	hash, _ := action["action_hash"].(string)
	if hash == "" {
		t.Fatal("finalized action missing action_hash")
	}
	if out.Record.ActionHash != hash {
		t.Fatalf("record action hash %q != value hash %q", out.Record.ActionHash, hash)
	}
	if out.Record.DecisionHash != "" {
		t.Fatal("single action record carries a decision hash")
	}
	if len(out.Certificate.ActionHashes) != 1 || out.Certificate.ActionHashes[0] != hash {
		t.Fatalf("certificate hashes = %v", out.Certificate.ActionHashes)
	}
	if out.Record.RecordHash == "" {
		t.Fatal("executed record missing record hash")
	}
}

func TestGuardDecisionOutcome(t *testing.T) {
	rt := makeRuntime(t)
	out := mustEvaluate(t, rt, "@door_open khi sek mek @go sek nek")

	if out.Result.Domain != "list" {
		t.Fatalf("domain = %q, want list", out.Result.Domain)
	}
	if out.Record.DecisionHash == "" {
		t.Fatal("decision record missing decision hash")
	}
	if out.Record.ActionHash != "" {
		t.Fatal("decision record carries a single-action hash")
	}
	if len(out.Certificate.ActionHashes) != 1 {
		t.Fatalf("certificate hashes = %v", out.Certificate.ActionHashes)
	}
}

func TestDeterministicReplay(t *testing.T) {
	rt := makeRuntime(t)
	first := mustEvaluate(t, rt, "@door_open khi sek mek @go sek nek")
	second := mustEvaluate(t, rt, "@door_open   khi sek mek @go sek nek")

	if first.Certificate.CertificateHash != second.Certificate.CertificateHash {
		t.Fatalf("certificate hashes diverge: %q vs %q",
			first.Certificate.CertificateHash, second.Certificate.CertificateHash)
	}
	if first.Record.RecordHash != second.Record.RecordHash {
		t.Fatalf("record hashes diverge: %q vs %q",
			first.Record.RecordHash, second.Record.RecordHash)
	}
	if first.EvaluationID == second.EvaluationID {
		t.Fatal("evaluation ids must be unique per run")
	}
}

// #endregion identity

// #region evidence

func TestEvidencePromotion(t *testing.T) {
	rt := makeRuntime(t)

	// The literals shard says the lamp is off; fresh confident evidence
	// says on. Projection promotes the evidence before evaluation.
	out := mustEvaluate(t, rt, "@lamp_on nek")
	if out.Result.Domain != "truth" || out.Result.Value != true {
		t.Fatalf("got %s/%v, want truth/true", out.Result.Domain, out.Result.Value)
	}

	found := false
	for _, p := range out.Record.EpistemicBasis {
		if p == "@lamp_on" {
			found = true
		}
	}
	if !found {
		t.Fatalf("epistemic basis %v missing promoted literal", out.Record.EpistemicBasis)
	}
}

func TestPromotedKnowledge(t *testing.T) {
	rt := makeRuntime(t)
	out := mustEvaluate(t, rt, "shi @lamp_on nek")
	if out.Result.Domain != "truth" || out.Result.Value != true {
		t.Fatalf("got %s/%v, want truth/true", out.Result.Domain, out.Result.Value)
	}
}

func TestValueSystemBasis(t *testing.T) {
	rt := makeRuntime(t)
	store := rt.Store()
	if err := store.PatchLocal(map[string]any{
		"literals": map[string]any{"@policy": "ok_policy"},
	}); err != nil {
		t.Fatalf("PatchLocal: %v", err)
	}

	out := mustEvaluate(t, rt, "tor @policy nek")
	if out.Result.Domain != "truth" || out.Result.Value != true {
		t.Fatalf("got %s/%v, want truth/true", out.Result.Domain, out.Result.Value)
	}
	if len(out.Record.ValueSystemBasis) != 1 || out.Record.ValueSystemBasis[0] != "ok_policy" {
		t.Fatalf("value system basis = %v", out.Record.ValueSystemBasis)
	}
}

// #endregion evidence

// #region questions

func TestQuestionOutcome(t *testing.T) {
	rt := makeRuntime(t)
	out := mustEvaluate(t, rt, "qua soi @door_open nek")

	if out.Result.Domain != "question" {
		t.Fatalf("domain = %q, want question", out.Result.Domain)
	}
	if out.QuestionHash == "" {
		t.Fatal("question outcome missing question hash")
	}

	answer, err := rt.AnswerHash(out.QuestionHash, map[string]any{"answer": true}, "operator_1", testNowMS)
	if err != nil {
		t.Fatalf("AnswerHash: %v", err)
	}
	if len(answer) != 64 {
		t.Fatalf("answer hash %q is not a sha256 digest", answer)
	}
}

// #endregion questions

// #region persistence

func TestProvenancePersistence(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ps, err := provenance.NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rt := makeRuntime(t)
	rt.AttachProvenance(ps)

	out := mustEvaluate(t, rt, "mek @go nek")

	recs, err := ps.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != out.Record.ID {
		t.Fatalf("persisted record mismatch: %+v", recs)
	}
	certs, err := ps.Certificates(out.Certificate.Chain)
	if err != nil {
		t.Fatalf("Certificates: %v", err)
	}
	if len(certs) != 1 || certs[0].CertificateHash != out.Certificate.CertificateHash {
		t.Fatalf("persisted certificate mismatch: %+v", certs)
	}
}

// #endregion persistence

// #region config

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	body := "mode: partial\nsource: bench\nparse_cache_size: 16\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Mode != "partial" || cfg.Source != "bench" || cfg.ParseCacheSize != 16 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Eval.Mode != "partial" {
		t.Fatalf("eval mode = %q, want partial", cfg.Eval.Mode)
	}
	if cfg.MaxContextDepth != DefaultConfig().MaxContextDepth {
		t.Fatal("unset keys must keep defaults")
	}
}

func TestLoadConfigRejectsBadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	if err := os.WriteFile(path, []byte("mode: lenient\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("invalid mode accepted")
	}
}

// #endregion config
