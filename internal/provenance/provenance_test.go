package provenance

// #region imports
import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
)

// #endregion imports

// #region helpers

func makeAction(target string) map[string]any {
	return map[string]any{
		"type":     "action",
		"verb":     "mek",
		"target":   target,
		"executed": false,
	}
}

func mustHash(t *testing.T) func(string, error) string {
	return func(h string, err error) string {
		t.Helper()
		if err != nil {
			t.Fatalf("hash failed: %v", err)
		}
		if len(h) != 64 {
			t.Fatalf("expected sha256 hex, got %q", h)
		}
		return h
	}
}

// #endregion helpers

// #region action-event

func TestActionHashIgnoresOutcome(t *testing.T) {
	a := makeAction("@release_pallet")
	b := makeAction("@release_pallet")
	b["status"] = "delivered"
	b["verified"] = true

	hash := mustHash(t)
	ha := hash(ActionHash(a))
	hb := hash(ActionHash(b))
	if ha != hb {
		t.Fatalf("outcome fields changed action identity: %s vs %s", ha, hb)
	}

	ea := hash(EventHash(a))
	eb := hash(EventHash(b))
	if ea == eb {
		t.Fatalf("event hash ignored outcome fields")
	}
	if ea != ha {
		t.Fatalf("action with no outcome fields should have equal action and event hashes")
	}
}

func TestActionHashIgnoresMetadata(t *testing.T) {
	a := makeAction("@halt")
	b := makeAction("@halt")
	b["_trace"] = []any{"eval", "finalize"}
	b["meta"] = map[string]any{"operator": "jo"}

	hash := mustHash(t)
	if hash(ActionHash(a)) != hash(ActionHash(b)) {
		t.Fatalf("underscore or meta keys changed action identity")
	}
}

func TestActionHashNilAction(t *testing.T) {
	_, err := ActionHash(nil)
	if !errs.Is(err, errs.CodeInvalidAction) {
		t.Fatalf("expected %s, got %v", errs.CodeInvalidAction, err)
	}
}

func TestNestedActionChildPointer(t *testing.T) {
	child := makeAction("@open_gate")
	parent := map[string]any{
		"type":   "action",
		"verb":   "noq",
		"target": child,
		"to":     "robot_2",
	}
	hash := mustHash(t)
	parentHash := hash(ActionHash(parent))

	ptr, ok := parent["child_action_hash"].(string)
	if !ok || ptr == "" {
		t.Fatalf("parent missing child_action_hash pointer")
	}
	childHash := hash(ActionHash(child))
	if ptr != childHash {
		t.Fatalf("pointer %s does not match child hash %s", ptr, childHash)
	}

	// Outcome churn on the child must not move the parent identity once
	// the pointer is set.
	child["status"] = "delivered"
	if hash(ActionHash(parent)) != parentHash {
		t.Fatalf("parent identity moved after child outcome change")
	}
}

// #endregion action-event

// #region namespaced

func TestNamespacedHashesDisjoint(t *testing.T) {
	chain := "mek @go nek"
	hash := mustHash(t)
	req := hash(ExecutionRequestHash(chain, "ctx", "pack"))
	dec := hash(DecisionHash(chain, "ctx", "pack"))
	if req == dec {
		t.Fatalf("request and decision namespaces collided")
	}
	child := hash(ChildActionHash(req, chain, "ctx", "pack"))
	if child == req || child == dec {
		t.Fatalf("child namespace collided")
	}
}

func TestHashesRequireCanonicalChain(t *testing.T) {
	_, err := ExecutionRequestHash("mek   @go  nek", "ctx", "pack")
	if !errs.Is(err, errs.CodeNonIdempotent) {
		t.Fatalf("expected %s, got %v", errs.CodeNonIdempotent, err)
	}
	_, err = DecisionHash(" @a nek", "ctx", "pack")
	if !errs.Is(err, errs.CodeNonIdempotent) {
		t.Fatalf("expected %s, got %v", errs.CodeNonIdempotent, err)
	}
}

func TestQuestionAnswerHashes(t *testing.T) {
	hash := mustHash(t)
	q1 := hash(QuestionHash("qua @done nek", "soi", "", "robot_2", "ctx", 1000))
	q2 := hash(QuestionHash("qua @done nek", "soi", "", "robot_2", "ctx", 1000))
	if q1 != q2 {
		t.Fatalf("question hash not deterministic")
	}
	q3 := hash(QuestionHash("qua @done nek", "fek", "", "robot_2", "ctx", 1000))
	if q1 == q3 {
		t.Fatalf("question type not part of identity")
	}

	a1 := hash(AnswerHash(q1, true, "ctx", "robot_2", 2000))
	a2 := hash(AnswerHash(q1, false, "ctx", "robot_2", 2000))
	if a1 == a2 {
		t.Fatalf("answer payload not part of identity")
	}
	if a1 == q1 {
		t.Fatalf("question and answer namespaces collided")
	}
}

// #endregion namespaced

// #region record

func TestBuildRecordBlocked(t *testing.T) {
	rec, err := BuildRecord(BuildInput{
		Chain:        "shi @temp nek",
		ContextHash:  "ctx",
		ResultDomain: "error",
		ResultValue:  "blocked",
		ActionHash:   "should-be-cleared",
		DecisionHash: "should-be-cleared",
	})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if rec.ActionHash != "" || rec.DecisionHash != "" || rec.ChildActionHash != "" {
		t.Fatalf("blocked record kept identity hashes: %+v", rec)
	}
	if rec.RecordHash != "" {
		t.Fatalf("blocked record has a record hash")
	}
	if rec.ID == "" || rec.ChainHash == "" {
		t.Fatalf("blocked record missing id or chain hash")
	}
}

func TestBuildRecordExactlyOneIdentity(t *testing.T) {
	action, err := BuildRecord(BuildInput{
		Chain:        "mek @go nek",
		ContextHash:  "ctx",
		ResultDomain: "action",
		ActionHash:   "ah",
		DecisionHash: "dh",
	})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if action.ActionHash != "ah" || action.DecisionHash != "" {
		t.Fatalf("action record identity wrong: %+v", action)
	}

	decision, err := BuildRecord(BuildInput{
		Chain:        "@a an @b nek",
		ContextHash:  "ctx",
		ResultDomain: "truth",
		ActionHash:   "ah",
		DecisionHash: "dh",
	})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if decision.DecisionHash != "dh" || decision.ActionHash != "" {
		t.Fatalf("decision record identity wrong: %+v", decision)
	}
	if decision.RecordHash == "" {
		t.Fatalf("decision record missing record hash")
	}
}

func TestBuildRecordCanonicalizesChain(t *testing.T) {
	a, err := BuildRecord(BuildInput{Chain: "mek  @go   nek", ContextHash: "ctx", ResultDomain: "action"})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	b, err := BuildRecord(BuildInput{Chain: "mek @go nek", ContextHash: "ctx", ResultDomain: "action"})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if a.Chain != b.Chain || a.ChainHash != b.ChainHash {
		t.Fatalf("whitespace variants produced different chain identity")
	}
}

// #endregion record

// #region certificate

func TestCertificateDeterministic(t *testing.T) {
	c1, err := BuildCertificate("mek @go  nek", "ctx", "action", []string{"b", "a"})
	if err != nil {
		t.Fatalf("BuildCertificate: %v", err)
	}
	c2, err := BuildCertificate("mek @go nek", "ctx", "action", []string{"a", "b"})
	if err != nil {
		t.Fatalf("BuildCertificate: %v", err)
	}
	if c1.CertificateHash != c2.CertificateHash {
		t.Fatalf("certificate hash depends on whitespace or hash order")
	}
	if len(c1.ActionHashes) != 2 || c1.ActionHashes[0] != "a" {
		t.Fatalf("action hashes not sorted: %v", c1.ActionHashes)
	}

	c3, err := BuildCertificate("mek @go nek", "other", "action", []string{"a", "b"})
	if err != nil {
		t.Fatalf("BuildCertificate: %v", err)
	}
	if c3.CertificateHash == c1.CertificateHash {
		t.Fatalf("context hash not part of certificate identity")
	}
}

// #endregion certificate

// #region store

func makeStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStoreLogAndRecent(t *testing.T) {
	store := makeStore(t)

	first, err := BuildRecord(BuildInput{
		Chain:        "mek @go nek",
		ContextHash:  "ctx",
		ResultDomain: "action",
		ActionHash:   "ah",
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	second, err := BuildRecord(BuildInput{
		Chain:        "@a nek",
		ContextHash:  "ctx",
		ResultDomain: "truth",
		ResultValue:  true,
		DecisionHash: "dh",
		CreatedAt:    time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	if err := store.LogRecord(first); err != nil {
		t.Fatalf("LogRecord: %v", err)
	}
	if err := store.LogRecord(second); err != nil {
		t.Fatalf("LogRecord: %v", err)
	}

	recent, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].ID != second.ID {
		t.Fatalf("expected newest record first")
	}
	if recent[0].DecisionHash != "dh" || recent[1].ActionHash != "ah" {
		t.Fatalf("identity hashes lost in roundtrip: %+v", recent)
	}
	if recent[0].Result.Domain != "truth" {
		t.Fatalf("result domain lost: %+v", recent[0].Result)
	}
}

func TestStoreCertificates(t *testing.T) {
	store := makeStore(t)

	cert, err := BuildCertificate("mek @go nek", "ctx", "action", []string{"ah"})
	if err != nil {
		t.Fatalf("BuildCertificate: %v", err)
	}
	if err := store.SaveCertificate(cert); err != nil {
		t.Fatalf("SaveCertificate: %v", err)
	}
	// Replayed evaluations write the same content-derived row.
	if err := store.SaveCertificate(cert); err != nil {
		t.Fatalf("duplicate SaveCertificate: %v", err)
	}

	certs, err := store.Certificates("mek @go nek")
	if err != nil {
		t.Fatalf("Certificates: %v", err)
	}
	if len(certs) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(certs))
	}

	got, err := store.CertificateByHash(cert.CertificateHash)
	if err != nil {
		t.Fatalf("CertificateByHash: %v", err)
	}
	if got == nil || got.CertificateHash != cert.CertificateHash || got.VerdictDomain != "action" {
		t.Fatalf("certificate roundtrip mismatch: %+v", got)
	}

	missing, err := store.CertificateByHash("nope")
	if err != nil {
		t.Fatalf("CertificateByHash: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown hash")
	}

	recent, err := store.RecentCertificates(10)
	if err != nil {
		t.Fatalf("RecentCertificates: %v", err)
	}
	if len(recent) != 1 || recent[0].CertificateHash != cert.CertificateHash {
		t.Fatalf("recent certificates mismatch: %+v", recent)
	}
}

// #endregion store
