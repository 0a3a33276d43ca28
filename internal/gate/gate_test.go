package gate

import (
	"testing"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
	"github.com/danielpatrickdp/noe-kernel/internal/state"
)

// #region helpers

func makeSnapshot(local map[string]any) *state.Snapshot {
	root := map[string]any{
		"axioms": map[string]any{"value_system": map[string]any{}},
	}
	domain := map[string]any{
		"spatial": map[string]any{
			"thresholds":  map[string]any{"near": 1.0, "far": 10.0},
			"orientation": map[string]any{},
		},
	}
	if local == nil {
		local = map[string]any{}
	}
	if _, ok := local["literals"]; !ok {
		local["literals"] = map[string]any{"go": true, "halt": true}
	}
	if _, ok := local["temporal"]; !ok {
		local["temporal"] = map[string]any{"now": 1000.0, "max_skew_ms": 200.0}
	}
	if _, ok := local["modal"]; !ok {
		local["modal"] = map[string]any{"knowledge": map[string]any{}}
	}
	if _, ok := local["audit"]; !ok {
		local["audit"] = map[string]any{"files": map[string]any{}}
	}
	merged := state.Merge(state.Merge(root, domain), local)
	return &state.Snapshot{Root: root, Domain: domain, Local: local, Merged: merged}
}

func firstCode(t *testing.T, g *Gate, chain string, snap *state.Snapshot) string {
	t.Helper()
	v := g.Validate(chain, snap)
	if v == nil {
		return ""
	}
	return v.Code
}

// #endregion helpers

func TestValidateAcceptsWellFormedChain(t *testing.T) {
	g := NewGate(DefaultConfig())
	if code := firstCode(t, g, "@go an @halt", makeSnapshot(nil)); code != "" {
		t.Fatalf("unexpected violation %q", code)
	}
}

func TestValidateNilSnapshot(t *testing.T) {
	g := NewGate(DefaultConfig())
	if code := firstCode(t, g, "@go", nil); code != errs.CodeBadContext {
		t.Fatalf("code = %q", code)
	}
}

func TestValidateTooDeepContext(t *testing.T) {
	g := NewGate(Config{Mode: "strict", MaxContextDepth: 3})
	deep := map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": 1}}}}
	snap := makeSnapshot(map[string]any{"nested": deep})
	if code := firstCode(t, g, "@go", snap); code != errs.CodeContextTooDeep {
		t.Fatalf("code = %q", code)
	}
}

func TestValidateIncompleteShape(t *testing.T) {
	g := NewGate(DefaultConfig())
	snap := makeSnapshot(nil)
	delete(snap.Merged, "modal")
	if code := firstCode(t, g, "@go", snap); code != errs.CodeContextIncomplete {
		t.Fatalf("code = %q", code)
	}
}

func TestValidateTemporalAlternatives(t *testing.T) {
	g := NewGate(DefaultConfig())

	legacy := makeSnapshot(map[string]any{
		"temporal": map[string]any{"now": 5.0, "max_skew_ms": 100.0},
	})
	if code := firstCode(t, g, "@go", legacy); code != "" {
		t.Fatalf("legacy temporal rejected: %q", code)
	}

	micro := makeSnapshot(map[string]any{
		"temporal": map[string]any{"now_us": int64(5_000_000)},
	})
	if code := firstCode(t, g, "@go", micro); code != "" {
		t.Fatalf("now_us temporal rejected: %q", code)
	}

	empty := makeSnapshot(map[string]any{
		"temporal": map[string]any{},
	})
	if code := firstCode(t, g, "@go", empty); code != errs.CodeContextIncomplete {
		t.Fatalf("empty temporal code = %q", code)
	}
}

func TestValidateStaleTimestamp(t *testing.T) {
	g := NewGate(DefaultConfig())
	snap := makeSnapshot(map[string]any{
		"temporal":  map[string]any{"now": 2000.0, "max_skew_ms": 100.0},
		"timestamp": 1000.0,
	})
	if code := firstCode(t, g, "@go", snap); code != errs.CodeContextStale {
		t.Fatalf("code = %q", code)
	}
}

func TestValidateLiteralChecks(t *testing.T) {
	g := NewGate(DefaultConfig())
	snap := makeSnapshot(nil)

	if code := firstCode(t, g, "@Go-Bad", snap); code != errs.CodeInvalidLiteral {
		t.Fatalf("malformed literal code = %q", code)
	}
	if code := firstCode(t, g, "@missing_key", snap); code != errs.CodeLiteralMissing {
		t.Fatalf("missing literal code = %q", code)
	}
}

func TestValidatePartialModeSkipsLiteralPresence(t *testing.T) {
	g := NewGate(Config{Mode: "partial"})
	snap := makeSnapshot(nil)
	if code := firstCode(t, g, "@missing_key", snap); code != "" {
		t.Fatalf("partial mode flagged missing literal: %q", code)
	}
}

func TestValidateDeliveryGrounding(t *testing.T) {
	g := NewGate(DefaultConfig())

	snap := makeSnapshot(map[string]any{
		"literals": map[string]any{"pkg": true},
	})
	if code := firstCode(t, g, "vus @pkg", snap); code != errs.CodeContextIncomplete {
		t.Fatalf("missing delivery code = %q", code)
	}

	withItems := makeSnapshot(map[string]any{
		"literals": map[string]any{"pkg": true},
		"delivery": map[string]any{"items": map[string]any{}},
	})
	if code := firstCode(t, g, "vus @pkg", withItems); code != "" {
		t.Fatalf("grounded delivery rejected: %q", code)
	}
}

func TestValidateAuditGrounding(t *testing.T) {
	g := NewGate(DefaultConfig())
	snap := makeSnapshot(nil)
	delete(snap.Merged, "audit")

	// Guards run without an audit shard; only men reads it.
	if code := firstCode(t, g, "@go khi sek mek @halt sek", snap); code != "" {
		t.Fatalf("guard without audit rejected: %q", code)
	}
	if code := firstCode(t, g, "men @go", snap); code != errs.CodeContextIncomplete {
		t.Fatalf("men without audit code = %q", code)
	}
}

func TestValidateDemonstrativeGrounding(t *testing.T) {
	g := NewGate(DefaultConfig())
	snap := makeSnapshot(map[string]any{
		"demonstratives": map[string]any{},
		"entities":       map[string]any{},
	})
	// The domain layer would deep-merge far and orientation back in, so
	// the partial shard replaces the merged view outright.
	snap.Merged["spatial"] = map[string]any{"thresholds": map[string]any{"near": 1.0}}
	if code := firstCode(t, g, "dia nel @go", snap); code != errs.CodeDemonstrativeUngrounded {
		t.Fatalf("code = %q", code)
	}
}

func TestValidateSpatialGrounding(t *testing.T) {
	g := NewGate(DefaultConfig())
	snap := makeSnapshot(map[string]any{
		"literals": map[string]any{"a": true, "b": true},
	})
	delete(snap.Merged, "spatial")
	if code := firstCode(t, g, "@a nel @b", snap); code != errs.CodeSpatialUngroundable {
		t.Fatalf("code = %q", code)
	}
}

func TestValidateActionPlacement(t *testing.T) {
	g := NewGate(DefaultConfig())
	snap := makeSnapshot(nil)

	// Pure action chains are fine.
	if code := firstCode(t, g, "mek @go", snap); code != "" {
		t.Fatalf("pure action rejected: %q", code)
	}
	// Guard with a sole action consequence is fine.
	if code := firstCode(t, g, "@go khi sek mek @halt sek", snap); code != "" {
		t.Fatalf("guarded action rejected: %q", code)
	}
	// Action mixed into logic without a guard is misuse.
	if code := firstCode(t, g, "@go an mek @halt", snap); code != errs.CodeActionMisuse {
		t.Fatalf("mixed action code = %q", code)
	}
	// Action in the guard condition is misuse.
	if code := firstCode(t, g, "mek @go khi sek mek @halt sek", snap); code != errs.CodeActionMisuse {
		t.Fatalf("condition action code = %q", code)
	}
	// Logic inside the guarded action clause is misuse.
	if code := firstCode(t, g, "@go khi sek mek @halt an @go sek", snap); code != errs.CodeActionMisuse {
		t.Fatalf("logic in clause code = %q", code)
	}
}

func TestValidatePriorityOrdering(t *testing.T) {
	g := NewGate(DefaultConfig())
	// Chain with a parse problem AND an incomplete context: the shape
	// violation (priority 1) must win over the parse failure (priority 5).
	snap := makeSnapshot(nil)
	delete(snap.Merged, "modal")
	all := g.ValidateAll("@go an", snap)
	if len(all) < 2 {
		t.Fatalf("expected multiple violations, got %d", len(all))
	}
	if all[0].Code != errs.CodeContextIncomplete {
		t.Fatalf("first code = %q", all[0].Code)
	}
	last := all[len(all)-1]
	if last.Code != errs.CodeParseFailed {
		t.Fatalf("last code = %q", last.Code)
	}
}

func TestValidateParseFailure(t *testing.T) {
	g := NewGate(DefaultConfig())
	if code := firstCode(t, g, "@go an", makeSnapshot(nil)); code != errs.CodeParseFailed {
		t.Fatalf("code = %q", code)
	}
}
