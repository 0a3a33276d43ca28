package grammar

import (
	"reflect"
	"testing"
)

func TestExtractOpsWordBoundaries(t *testing.T) {
	got := ExtractOps("@temp_ok an mek @go khi sek", AllOps)
	want := []string{"an", "mek", "khi", "sek"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractOps = %v, want %v", got, want)
	}
}

func TestExtractOpsSkipsLiteralBodies(t *testing.T) {
	// "an" inside "@an_open" is part of a literal, not an operator.
	got := ExtractOps("@an_open an @ban", AllOps)
	want := []string{"an"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractOps = %v, want %v", got, want)
	}
}

func TestExtractOpsLongestMatchWins(t *testing.T) {
	got := ExtractOps("ban an", AllOps)
	want := []string{"ban", "an"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractOps = %v, want %v", got, want)
	}
}

func TestExtractOpsSet(t *testing.T) {
	got := ExtractOpsSet("an an an ur", AllOps)
	if len(got) != 2 || !got["an"] || !got["ur"] {
		t.Fatalf("ExtractOpsSet = %v", got)
	}
}

func TestOperatorSetsDisjointWhereExpected(t *testing.T) {
	for op := range LogicOps {
		if CompOps[op] {
			t.Fatalf("%q is in both LogicOps and CompOps", op)
		}
	}
	for op := range ActionOps {
		if UnaryOps[op] {
			t.Fatalf("%q is in both ActionOps and UnaryOps", op)
		}
	}
}

func TestRequiredContextCoversBinarySpatialOps(t *testing.T) {
	for _, op := range []string{"nel", "tel", "xel", "en", "dia", "doq"} {
		reqs, ok := RequiredContext[op]
		if !ok {
			t.Fatalf("no context requirements for %q", op)
		}
		found := false
		for _, r := range reqs {
			if r == "entities" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%q does not require entities: %v", op, reqs)
		}
	}
}

func TestVersionHashStable(t *testing.T) {
	h := VersionHash()
	if len(h) != 8 {
		t.Fatalf("hash length = %d", len(h))
	}
	if h != VersionHash() {
		t.Fatal("hash not stable")
	}
}
