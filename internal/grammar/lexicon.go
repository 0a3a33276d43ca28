// Package grammar implements the chain language surface: the operator
// lexicon, the tokenizer, the recursive-descent parser, and a bounded
// content-addressed cache for parsed chains.
package grammar

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// #region version

// Version identifies the grammar revision. It participates in cache keys
// so a grammar change can never serve a stale parse.
const Version = "1.0.0"

// VersionHash digests the revision tag together with the sorted operator
// lexicon, so adding or removing an operator invalidates cached parses
// even without a version bump. First 8 hex chars of the SHA-256.
func VersionHash() string {
	ops := make([]string, 0, len(AllOps))
	for op := range AllOps {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	h := sha256.New()
	h.Write([]byte(Version))
	for _, op := range ops {
		h.Write([]byte{0})
		h.Write([]byte(op))
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}

// #endregion version

// #region operator-sets

// ActionOps are the action event verbs.
var ActionOps = newSet("mek", "men")

// UnaryOps are prefix operators applied innermost-first when stacked.
var UnaryOps = newSet(
	"nai", "nex",
	"shi", "vek", "sha",
	"tor", "da",
	"nau", "ret", "tri",
	"qer", "eni", "sem",
	"mun", "fiu",
	"vus", "vel",
)

// ConjunctionOps are the binary operators at conjunction precedence.
var ConjunctionOps = newSet(
	"an",
	"ur",
	"kos", "til", "nel", "tel", "xel",
	"en",
	"kra",
	"tra", "fra",
	"noq",
	"lef", "rai", "sup", "bel", "fai", "ban",
	"rel",
	"<", ">", "<=", ">=", "=",
)

// DemonstrativeOps resolve entity references from context bindings.
var DemonstrativeOps = newSet("dia", "doq")

// GuardOps are scope keywords, not operators, but the validator needs
// to see them in token scans.
var GuardOps = newSet("khi", "sek")

// MorphOps are the morphology markers recognized by the tokenizer.
var MorphOps = newSet(".", "·", "nei", "tok")

// LogicOps is the derived set the validator uses to classify an
// operator as logical rather than comparative.
var LogicOps = newSet(
	"an", "ur", "nai", "nex",
	"khi", "kra", "sek",
	"shi", "vek", "sha",
	"tor", "da",
	"nau", "ret", "tri",
	"qer", "eni", "sem",
	"mun", "fiu",
)

// CompOps is the derived comparison-operator set.
var CompOps = newSet(
	"<", ">", "<=", ">=", "=",
	"kos", "til", "nel", "tel", "xel",
	"en", "tra", "fra",
	"lef", "rai", "sup", "bel", "fai", "ban",
	"rel",
)

// DeliveryOps covers the delivery surface across arities.
var DeliveryOps = newSet("vus", "vel", "noq")

// AuditOps covers the audit surface across arities.
var AuditOps = newSet("men", "kra")

// AllOps is the union used for token extraction.
var AllOps = union(ActionOps, UnaryOps, ConjunctionOps, DemonstrativeOps, GuardOps, MorphOps)

func newSet(members ...string) map[string]bool {
	s := make(map[string]bool, len(members))
	for _, m := range members {
		s[m] = true
	}
	return s
}

func union(sets ...map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, s := range sets {
		for m := range s {
			out[m] = true
		}
	}
	return out
}

// #endregion operator-sets

// #region context-requirements

// RequiredContext maps each operator to the context dot-paths it needs
// before it can ground. A missing path makes the operator evaluate to
// undefined rather than error.
var RequiredContext = map[string][]string{
	"nel": {"spatial.thresholds.near", "entities"},
	"tel": {"spatial.thresholds.far", "entities"},
	"xel": {"spatial.orientation.target", "spatial.orientation.tolerance", "entities"},
	"en":  {"entities"},
	"tra": {"entities"},
	"fra": {"entities"},

	"dia": {"demonstratives", "entities", "spatial.thresholds.near"},
	"doq": {"demonstratives", "entities", "spatial.thresholds.far"},

	"shi": {"modal.knowledge"},
	"vek": {"modal"},
	"sha": {"modal.certainty"},

	"nau": {"temporal.now"},
	"ret": {"temporal.now"},
	"tri": {"temporal.now"},
	"qer": {"temporal.now"},

	"vus": {"delivery"},
	"vel": {"delivery"},
	"men": {"audit", "spatial"},
	"mek": {"spatial"},
	"kra": {},
	"noq": {"delivery"},

	"tor": {"axioms.value_system"},
}

// #endregion context-requirements

// #region token-extraction

// ExtractOps scans a canonicalized chain for operator tokens using strict
// word boundaries: a match may not be preceded by a word char or '@' and
// may not be followed by a word char. Longer operators win overlaps.
// Matches are returned in order of appearance.
func ExtractOps(chain string, ops map[string]bool) []string {
	if chain == "" || len(ops) == 0 {
		return nil
	}
	sorted := make([]string, 0, len(ops))
	for op := range ops {
		sorted = append(sorted, op)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})

	var found []string
	runes := []rune(chain)
	for i := 0; i < len(runes); {
		if i > 0 && (isWordRune(runes[i-1]) || runes[i-1] == '@') {
			i++
			continue
		}
		matched := ""
		for _, op := range sorted {
			opRunes := []rune(op)
			if i+len(opRunes) > len(runes) {
				continue
			}
			if string(runes[i:i+len(opRunes)]) != op {
				continue
			}
			end := i + len(opRunes)
			if end < len(runes) && isWordRune(runes[end]) {
				continue
			}
			matched = op
			break
		}
		if matched != "" {
			found = append(found, matched)
			i += len([]rune(matched))
			continue
		}
		i++
	}
	return found
}

// ExtractOpsSet returns the unique operators present in a chain.
func ExtractOpsSet(chain string, ops map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, op := range ExtractOps(chain, ops) {
		out[op] = true
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// #endregion token-extraction
