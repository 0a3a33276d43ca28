// Command lexicon prints the operator table and the grammar version
// hash that participates in parse-cache keys.
package main

// #region imports
import (
	"flag"
	"fmt"
	"sort"

	"github.com/danielpatrickdp/noe-kernel/internal/grammar"
)

// #endregion imports

// #region main

func main() {
	jsonless := flag.Bool("hash-only", false, "print only the version hash")
	flag.Parse()

	if *jsonless {
		fmt.Println(grammar.VersionHash())
		return
	}

	fmt.Printf("grammar %s (version hash %s)\n\n", grammar.Version, grammar.VersionHash())

	groups := []struct {
		name string
		ops  map[string]bool
	}{
		{"action", grammar.ActionOps},
		{"unary", grammar.UnaryOps},
		{"conjunction", grammar.ConjunctionOps},
		{"demonstrative", grammar.DemonstrativeOps},
		{"guard/scope", grammar.GuardOps},
		{"morphology", grammar.MorphOps},
	}
	for _, g := range groups {
		fmt.Printf("%-14s %s\n", g.name+":", joinSorted(g.ops))
	}
}

func joinSorted(ops map[string]bool) string {
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " "
		}
		out += n
	}
	return out
}

// #endregion main
