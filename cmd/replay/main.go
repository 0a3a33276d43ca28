// Command replay re-runs recorded chains and verifies that verdicts and
// certificate hashes reproduce byte-for-byte. Exits 1 on divergence.
//
// Fixture mode replays a fixture file. DB mode rebuilds a fixture from
// the certificates in a provenance database; the database stores only
// context hashes, so the layered context must be supplied with it.
package main

// #region imports
import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/noe-kernel/internal/provenance"
	"github.com/danielpatrickdp/noe-kernel/internal/replay"
	"github.com/danielpatrickdp/noe-kernel/internal/runtime"
)

// #endregion imports

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	dbPath := flag.String("db", "", "path to provenance sqlite db (db mode)")
	contextPath := flag.String("context", "", "layered context JSON, required in db mode")
	nowMS := flag.Int64("now", 0, "evaluation clock for db mode (unix ms)")
	configPath := flag.String("config", "", "path to runtime config YAML")
	verbose := flag.Bool("v", false, "print every chain, not only divergences")
	flag.Parse()

	if (*fixturePath == "" && *dbPath == "") || (*fixturePath != "" && *dbPath != "") {
		usage()
		os.Exit(2)
	}
	if *dbPath != "" && *contextPath == "" {
		usage()
		os.Exit(2)
	}
	os.Exit(run(*fixturePath, *dbPath, *contextPath, *configPath, *nowMS, *verbose))
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--config cfg.yaml] [--v]")
	fmt.Fprintln(os.Stderr, "       replay --db prov.db --context ctx.json [--now ms] [--config cfg.yaml] [--v]")
}

func run(fixturePath, dbPath, contextPath, configPath string, nowMS int64, verbose bool) int {
	cfg := runtime.DefaultConfig()
	if configPath != "" {
		loaded, err := runtime.LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 2
		}
		cfg = loaded
	}

	var f *replay.Fixture
	var err error
	if fixturePath != "" {
		f, err = replay.LoadFixture(fixturePath)
	} else {
		f, err = fixtureFromDB(dbPath, contextPath, nowMS)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	results, sum, err := replay.Replay(f, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}

	printResults(f, results, verbose)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge\n", sum.Total, sum.Matched, sum.Diverged)

	if !sum.Clean() {
		return 1
	}
	return 0
}

// #endregion main

// #region db-mode

// fixtureFromDB rebuilds a replay fixture from stored certificates,
// newest certificate per chain.
func fixtureFromDB(dbPath, contextPath string, nowMS int64) (*replay.Fixture, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	store, err := provenance.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("provenance store: %w", err)
	}
	certs, err := store.RecentCertificates(10000)
	if err != nil {
		return nil, fmt.Errorf("certificates: %w", err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates in %s", dbPath)
	}

	data, err := os.ReadFile(contextPath)
	if err != nil {
		return nil, fmt.Errorf("read context %s: %w", contextPath, err)
	}
	var ctx replay.FixtureContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("parse context %s: %w", contextPath, err)
	}

	f := &replay.Fixture{
		Description: "replay of " + dbPath,
		Context:     ctx,
		NowMS:       nowMS,
	}
	seen := map[string]bool{}
	for _, c := range certs {
		if seen[c.Chain] {
			continue
		}
		seen[c.Chain] = true
		f.Chains = append(f.Chains, c.Chain)
		f.Expected = append(f.Expected, replay.Expectation{
			Chain:           c.Chain,
			VerdictDomain:   c.VerdictDomain,
			CertificateHash: c.CertificateHash,
		})
	}
	return f, nil
}

// #endregion db-mode

// #region output

func printResults(f *replay.Fixture, results []replay.Result, verbose bool) {
	if f.Description != "" {
		fmt.Printf("fixture: %s\n\n", f.Description)
	}
	fmt.Printf("%-44s| %-10s| %-6s| %s\n", "Chain", "Verdict", "Match", "Detail")
	fmt.Printf("%s\n", "--------------------------------------------+-----------+-------+-------")
	for _, r := range results {
		if r.Matched && !verbose {
			continue
		}
		match := "OK"
		if !r.Matched {
			match = "DIFF"
		}
		fmt.Printf("%-44s| %-10s| %-6s| %s\n", truncate(r.Chain, 44), r.VerdictDomain, match, r.Divergence)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// #endregion output
