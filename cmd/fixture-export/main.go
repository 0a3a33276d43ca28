// Command fixture-export turns stored certificates into a replay
// fixture. The database records only the context hash, so the matching
// layered context must be supplied alongside it.
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
)

// #endregion imports

// #region main

func main() {
	dbPath := flag.String("db", "", "path to provenance sqlite db")
	outPath := flag.String("out", "", "path to write the fixture JSON")
	contextPath := flag.String("context", "", "path to the layered context JSON the certificates were recorded against")
	nowMS := flag.Int64("now", 0, "evaluation clock recorded in the fixture (unix ms)")
	limit := flag.Int("limit", 100, "export at most N certificates")
	desc := flag.String("desc", "exported from provenance log", "fixture description")
	flag.Parse()

	if *dbPath == "" || *outPath == "" || *contextPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db prov.db --out fixture.json --context ctx.json [--now ms] [--limit N] [--desc text]")
		os.Exit(2)
	}
	os.Exit(run(*dbPath, *outPath, *contextPath, *nowMS, *limit, *desc))
}

func run(dbPath, outPath, contextPath string, nowMS int64, limit int, desc string) int {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 1
	}
	defer db.Close()

	store, err := provenance.NewStore(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provenance store: %v\n", err)
		return 1
	}
	certs, err := store.RecentCertificates(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "certificates: %v\n", err)
		return 1
	}
	if len(certs) == 0 {
		fmt.Fprintln(os.Stderr, "no certificates to export")
		return 1
	}

	ctx, err := loadContext(contextPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	f := buildFixture(certs, ctx, nowMS, desc)
	if err := replay.WriteFixture(outPath, f); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Printf("exported %d chains to %s\n", len(f.Chains), outPath)
	return 0
}

// #endregion main

// #region build

func loadContext(path string) (replay.FixtureContext, error) {
	var ctx replay.FixtureContext
	data, err := os.ReadFile(path)
	if err != nil {
		return ctx, fmt.Errorf("read context %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &ctx); err != nil {
		return ctx, fmt.Errorf("parse context %s: %w", path, err)
	}
	return ctx, nil
}

// buildFixture keeps one expectation per chain, newest first. Chains
// recorded against several contexts cannot share one fixture; only the
// most recent certificate per chain is exported.
func buildFixture(certs []provenance.Certificate, ctx replay.FixtureContext, nowMS int64, desc string) *replay.Fixture {
	f := &replay.Fixture{
		Description: desc,
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
	return f
}

// #endregion build
