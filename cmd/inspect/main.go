// Command inspect dumps recent provenance records and certificates from
// a provenance database.
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
)

// #endregion imports

// #region main

func main() {
	dbPath := flag.String("db", "", "path to provenance sqlite db")
	limit := flag.Int("limit", 20, "show N most recent entries")
	chain := flag.String("chain", "", "filter certificates to one canonical chain")
	jsonOut := flag.Bool("json", false, "output as JSON instead of tables")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/prov.db [--limit N] [--chain '<canonical chain>'] [--json]")
		os.Exit(2)
	}
	os.Exit(run(*dbPath, *limit, *chain, *jsonOut))
}

func run(dbPath string, limit int, chain string, jsonOut bool) int {
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

	records, err := store.Recent(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "records: %v\n", err)
		return 1
	}
	var certs []provenance.Certificate
	if chain != "" {
		certs, err = store.Certificates(chain)
	} else {
		certs, err = store.RecentCertificates(limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "certificates: %v\n", err)
		return 1
	}

	if jsonOut {
		return printJSON(records, certs)
	}
	printRecords(records)
	fmt.Println()
	printCertificates(certs)
	return 0
}

// #endregion main

// #region output

func printJSON(records []provenance.Record, certs []provenance.Certificate) int {
	payload := map[string]any{"records": records, "certificates": certs}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		return 1
	}
	fmt.Println(string(encoded))
	return 0
}

func printRecords(records []provenance.Record) {
	fmt.Printf("records (%d):\n", len(records))
	fmt.Printf("%-26s| %-10s| %-10s| %-36s| %s\n", "Created", "Domain", "Mode", "Chain", "Identity")
	for _, r := range records {
		identity := "-"
		switch {
		case r.ActionHash != "":
			identity = "action:" + short(r.ActionHash)
		case r.DecisionHash != "":
			identity = "decision:" + short(r.DecisionHash)
		}
		fmt.Printf("%-26s| %-10s| %-10s| %-36s| %s\n",
			r.CreatedAt.Format("2006-01-02T15:04:05.000Z"),
			r.Result.Domain,
			r.RuntimeMode,
			truncate(r.Chain, 36),
			identity,
		)
	}
}

func printCertificates(certs []provenance.Certificate) {
	fmt.Printf("certificates (%d):\n", len(certs))
	fmt.Printf("%-14s| %-10s| %-36s| %-14s| %s\n", "Certificate", "Verdict", "Chain", "Context", "Actions")
	for _, c := range certs {
		fmt.Printf("%-14s| %-10s| %-36s| %-14s| %d\n",
			short(c.CertificateHash),
			c.VerdictDomain,
			truncate(c.Chain, 36),
			short(c.ContextHash),
			len(c.ActionHashes),
		)
	}
}

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// #endregion output
