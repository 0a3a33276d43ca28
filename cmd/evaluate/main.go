// Command evaluate runs one chain against a context file and prints the
// outcome envelope as JSON.
package main

// #region imports
import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/noe-kernel/internal/provenance"
	"github.com/danielpatrickdp/noe-kernel/internal/runtime"
	"github.com/danielpatrickdp/noe-kernel/internal/state"
)

// #endregion imports

// #region context-file

// contextFile is the layered context JSON accepted by --context.
type contextFile struct {
	Root   map[string]any `json:"root"`
	Domain map[string]any `json:"domain"`
	Local  map[string]any `json:"local"`
}

func loadContext(path string) (*contextFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context %s: %w", path, err)
	}
	var cf contextFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse context %s: %w", path, err)
	}
	return &cf, nil
}

// #endregion context-file

// #region main

func main() {
	chain := flag.String("chain", "", "chain to evaluate")
	contextPath := flag.String("context", "", "path to context JSON {root, domain, local}")
	mode := flag.String("mode", "", "strict | partial (overrides config file)")
	configPath := flag.String("config", "", "path to runtime config YAML")
	dbPath := flag.String("db", "", "sqlite path for provenance logging (optional)")
	nowMS := flag.Int64("now", 0, "evaluation clock in unix ms (default: wall clock)")
	verbose := flag.Bool("v", false, "log pipeline stages")
	flag.Parse()

	if *chain == "" || *contextPath == "" {
		fmt.Fprintln(os.Stderr, "usage: evaluate --chain '<chain>' --context ctx.json [--mode strict|partial] [--config cfg.yaml] [--db prov.db] [--now ms] [--v]")
		os.Exit(2)
	}
	os.Exit(run(*chain, *contextPath, *mode, *configPath, *dbPath, *nowMS, *verbose))
}

func run(chain, contextPath, mode, configPath, dbPath string, nowMS int64, verbose bool) int {
	cfg := runtime.DefaultConfig()
	if configPath != "" {
		loaded, err := runtime.LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return 2
		}
		cfg = loaded
	}
	if mode != "" {
		if mode != "strict" && mode != "partial" {
			fmt.Fprintf(os.Stderr, "invalid mode %q\n", mode)
			return 2
		}
		cfg.Mode = mode
	}

	cf, err := loadContext(contextPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	store, err := state.NewStore(cf.Root, cf.Domain, cf.Local, state.DefaultStoreConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "context store: %v\n", err)
		return 1
	}

	rt := runtime.New(store, cfg)

	logCfg := zap.NewProductionConfig()
	if verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	rt.SetLogger(logger)

	if dbPath != "" {
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open db: %v\n", err)
			return 1
		}
		defer db.Close()
		ps, err := provenance.NewStore(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "provenance store: %v\n", err)
			return 1
		}
		rt.AttachProvenance(ps)
	}

	if nowMS == 0 {
		nowMS = time.Now().UnixMilli()
	}

	out, err := rt.Evaluate(chain, nowMS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %v\n", err)
		return 1
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode outcome: %v\n", err)
		return 1
	}
	fmt.Println(string(encoded))
	return 0
}

// #endregion main
