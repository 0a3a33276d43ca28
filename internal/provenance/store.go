package provenance

// #region imports
import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #endregion imports

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS provenance_log (
    id            TEXT PRIMARY KEY,
    version       TEXT NOT NULL,
    chain         TEXT NOT NULL,
    chain_hash    TEXT NOT NULL,
    ast_hash      TEXT NOT NULL,
    context_hash  TEXT NOT NULL,
    result_domain TEXT NOT NULL,
    result_json   TEXT NOT NULL,
    action_hash   TEXT,
    decision_hash TEXT,
    record_hash   TEXT,
    runtime_mode  TEXT NOT NULL,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prov_chain_hash ON provenance_log(chain_hash);
CREATE INDEX IF NOT EXISTS idx_prov_created ON provenance_log(created_at);

CREATE TABLE IF NOT EXISTS certificates (
    certificate_hash TEXT PRIMARY KEY,
    chain_canonical  TEXT NOT NULL,
    context_hash     TEXT NOT NULL,
    verdict_domain   TEXT NOT NULL,
    action_hashes    TEXT NOT NULL,
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cert_chain ON certificates(chain_canonical);
`

// #endregion schema

// #region store

// Store persists provenance records and certificates.
type Store struct {
	db *sql.DB
}

// NewStore creates tables and returns a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("provenance schema: %w", err)
	}
	return &Store{db: db}, nil
}

// LogRecord appends a record to the provenance log.
func (s *Store) LogRecord(rec Record) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(
		`INSERT INTO provenance_log
		 (id, version, chain, chain_hash, ast_hash, context_hash, result_domain, result_json,
		  action_hash, decision_hash, record_hash, runtime_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Version,
		rec.Chain,
		rec.ChainHash,
		rec.ASTHash,
		rec.ContextHash,
		rec.Result.Domain,
		string(resultJSON),
		nullIfEmpty(rec.ActionHash),
		nullIfEmpty(rec.DecisionHash),
		nullIfEmpty(rec.RecordHash),
		rec.RuntimeMode,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log record: %w", err)
	}
	return nil
}

// SaveCertificate stores a certificate, ignoring duplicates: the hash is
// content-derived, so a replayed evaluation writes the identical row.
func (s *Store) SaveCertificate(cert Certificate) error {
	hashesJSON, err := json.Marshal(cert.ActionHashes)
	if err != nil {
		return fmt.Errorf("marshal action hashes: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO certificates
		 (certificate_hash, chain_canonical, context_hash, verdict_domain, action_hashes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cert.CertificateHash,
		cert.Chain,
		cert.ContextHash,
		cert.VerdictDomain,
		string(hashesJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save certificate: %w", err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, version, chain, chain_hash, ast_hash, context_hash, result_json,
		        action_hash, decision_hash, record_hash, runtime_mode, created_at
		 FROM provenance_log
		 ORDER BY created_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var resultJSON, createdAt string
		var actionHash, decisionHash, recordHash sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.Version, &rec.Chain, &rec.ChainHash, &rec.ASTHash,
			&rec.ContextHash, &resultJSON, &actionHash, &decisionHash, &recordHash,
			&rec.RuntimeMode, &createdAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		rec.ActionHash = actionHash.String
		rec.DecisionHash = decisionHash.String
		rec.RecordHash = recordHash.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Certificates returns all stored certificates for a canonical chain.
func (s *Store) Certificates(chainCanonical string) ([]Certificate, error) {
	rows, err := s.db.Query(
		`SELECT certificate_hash, chain_canonical, context_hash, verdict_domain, action_hashes
		 FROM certificates
		 WHERE chain_canonical = ?
		 ORDER BY created_at DESC`, chainCanonical)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCertificates(rows)
}

// RecentCertificates returns the newest certificates, most recent first.
func (s *Store) RecentCertificates(limit int) ([]Certificate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT certificate_hash, chain_canonical, context_hash, verdict_domain, action_hashes
		 FROM certificates
		 ORDER BY created_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCertificates(rows)
}

// CertificateByHash fetches one certificate, or nil when absent.
func (s *Store) CertificateByHash(hash string) (*Certificate, error) {
	rows, err := s.db.Query(
		`SELECT certificate_hash, chain_canonical, context_hash, verdict_domain, action_hashes
		 FROM certificates
		 WHERE certificate_hash = ?`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	certs, err := scanCertificates(rows)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, nil
	}
	return &certs[0], nil
}

func scanCertificates(rows *sql.Rows) ([]Certificate, error) {
	var out []Certificate
	for rows.Next() {
		var cert Certificate
		var hashesJSON string
		if err := rows.Scan(&cert.CertificateHash, &cert.Chain, &cert.ContextHash, &cert.VerdictDomain, &hashesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(hashesJSON), &cert.ActionHashes); err != nil {
			return nil, fmt.Errorf("decode action hashes: %w", err)
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion store
