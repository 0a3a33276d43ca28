package provenance

import "time"

// SemanticsVersion binds records to the logic revision that produced them.
const SemanticsVersion = "K3-v1.0"

// RecordVersion is the provenance schema version.
const RecordVersion = "prov-v1"

// #region outcome-fields
// OutcomeFields are execution-outcome keys. They affect event identity
// but never proposal identity: an action hash must survive its own
// execution unchanged.
var OutcomeFields = map[string]bool{
	"status":         true,
	"verified":       true,
	"audit_status":   true,
	"expires_at_ms":  true,
	"observed_at_ms": true,
}

// #endregion outcome-fields

// #region result
// Result is the evaluation outcome stored inside a record.
type Result struct {
	Domain string `json:"domain"`
	Value  any    `json:"value"`
}

// #endregion result

// #region record
// Record is the canonical provenance record for one chain evaluation.
// Exactly one of ActionHash/DecisionHash is set for executed results;
// blocked results (error/undefined) carry neither, and a nil RecordHash.
// Absence of identity is the proof that nothing executed.
type Record struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	Chain       string `json:"chain"`
	ChainHash   string `json:"chain_hash"`
	ASTHash     string `json:"ast_hash"`
	ContextHash string `json:"context_hash"`
	Result      Result `json:"result"`

	EpistemicBasis   []string `json:"epistemic_basis"`
	ValueSystemBasis []string `json:"value_system_basis"`

	ParentActionHash string `json:"parent_action_hash,omitempty"`
	ActionHash       string `json:"action_hash,omitempty"`
	ChildActionHash  string `json:"child_action_hash,omitempty"`
	DecisionHash     string `json:"decision_hash,omitempty"`

	RecordHash       string `json:"record_hash,omitempty"`
	SemanticsVersion string `json:"semantics_version"`
	RuntimeMode      string `json:"runtime_mode"`
	CreatedAt        time.Time
}

// #endregion record

// #region certificate
// Certificate is the replayable decision surface: enough to re-run the
// same chain against the same context and compare byte-for-byte.
type Certificate struct {
	Chain           string   `json:"chain_canonical"`
	ContextHash     string   `json:"context_hash"`
	VerdictDomain   string   `json:"verdict_domain"`
	ActionHashes    []string `json:"action_hashes"`
	CertificateHash string   `json:"certificate_hash"`
}

// #endregion certificate
