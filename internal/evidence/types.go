package evidence

// #region types

// AnnotatedLiteral is raw evidence: a fact with provenance and
// uncertainty, pre-projection. Timestamps are unix milliseconds.
type AnnotatedLiteral struct {
	Predicate   string
	Value       any
	TimestampMS int64
	Source      string
	Confidence  float64
	Meta        map[string]any
}

// BareLiteral is trusted post-projection evidence, the only form the
// evaluator may consult for epistemic lookups.
type BareLiteral struct {
	Predicate string
	Value     any
}

// #endregion types
