package gate

import "github.com/danielpatrickdp/noe-kernel/internal/errs"

// #region violation
// Violation is a single validation failure. Code is one of the errs
// taxonomy codes; Detail is human-readable.
type Violation struct {
	Code   string
	Detail string
}

// #endregion violation

// #region gate-config
// Config holds validator limits.
type Config struct {
	Mode            string // "strict" | "partial"
	MaxContextDepth int    // nesting limit for context shards
}

// DefaultConfig returns the strict profile.
func DefaultConfig() Config {
	return Config{
		Mode:            "strict",
		MaxContextDepth: 32,
	}
}

// #endregion gate-config

// #region priority
// Validation failures are reported deterministically: every applicable
// check runs, then the violation with the lowest priority number wins.
var errorPriority = map[string]int{
	errs.CodeBadContext:            0,
	errs.CodeContextTooDeep:        0,
	errs.CodeContextUnserializable: 0,

	errs.CodeContextStale:      1,
	errs.CodeContextIncomplete: 1,

	errs.CodeActionMisuse: 2,
	errs.CodeActionCycle:  2,

	errs.CodeDeliveryMismatch:        3,
	errs.CodeEpistemicMismatch:       3,
	errs.CodeSpatialUngroundable:     3,
	errs.CodeDemonstrativeUngrounded: 3,

	errs.CodeLiteralMissing: 4,
	errs.CodeInvalidLiteral: 4,

	errs.CodeParseFailed: 5,
}

// #endregion priority
