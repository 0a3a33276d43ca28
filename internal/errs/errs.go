// Package errs defines the fixed error taxonomy shared by every kernel
// component. Codes are part of the wire surface: callers dispatch on them,
// so they never change spelling.
package errs

// #region imports
import (
	"errors"
	"fmt"
)

// #endregion imports

// #region codes

const (
	CodeBadContext              = "ERR_BAD_CONTEXT"
	CodeContextTooDeep          = "ERR_CONTEXT_TOO_DEEP"
	CodeContextUnserializable   = "ERR_CONTEXT_UNSERIALIZABLE"
	CodeContextTooLarge         = "ERR_CONTEXT_TOO_LARGE"
	CodeContextStale            = "ERR_CONTEXT_STALE"
	CodeContextIncomplete       = "ERR_CONTEXT_INCOMPLETE"
	CodeActionMisuse            = "ERR_ACTION_MISUSE"
	CodeActionCycle             = "ERR_ACTION_CYCLE"
	CodeDeliveryMismatch        = "ERR_DELIVERY_MISMATCH"
	CodeEpistemicMismatch       = "ERR_EPISTEMIC_MISMATCH"
	CodeSpatialUngroundable     = "ERR_SPATIAL_UNGROUNDABLE"
	CodeDemonstrativeUngrounded = "ERR_DEMONSTRATIVE_UNGROUNDED"
	CodeLiteralMissing          = "ERR_LITERAL_MISSING"
	CodeInvalidLiteral          = "ERR_INVALID_LITERAL"
	CodeParseFailed             = "ERR_PARSE_FAILED"
	CodeGuardType               = "ERR_GUARD_TYPE"
	CodeMorphology              = "ERR_MORPHOLOGY"
	CodeRecursionLimit          = "ERR_RECURSION_LIMIT"
	CodeInvalidNumber           = "ERR_INVALID_NUMBER"
	CodeIntegerRange            = "ERR_INTEGER_RANGE"
	CodeFloatNotAllowed         = "ERR_FLOAT_NOT_ALLOWED"
	CodeInvalidAction           = "ERR_INVALID_ACTION"
	CodeUndefinedTarget         = "ERR_UNDEFINED_TARGET"
	CodeNonIdempotent           = "ERR_CANONICALIZATION_NON_IDEMPOTENT"
)

// #endregion codes

// #region error

// Error is a kernel failure tagged with a taxonomy code.
type Error struct {
	Code   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// New builds a coded error with a formatted detail message.
func New(code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, or "" for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}

// #endregion error
