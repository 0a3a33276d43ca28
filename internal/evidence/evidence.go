// Package evidence turns raw context shards into typed evaluator inputs:
// annotated literal extraction and the fixed-point quantization contract
// that keeps floats out of hash-bearing values.
package evidence

// #region imports
import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
)

// #endregion imports

// #region extraction

// ExtractFromContext collects annotated literals from the evidence shard
// of a structured or flat context. Evidence lists merge per predicate
// across layers. Rows missing timestamp or confidence are dropped, never
// defaulted.
func ExtractFromContext(ctx map[string]any) []AnnotatedLiteral {
	evidenceMap := map[string][]any{}

	if isStructured(ctx) {
		for _, layer := range []string{"root", "domain", "local"} {
			layerMap, _ := ctx[layer].(map[string]any)
			ev, _ := layerMap["evidence"].(map[string]any)
			for pred, entries := range ev {
				if list, ok := entries.([]any); ok {
					evidenceMap[pred] = append(evidenceMap[pred], list...)
				}
			}
		}
	} else {
		ev, _ := ctx["evidence"].(map[string]any)
		for pred, entries := range ev {
			if list, ok := entries.([]any); ok {
				evidenceMap[pred] = append(evidenceMap[pred], list...)
			}
		}
	}

	var out []AnnotatedLiteral
	for pred, entries := range evidenceMap {
		for _, raw := range entries {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ts, ok := asInt64(entry["timestamp"])
			if !ok {
				continue
			}
			conf, ok := asFloat(entry["confidence"])
			if !ok || !isFinite(conf) {
				continue
			}
			source, _ := entry["source"].(string)
			if source == "" {
				source = "unknown"
			}
			meta, _ := entry["meta"].(map[string]any)
			out = append(out, AnnotatedLiteral{
				Predicate:   pred,
				Value:       entry["value"],
				TimestampMS: ts,
				Source:      source,
				Confidence:  conf,
				Meta:        meta,
			})
		}
	}
	return out
}

func isStructured(ctx map[string]any) bool {
	for _, k := range []string{"root", "domain", "local"} {
		if _, ok := ctx[k]; !ok {
			return false
		}
	}
	return true
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if x != math.Trunc(x) || !isFinite(x) {
			return 0, false
		}
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// #endregion extraction

// #region numeric-validation

// ValidateNumeric enforces the kernel's numeric contract: floats are
// rejected outright (quantization is the upstream adapter's job), integers
// must fit int64. Non-numeric values pass through untouched.
func ValidateNumeric(v any) (any, error) {
	switch x := v.(type) {
	case float32:
		return nil, floatError(float64(x))
	case float64:
		return nil, floatError(x)
	case uint64:
		if x > math.MaxInt64 {
			return nil, errs.New(errs.CodeIntegerRange, "value %d exceeds int64 bounds", x)
		}
		return int64(x), nil
	default:
		return v, nil
	}
}

func floatError(f float64) error {
	if !isFinite(f) {
		return errs.New(errs.CodeInvalidNumber, "NaN or Infinity not allowed")
	}
	return errs.New(errs.CodeInvalidNumber, "floats not allowed, values must be pre-quantized by the sensor adapter")
}

// RejectFloats walks a value tree and fails on the first float found.
// Used by callers preparing strict-hashable payloads.
func RejectFloats(v any) error {
	return rejectFloats(v, "root")
}

func rejectFloats(v any, path string) error {
	switch x := v.(type) {
	case float32, float64:
		f, _ := asFloat(x)
		if !isFinite(f) {
			return errs.New(errs.CodeInvalidNumber, "NaN or Infinity at %s", path)
		}
		return errs.New(errs.CodeInvalidNumber, "float at %s, only int64 is allowed", path)
	case map[string]any:
		for k, item := range x {
			if err := rejectFloats(item, path+"."+k); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range x {
			if err := rejectFloats(item, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	}
	return nil
}

// #endregion numeric-validation

// #region quantization

// Quantize converts a raw decimal sensor reading to a fixed-point int64
// at the given scale using round-half-to-even. Readings must be decimal
// strings, never binary floats, so the result is bit-for-bit portable.
func Quantize(decimal string, scale int64) (int64, error) {
	if scale <= 0 {
		return 0, errs.New(errs.CodeInvalidNumber, "scale must be positive, got %d", scale)
	}
	r, ok := new(big.Rat).SetString(strings.TrimSpace(decimal))
	if !ok {
		return 0, errs.New(errs.CodeInvalidNumber, "unparseable decimal reading %q", decimal)
	}
	r.Mul(r, new(big.Rat).SetInt64(scale))

	q := roundHalfEven(r)
	if !q.IsInt64() {
		return 0, errs.New(errs.CodeIntegerRange, "quantized value exceeds int64 bounds")
	}
	return q.Int64(), nil
}

// roundHalfEven rounds a rational to the nearest integer, ties to even.
func roundHalfEven(r *big.Rat) *big.Int {
	num := new(big.Int).Set(r.Num())
	den := r.Denom()

	neg := num.Sign() < 0
	if neg {
		num.Neg(num)
	}

	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	twice := new(big.Int).Lsh(rem, 1)
	switch twice.Cmp(den) {
	case 1:
		quo.Add(quo, big.NewInt(1))
	case 0:
		if quo.Bit(0) == 1 {
			quo.Add(quo, big.NewInt(1))
		}
	}
	if neg {
		quo.Neg(quo)
	}
	return quo
}

// #endregion quantization
