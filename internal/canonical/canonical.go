// Package canonical implements the deterministic serialization and hashing
// contract everything above it depends on: sorted keys, no insignificant
// whitespace, ASCII-safe escaping, NaN/Infinity rejected, and a strict mode
// that bans floats entirely for hash-bearing payloads.
package canonical

// #region imports
import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"

	"github.com/danielpatrickdp/noe-kernel/internal/errs"
)

// #endregion imports

// #region chain

// CanonicalizeChain normalizes chain text so semantically identical chains
// map to the same chain hash: NFKC, whitespace runs collapsed to single
// spaces, leading/trailing whitespace stripped.
func CanonicalizeChain(chain string) string {
	normalized := norm.NFKC.String(chain)
	return strings.Join(strings.Fields(normalized), " ")
}

// CanonicalizeChainChecked canonicalizes and verifies idempotence: a second
// pass must reproduce the first byte-for-byte.
func CanonicalizeChainChecked(chain string) (string, error) {
	once := CanonicalizeChain(chain)
	if twice := CanonicalizeChain(once); twice != once {
		return "", errs.New(errs.CodeNonIdempotent, "canonicalization not idempotent for chain of %d bytes", len(chain))
	}
	return once, nil
}

// LiteralKey normalizes a literal for map lookup: trim, NFKC, lowercase,
// strip one leading '@'.
func LiteralKey(literal string) string {
	k := strings.TrimSpace(literal)
	k = norm.NFKC.String(k)
	k = strings.ToLower(k)
	return strings.TrimPrefix(k, "@")
}

// #endregion chain

// #region marshal

// Marshal serializes v to canonical JSON bytes. Floats are allowed but
// NaN/Infinity fail with ERR_INVALID_NUMBER.
func Marshal(v any) ([]byte, error) {
	return marshal(v, false)
}

// MarshalStrict is Marshal with the float ban: any float anywhere in the
// tree fails with ERR_FLOAT_NOT_ALLOWED. Used for all action, decision and
// provenance hashing.
func MarshalStrict(v any) ([]byte, error) {
	return marshal(v, true)
}

func marshal(v any, strict bool) ([]byte, error) {
	var b strings.Builder
	if err := encode(&b, v, strict); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func encode(b *strings.Builder, v any, strict bool) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encodeString(b, x)
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case uint:
		return encodeUint(b, uint64(x))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return encodeUint(b, x)
	case float32:
		return encodeFloat(b, float64(x), strict)
	case float64:
		return encodeFloat(b, x, strict)
	case []any:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, item, strict); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case []string:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, item)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, k)
			b.WriteByte(':')
			if err := encode(b, x[k], strict); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return errs.New(errs.CodeContextUnserializable, "unsupported value type %T", v)
	}
	return nil
}

func encodeUint(b *strings.Builder, x uint64) error {
	if x > math.MaxInt64 {
		return errs.New(errs.CodeIntegerRange, "value %d exceeds int64 range", x)
	}
	b.WriteString(strconv.FormatUint(x, 10))
	return nil
}

func encodeFloat(b *strings.Builder, x float64, strict bool) error {
	if strict {
		return errs.New(errs.CodeFloatNotAllowed, "floats are disallowed in hash-bearing fields, quantize to fixed-point integers")
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return errs.New(errs.CodeInvalidNumber, "non-finite number %v", x)
	}
	// Integral floats render as integers so 2.0 and 2 canonicalize alike.
	if x == math.Trunc(x) && math.Abs(x) < 1e15 {
		b.WriteString(strconv.FormatFloat(x, 'f', 1, 64))
		return nil
	}
	b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	return nil
}

// encodeString writes an ASCII-safe JSON string: all non-ASCII runes escape
// to \uXXXX (surrogate pairs above the BMP), controls to their short forms.
func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || r > 0x7e:
				if r > 0xffff {
					hi, lo := utf16.EncodeRune(r)
					fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
				} else {
					fmt.Fprintf(b, `\u%04x`, r)
				}
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// #endregion marshal

// #region hash

// Sum returns the raw SHA-256 digest of the canonical bytes of v.
func Sum(v any) ([]byte, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	d := sha256.Sum256(data)
	return d[:], nil
}

// SumStrict is Sum with the float ban.
func SumStrict(v any) ([]byte, error) {
	data, err := MarshalStrict(v)
	if err != nil {
		return nil, err
	}
	d := sha256.Sum256(data)
	return d[:], nil
}

// Hash returns the hex SHA-256 of the canonical bytes of v.
func Hash(v any) (string, error) {
	d, err := Sum(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d), nil
}

// HashStrict is Hash with the float ban.
func HashStrict(v any) (string, error) {
	d, err := SumStrict(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d), nil
}

// HashBytes hashes raw bytes directly, for digest composition.
func HashBytes(data []byte) string {
	d := sha256.Sum256(data)
	return hex.EncodeToString(d[:])
}

// SumBytes returns the raw digest of raw bytes.
func SumBytes(data []byte) []byte {
	d := sha256.Sum256(data)
	return d[:]
}

// #endregion hash
