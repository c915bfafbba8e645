package mapping

import (
	"math"
	"strconv"
	"strings"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

// applyTransform runs one FieldMapping's Transform against src, per spec
// §4.4's exhaustive transform semantics. A false second return means the
// field should be skipped (coercion failure, non-numeric input to a numeric
// transform, ...) — never an error the caller needs to propagate; the caller
// just logs at debug and moves on.
func applyTransform(t model.Transform, src value.Value) (value.Value, bool) {
	switch t.Kind {
	case model.TransformDirect, "":
		return src, true

	case model.TransformNumber:
		return coerceNumber(src)

	case model.TransformString:
		s, ok := src.AsString()
		if !ok {
			return value.Null(), false
		}
		return value.String(s), true

	case model.TransformBoolean:
		return coerceBoolean(src)

	case model.TransformScale:
		n, ok := src.AsFloat()
		if !ok {
			return value.Null(), false
		}
		return value.Float(n*t.Factor + t.Offset), true

	case model.TransformRound:
		n, ok := src.AsFloat()
		if !ok {
			return value.Null(), false
		}
		return value.Float(roundHalfAwayFromZero(n, t.Decimals)), true

	case model.TransformUppercase:
		s, ok := src.AsString()
		if !ok {
			return value.Null(), false
		}
		return value.String(strings.ToUpper(s)), true

	case model.TransformLowercase:
		s, ok := src.AsString()
		if !ok {
			return value.Null(), false
		}
		return value.String(strings.ToLower(s)), true

	case model.TransformMap:
		return applyMapTable(t.Table, src), true

	case model.TransformFormula:
		n, ok := src.AsFloat()
		if !ok {
			return value.Null(), false
		}
		result, err := evalFormula(t.Expr, n)
		if err != nil {
			return value.Null(), false
		}
		return value.Float(result), true

	default:
		return value.Null(), false
	}
}

func coerceNumber(src value.Value) (value.Value, bool) {
	switch src.Kind() {
	case value.KindInt:
		i, _ := src.AsInt()
		return value.Int(i), true
	case value.KindFloat:
		f, _ := src.AsFloat()
		return value.Float(f), true
	case value.KindBool:
		b, _ := src.AsBool()
		if b {
			return value.Int(1), true
		}
		return value.Int(0), true
	case value.KindString:
		s, _ := src.AsString()
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return value.Int(n), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return value.Float(f), true
		}
		return value.Null(), false
	default:
		return value.Null(), false
	}
}

func coerceBoolean(src value.Value) (value.Value, bool) {
	switch src.Kind() {
	case value.KindBool:
		b, _ := src.AsBool()
		return value.Bool(b), true
	case value.KindInt:
		i, _ := src.AsInt()
		return value.Bool(i != 0), true
	case value.KindFloat:
		f, _ := src.AsFloat()
		return value.Bool(f != 0), true
	case value.KindString:
		s, _ := src.AsString()
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes", "on":
			return value.Bool(true), true
		case "false", "0", "no", "off":
			return value.Bool(false), true
		default:
			return value.Null(), false
		}
	default:
		return value.Null(), false
	}
}

// applyMapTable looks src up in table by its string form; an unknown key
// passes src through unchanged, per spec.
func applyMapTable(table map[string]any, src value.Value) value.Value {
	key, ok := src.AsString()
	if !ok {
		return src
	}
	mapped, ok := table[key]
	if !ok {
		return src
	}
	return value.FromAny(mapped)
}

// roundHalfAwayFromZero rounds n to decimals digits, rounding .5 away from
// zero (the same tie-break math.Round uses, as opposed to
// math.RoundToEven — spelled out explicitly here since spec calls out the
// tie-break rule by name).
func roundHalfAwayFromZero(n float64, decimals int) float64 {
	shift := math.Pow(10, float64(decimals))
	shifted := n * shift
	if shifted >= 0 {
		return math.Floor(shifted+0.5) / shift
	}
	return math.Ceil(shifted-0.5) / shift
}
