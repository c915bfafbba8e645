// Package value implements the dynamically-typed tree that RawSamples and
// CanonicalRecord field values are built from. Per the redesign notes, the
// transform engine in internal/mapping never operates on a language-level
// any/interface{} directly — it operates on this sum type, with coercion
// centralized here instead of scattered across every transform.
package value

import (
	"sort"
	"strconv"

	"github.com/jeeves-cluster-organization/acqgateway/internal/typeutil"
)

// Kind tags which variant of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSeq
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a JSON-like tree node: null, bool, int64, f64, string, seq, or map.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	seq  []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an int64.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Seq wraps an ordered sequence of values.
func Seq(items ...Value) Value { return Value{kind: KindSeq, seq: items} }

// Map wraps a string-keyed map of values.
func Map(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{kind: KindMap, m: m}
}

// EmptyMap returns a fresh, empty map Value.
func EmptyMap() Value { return Map(nil) }

// Kind reports the variant held.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// =============================================================================
// CONVERSION FROM/TO untyped JSON trees (map[string]any, []any, ...)
// =============================================================================

// FromAny converts a decoded JSON tree (as produced by encoding/json or
// mapstructure) into a Value tree.
func FromAny(in any) Value {
	switch v := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(v)
	case string:
		return String(v)
	case int:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case float32:
		return Float(float64(v))
	case float64:
		if v == float64(int64(v)) {
			return Int(int64(v))
		}
		return Float(v)
	case []any:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			items = append(items, FromAny(item))
		}
		return Seq(items...)
	case map[string]any:
		m := make(map[string]Value, len(v))
		for k, item := range v {
			m[k] = FromAny(item)
		}
		return Map(m)
	default:
		if s, ok := typeutil.SafeString(in); ok {
			return String(s)
		}
		return Null()
	}
}

// ToAny converts a Value tree back into an untyped JSON-friendly tree
// (map[string]any / []any / primitives), suitable for json.Marshal or
// mapstructure output.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindSeq:
		items := make([]any, len(v.seq))
		for i, item := range v.seq {
			items[i] = item.ToAny()
		}
		return items
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, item := range v.m {
			m[k] = item.ToAny()
		}
		return m
	default:
		return nil
	}
}

// =============================================================================
// ACCESSORS (comma-ok, never panic)
// =============================================================================

func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	default:
		return 0, false
	}
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindBool:
		return strconv.FormatBool(v.b), true
	case KindInt:
		return strconv.FormatInt(v.i, 10), true
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64), true
	default:
		return "", false
	}
}

func (v Value) AsSeq() ([]Value, bool) {
	if v.kind == KindSeq {
		return v.seq, true
	}
	return nil, false
}

func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind == KindMap {
		return v.m, true
	}
	return nil, false
}

// =============================================================================
// DOTTED-PATH GET/SET
// =============================================================================

// splitPath splits a dot-separated path into segments; empty segments from
// doubled dots collapse away rather than producing a spurious empty key.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	segments := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}

// Get walks a dotted path through nested maps (and, for numeric segments,
// sequence indices). Missing intermediate keys yield (Null(), false) rather
// than an error — per spec, missing source fields are skipped, not fatal.
func (v Value) Get(path string) (Value, bool) {
	segments := splitPath(path)
	current := v
	for _, seg := range segments {
		switch current.kind {
		case KindMap:
			next, ok := current.m[seg]
			if !ok {
				return Null(), false
			}
			current = next
		case KindSeq:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(current.seq) {
				return Null(), false
			}
			current = current.seq[idx]
		default:
			return Null(), false
		}
	}
	return current, true
}

// Set writes v2 at a dotted path, creating intermediate maps as needed. A
// path segment that traverses an existing non-map value replaces that value
// with a fresh map — per spec, the earlier scalar is dropped; that is the
// rule author's responsibility.
func (v *Value) Set(path string, v2 Value) {
	segments := splitPath(path)
	if len(segments) == 0 {
		*v = v2
		return
	}
	*v = setAt(*v, segments, v2)
}

// setAt recursively rebuilds the map chain along segments, returning the new
// root value with v2 written at the leaf.
func setAt(current Value, segments []string, v2 Value) Value {
	m, ok := current.AsMap()
	if !ok {
		m = make(map[string]Value)
	}

	head, rest := segments[0], segments[1:]
	if len(rest) == 0 {
		m[head] = v2
		return Map(m)
	}

	m[head] = setAt(m[head], rest, v2)
	return Map(m)
}

// Leaf is one (dotted path, value) pair produced by Leaves.
type Leaf struct {
	Path  string
	Value Value
}

// Leaves walks the entire tree depth-first and returns every non-container
// leaf with its dotted path, sorted by path for deterministic iteration
// (auto-mapping rule generation depends on stable ordering for tests).
func (v Value) Leaves() []Leaf {
	var out []Leaf
	v.collectLeaves("", &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (v Value) collectLeaves(prefix string, out *[]Leaf) {
	switch v.kind {
	case KindMap:
		for k, child := range v.m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			child.collectLeaves(path, out)
		}
	case KindSeq:
		for i, child := range v.seq {
			path := strconv.Itoa(i)
			if prefix != "" {
				path = prefix + "." + path
			}
			child.collectLeaves(path, out)
		}
	case KindNull:
		// null leaves are skipped: spec says missing/null source values are
		// never written as null fields, so auto-mapping shouldn't generate
		// a rule for them either.
	default:
		*out = append(*out, Leaf{Path: prefix, Value: v})
	}
}
