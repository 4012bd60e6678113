package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindRef
	KindList
)

var kindNames = [...]string{
	KindNull:   "null",
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindTime:   "time",
	KindRef:    "ref",
	KindList:   "list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a sealed interface over the attribute value variants.
// Only Null, String, Int, Float, Bool, Time, Ref and List implement it.
//
// A nil Value is treated as Null everywhere in this package.
type Value interface {
	Kind() Kind
	value() // Sealed - only these types implement it
}

// Null is the absent value. Every operation on a Null operand yields Null.
type Null struct{}

// String is a UTF-8 string value.
type String string

// Int is a signed 64-bit integer value.
type Int int64

// Float is a 64-bit floating point value. NaN is never produced by the
// evaluator; operations that would produce it yield Null instead.
type Float float64

// Bool is a boolean value.
type Bool bool

// Time is an instant expressed as nanoseconds since the Unix epoch (UTC).
type Time int64

// Ref is a reference to another glyph.
type Ref GlyphID

// List is an ordered collection of values, produced by collect().
type List []Value

func (Null) Kind() Kind   { return KindNull }
func (String) Kind() Kind { return KindString }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (Bool) Kind() Kind   { return KindBool }
func (Time) Kind() Kind   { return KindTime }
func (Ref) Kind() Kind    { return KindRef }
func (List) Kind() Kind   { return KindList }

func (Null) value()   {}
func (String) value() {}
func (Int) value()    {}
func (Float) value()  {}
func (Bool) value()   {}
func (Time) value()   {}
func (Ref) value()    {}
func (List) value()   {}

// TimeOf converts a time.Time into a Time value.
func TimeOf(t time.Time) Time {
	return Time(t.UTC().UnixNano())
}

// AsTime converts the value back into a time.Time.
func (t Time) AsTime() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// KindOf returns the kind of v, treating nil as KindNull.
func KindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// Equal reports whether two values are identical. Int and Float compare
// numerically so that 1 == 1.0; all other kinds must match exactly.
// Two nulls are equal (used for SET idempotence, not by the evaluator).
func Equal(a, b Value) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka == KindNull || kb == KindNull {
		return ka == kb
	}
	if isNumeric(ka) && isNumeric(kb) && ka != kb {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	}
	if ka != kb {
		return false
	}
	switch av := a.(type) {
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Compare orders two non-null values of compatible kinds. The boolean
// result is false when the kinds cannot be ordered against each other.
func Compare(a, b Value) (int, bool) {
	ka, kb := KindOf(a), KindOf(b)
	if ka == KindNull || kb == KindNull {
		return 0, false
	}
	if isNumeric(ka) && isNumeric(kb) {
		if ka == KindInt && kb == KindInt {
			return cmpInt(int64(a.(Int)), int64(b.(Int))), true
		}
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	if ka != kb {
		return 0, false
	}
	switch av := a.(type) {
	case String:
		return strings.Compare(string(av), string(b.(String))), true
	case Bool:
		bv := b.(Bool)
		switch {
		case av == bv:
			return 0, true
		case !bool(av):
			return -1, true
		default:
			return 1, true
		}
	case Time:
		return cmpInt(int64(av), int64(b.(Time))), true
	case Ref:
		return cmpInt(int64(av), int64(b.(Ref))), true
	default:
		return 0, false
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func isNumeric(k Kind) bool {
	return k == KindInt || k == KindFloat
}

// toFloat widens numeric values to float64.
func toFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	default:
		return 0, false
	}
}

// Numeric returns the float64 form of an Int or Float value.
func Numeric(v Value) (float64, bool) {
	return toFloat(v)
}

// FloatValue converts f into a Value, mapping NaN and infinities to Null.
func FloatValue(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null{}
	}
	return Float(f)
}

// Format renders a value for logs and CLI output.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "null"
	case String:
		return strconv.Quote(string(val))
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Time:
		return val.AsTime().Format(time.RFC3339Nano)
	case Ref:
		return "#" + strconv.FormatInt(int64(val), 10)
	case List:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
