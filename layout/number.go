package layout

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
)

// NumberKind identifies how raw value bits are interpreted.
type NumberKind uint8

const (
	KindInt64 NumberKind = iota + 1
	KindFloat64
)

func (k NumberKind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Number is an indexed numeric property value.
type Number struct {
	kind NumberKind
	raw  uint64
}

// Int64 returns an integral Number.
func Int64(v int64) Number {
	return Number{kind: KindInt64, raw: uint64(v)}
}

// Float64 returns a floating point Number. Negative zero is stored as zero so
// that equal numbers share one key.
func Float64(v float64) Number {
	if v == 0 {
		v = 0
	}
	return Number{kind: KindFloat64, raw: math.Float64bits(v)}
}

// Kind returns the value kind. The zero Number has kind 0.
func (n Number) Kind() NumberKind { return n.kind }

// IsZero reports whether n is the zero Number, which is not a valid value.
func (n Number) IsZero() bool { return n.kind == 0 }

// Int64 returns the value as int64, truncating floats.
func (n Number) Int64() int64 {
	if n.kind == KindFloat64 {
		return int64(math.Float64frombits(n.raw))
	}
	return int64(n.raw)
}

// Float64 returns the value as float64.
func (n Number) Float64() float64 {
	if n.kind == KindFloat64 {
		return math.Float64frombits(n.raw)
	}
	return float64(int64(n.raw))
}

func (n Number) String() string {
	switch n.kind {
	case KindInt64:
		return strconv.FormatInt(int64(n.raw), 10)
	case KindFloat64:
		return strconv.FormatFloat(math.Float64frombits(n.raw), 'g', -1, 64)
	default:
		return "<invalid>"
	}
}

// Parse reads a decimal integer or float.
func Parse(s string) (Number, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int64(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Number{}, fmt.Errorf("layout: not a number: %q", s)
	}
	return Float64(f), nil
}

// Compare orders numbers by numeric value. Int64(3) and Float64(3) are equal.
func (n Number) Compare(o Number) int {
	if n.kind == KindInt64 && o.kind == KindInt64 {
		return cmp.Compare(int64(n.raw), int64(o.raw))
	}
	if n.kind == KindFloat64 && o.kind == KindFloat64 {
		return compareFloats(math.Float64frombits(n.raw), math.Float64frombits(o.raw))
	}
	if n.kind == KindInt64 {
		return -compareFloatInt(math.Float64frombits(o.raw), int64(n.raw))
	}
	return compareFloatInt(math.Float64frombits(n.raw), int64(o.raw))
}

// Equal reports numeric equality.
func (n Number) Equal(o Number) bool { return n.Compare(o) == 0 }

func compareFloats(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(a, b)
}

// compareFloatInt compares exactly, without rounding i to float64.
func compareFloatInt(f float64, i int64) int {
	if math.IsNaN(f) {
		return 1
	}
	if f < -0x1p63 {
		return -1
	}
	if f >= 0x1p63 {
		return 1
	}
	t := math.Trunc(f)
	if c := cmp.Compare(int64(t), i); c != 0 {
		return c
	}
	return cmp.Compare(f, t)
}
