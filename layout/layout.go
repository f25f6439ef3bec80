package layout

import (
	"encoding/binary"
	"math"
)

const (
	// KeySize is the encoded size of a NumberKey.
	KeySize = 17
	// ValueSize is the encoded size of a NumberValue.
	ValueSize = 0

	identifierNonUnique uint64 = 0x4e554d4e55303031 // "NUMNU001"
	identifierUnique    uint64 = 0x4e554d554e303031 // "NUMUN001"
)

// NumberKey is an index key: a value and the entity owning it.
type NumberKey struct {
	Value    Number
	EntityID uint64
}

// NumberValue is the per-entry payload. Number indexes carry none.
type NumberValue struct{}

// NumberLayout is the key/value codec of a number index.
type NumberLayout struct {
	unique bool
}

// NonUnique returns the layout of a plain number index.
func NonUnique() *NumberLayout { return &NumberLayout{} }

// Unique returns the layout of a number index backing a uniqueness constraint.
func Unique() *NumberLayout { return &NumberLayout{unique: true} }

// IsUnique reports whether the layout backs a uniqueness constraint.
func (l *NumberLayout) IsUnique() bool { return l.unique }

// Identifier is persisted in the backing file and checked on open.
func (l *NumberLayout) Identifier() uint64 {
	if l.unique {
		return identifierUnique
	}
	return identifierNonUnique
}

func (l *NumberLayout) KeySize() int   { return KeySize }
func (l *NumberLayout) ValueSize() int { return ValueSize }

func (l *NumberLayout) NewKey() NumberKey     { return NumberKey{} }
func (l *NumberLayout) NewValue() NumberValue { return NumberValue{} }

// CompareKeys orders by value, then entity id.
func (l *NumberLayout) CompareKeys(a, b NumberKey) int {
	if c := a.Value.Compare(b.Value); c != 0 {
		return c
	}
	switch {
	case a.EntityID < b.EntityID:
		return -1
	case a.EntityID > b.EntityID:
		return 1
	}
	return 0
}

// WriteKey encodes k into dst[:KeySize].
func (l *NumberLayout) WriteKey(dst []byte, k NumberKey) {
	dst[0] = byte(k.Value.kind)
	binary.LittleEndian.PutUint64(dst[1:9], k.Value.raw)
	binary.LittleEndian.PutUint64(dst[9:17], k.EntityID)
}

// ReadKey decodes a key written by WriteKey.
func (l *NumberLayout) ReadKey(src []byte) NumberKey {
	return NumberKey{
		Value: Number{
			kind: NumberKind(src[0]),
			raw:  binary.LittleEndian.Uint64(src[1:9]),
		},
		EntityID: binary.LittleEndian.Uint64(src[9:17]),
	}
}

func (l *NumberLayout) WriteValue([]byte, NumberValue) {}

func (l *NumberLayout) ReadValue([]byte) NumberValue { return NumberValue{} }

// LowestKey is the smallest key with value v.
func LowestKey(v Number) NumberKey { return NumberKey{Value: v} }

// HighestKey is the largest key with value v.
func HighestKey(v Number) NumberKey { return NumberKey{Value: v, EntityID: math.MaxUint64} }
