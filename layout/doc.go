// Package layout encodes numeric property values and their owning entity ids
// into fixed-size, totally ordered index keys.
//
// A [NumberKey] is (value, entity id). Keys order by value first, using
// numeric comparison across int64 and float64 (NaN sorts after every other
// number), then by entity id. The encoded form is 17 bytes:
//
//	[kind u8][raw value bits u64][entity id u64]
//
// [NonUnique] and [Unique] layouts share the key format but carry distinct
// identifiers, so a file written by one cannot be opened with the other.
package layout
