// Package btree implements the B-tree attribute index (spec §4.3): an
// ordered map from (field_name, encoded_value) to a roaring bitmap of
// doc_ids, supporting equality, prefix, and range queries.
package btree

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ldclabs/anda-db/value"
)

// Key tags, ordered so that byte-lexicographic comparison of encoded
// keys matches the natural ordering across kinds (null < bool < number
// < string < bytes).
const (
	tagNull byte = iota
	tagBoolFalse
	tagBoolTrue
	tagNumber
	tagString
	tagBytes
)

// EncodeKey produces an order-preserving byte encoding of v, suitable
// as a B-tree key. Vector, array, and map values cannot be indexed by
// the B-tree (spec §4.3 covers scalar attributes only).
func EncodeKey(v value.Value) ([]byte, error) {
	switch v.Kind {
	case value.KindNull:
		return []byte{tagNull}, nil
	case value.KindBool:
		if v.Bool {
			return []byte{tagBoolTrue}, nil
		}
		return []byte{tagBoolFalse}, nil
	case value.KindI64, value.KindU64, value.KindF32, value.KindF64:
		return encodeNumber(v.AsFloat64()), nil
	case value.KindString:
		return append([]byte{tagString}, []byte(v.Str)...), nil
	case value.KindBytes:
		return append([]byte{tagBytes}, v.Bytes...), nil
	default:
		return nil, fmt.Errorf("btree: value kind %s is not indexable", v.Kind)
	}
}

// encodeNumber maps f to an order-preserving 8-byte big-endian
// representation: IEEE-754 bit patterns already order correctly for
// positive floats under unsigned comparison; negative floats need bit
// inversion, and non-negative floats need their sign bit set, the
// standard order-preserving float encoding trick.
func encodeNumber(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 9)
	buf[0] = tagNumber
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf
}

// PrefixUpperBound returns the smallest key strictly greater than every
// key sharing prefix p, for use as the exclusive end of a prefix range
// scan. Returns nil if p is all 0xFF (no finite upper bound needed; the
// caller should treat that as "scan to end").
func PrefixUpperBound(p []byte) []byte {
	up := make([]byte, len(p))
	copy(up, p)
	for i := len(up) - 1; i >= 0; i-- {
		if up[i] < 0xFF {
			up[i]++
			return up[:i+1]
		}
	}
	return nil
}
