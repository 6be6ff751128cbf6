// Package numeric implements the i64 integer grammar and the MD5-based
// sharding key derivation that the rest of the proxy builds on.
package numeric

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// maxUint64Plus1 is 2^64, the first value a hex literal is no longer
// representable as a u64 and therefore must be rejected.
var maxUint64Plus1 = new(big.Int).Lsh(big.NewInt(1), 64)

// ParseI64 parses a signed 64-bit integer from either a decimal literal
// (optionally signed) or a "0x"-prefixed unsigned hexadecimal literal.
// Unsigned decimal or hex magnitudes in (MaxInt64, MaxUint64] wrap to
// negative via two's complement; magnitudes of 2^64 or beyond, and any
// negative value outside [MinInt64, -1], are rejected.
func ParseI64(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("numeric: empty i64 literal")
	}

	neg := false
	rest := s
	if rest[0] == '+' || rest[0] == '-' {
		neg = rest[0] == '-'
		rest = rest[1:]
	}

	base := 10
	if strings.HasPrefix(rest, "0x") || strings.HasPrefix(rest, "0X") {
		if neg {
			return 0, fmt.Errorf("numeric: signed hex literal %q not allowed", s)
		}
		base = 16
		rest = rest[2:]
	}
	if rest == "" {
		return 0, fmt.Errorf("numeric: invalid i64 literal %q", s)
	}

	mag, ok := new(big.Int).SetString(rest, base)
	if !ok || mag.Sign() < 0 {
		return 0, fmt.Errorf("numeric: invalid i64 literal %q", s)
	}

	if neg {
		limit := new(big.Int).Lsh(big.NewInt(1), 63) // 2^63
		if mag.Cmp(limit) > 0 {
			return 0, fmt.Errorf("numeric: i64 literal %q out of range", s)
		}
		if mag.Cmp(limit) == 0 {
			return math.MinInt64, nil
		}
		return -int64(mag.Uint64()), nil
	}

	if mag.Cmp(maxUint64Plus1) >= 0 {
		return 0, fmt.Errorf("numeric: i64 literal %q out of u64 range", s)
	}
	return U2I(mag.Uint64()), nil
}

// I2U reinterprets the bit pattern of i as an unsigned 64-bit integer.
func I2U(i int64) uint64 {
	return uint64(i)
}

// U2I reinterprets the bit pattern of u as a signed 64-bit integer,
// the two's-complement inverse of I2U.
func U2I(u uint64) int64 {
	return int64(u)
}

// U2Dec renders the two's-complement encoding of i as the unsigned
// decimal string an upstream URL id segment expects (always in
// [0, 2^64)), matching the "u2" helper in the enumerate rewriter.
func U2Dec(i int64) string {
	return strconv.FormatUint(I2U(i), 10)
}

// encodeBE writes the big-endian two's-complement bytes of i.
func encodeBE(i int64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], I2U(i))
	return b
}

// ShardKey computes the 32-bit sharding key for one or two entity ids:
// each id is serialized as 8 big-endian two's-complement bytes, the
// buffer is MD5-hashed, and the first 4 bytes are read back as a
// big-endian unsigned 32-bit integer. This is the proxy's only
// sharding function and must remain bit-exact.
func ShardKey(a int64, b ...int64) uint32 {
	buf := make([]byte, 0, 16)
	ab := encodeBE(a)
	buf = append(buf, ab[:]...)
	if len(b) > 0 {
		bb := encodeBE(b[0])
		buf = append(buf, bb[:]...)
	}

	sum := md5.Sum(buf)
	return binary.BigEndian.Uint32(sum[:4])
}

// MinI64 and MaxI64 bound the parseable i64 range; kept here rather
// than reaching for math.MinInt64/math.MaxInt64 at every call site
// since several callers (minIds scan) need them as int64 constants.
const (
	MinI64 = math.MinInt64
	MaxI64 = math.MaxInt64
)
