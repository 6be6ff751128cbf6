package numeric

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseI64_Boundaries(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"-1", -1, false},
		{"9223372036854775807", MaxI64, false},
		{"18446744073709551615", -1, false}, // 2^64-1 wraps to -1
		{"18446744073709551616", 0, true},   // 2^64 rejects
		{"-9223372036854775808", MinI64, false},
		{"-9223372036854775809", 0, true},
		{"0x0843D3F0", 0x0843D3F0, false},
		{"0xffffffffffffffff", -1, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-0x1", 0, true},
	}

	for _, c := range cases {
		got, err := ParseI64(c.in)
		if c.wantErr {
			assert.Error(t, err, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got, "input %q", c.in)
	}
}

func TestTwosComplementIdempotence(t *testing.T) {
	for _, i := range []int64{0, 1, -1, MaxI64, MinI64, 138687728} {
		assert.Equal(t, i, U2I(I2U(i)))
	}
	for _, u := range []uint64{0, 1, 1 << 63, 18446744073709551615} {
		assert.Equal(t, u, I2U(U2I(u)))
	}
}

func TestParseI64_RoundTrip(t *testing.T) {
	for _, i := range []int64{0, 1, -1, MaxI64, MinI64, 42, -42} {
		dec := strconv.FormatInt(i, 10)
		got, err := ParseI64(dec)
		require.NoError(t, err)
		assert.Equal(t, i, got)

		hex := "0x" + strconv.FormatUint(I2U(i), 16)
		got, err = ParseI64(hex)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
}

func TestShardKey_BitExact(t *testing.T) {
	assert.Equal(t, uint32(138687728), ShardKey(123))
	assert.Equal(t, uint32(0x0843D3F0), ShardKey(123))
}

func TestShardKey_Deterministic(t *testing.T) {
	a, b := int64(1), int64(2)
	assert.Equal(t, ShardKey(a, b), ShardKey(a, b))
	assert.NotEqual(t, ShardKey(a), ShardKey(a, b))
}

func TestU2Dec_AlwaysNonNegativeDecimal(t *testing.T) {
	assert.Equal(t, "0", U2Dec(0))
	assert.Equal(t, "18446744073709551615", U2Dec(-1))
	assert.Equal(t, "9223372036854775808", U2Dec(MinI64))
}
