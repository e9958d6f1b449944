package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTF16LERoundTrip(t *testing.T) {
	cases := []string{"", "hello", "héllo wörld", "日本語", "🙂emoji"}
	for _, s := range cases {
		encoded := EncodeUTF16LE(s)
		assert.Equal(t, UTF16LEByteLen(s), len(encoded))
		assert.Equal(t, s, DecodeUTF16LE(encoded))
	}
}

func TestPasswordObfuscationRoundTrip(t *testing.T) {
	pw := "Tr0ub4dor&3"
	mangled := EncodePassword(pw)
	assert.Equal(t, pw, DecodePassword(mangled))
}

func TestGUIDRoundTrip(t *testing.T) {
	id := uuid.MustParse("12345678-1234-5678-9abc-def012345678")
	wire := EncodeGUID(id)
	require.Len(t, wire, 16)
	decoded, n, err := DecodeGUID(wire)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, id, decoded)
}

func TestIntNRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		width int
		value int64
	}{
		{1, 200}, {2, -1000}, {4, 123456}, {8, -9000000000},
	} {
		wire := EncodeIntN(tc.value, tc.width)
		value, isNull, n, err := DecodeIntN(wire)
		require.NoError(t, err)
		assert.False(t, isNull)
		assert.Equal(t, len(wire), n)
		assert.Equal(t, tc.value, value)
	}
}

func TestIntNNull(t *testing.T) {
	_, isNull, n, err := DecodeIntN(EncodeIntNNull())
	require.NoError(t, err)
	assert.True(t, isNull)
	assert.Equal(t, 1, n)
}

func TestFloatNRoundTrip(t *testing.T) {
	wire := EncodeFloat8N(3.14159)
	v, isNull, n, err := DecodeFloatN(wire)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.InDelta(t, 3.14159, v, 1e-9)
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		value     string
		precision uint8
		scale     uint8
	}{
		{"123.45", 9, 2},
		{"-9999999999.9999", 19, 4},
		{"0", 9, 0},
		{"12345678901234567890.1234567890", 38, 10},
	} {
		dv, err := decimal.NewFromString(tc.value)
		require.NoError(t, err)
		wire, err := EncodeDecimalN(dv, tc.precision, tc.scale)
		require.NoError(t, err)
		decoded, isNull, n, derr := DecodeDecimalN(wire, tc.scale)
		require.NoError(t, derr)
		assert.False(t, isNull)
		assert.Equal(t, len(wire), n)
		assert.True(t, dv.Equal(decoded), "want %s got %s", dv, decoded)
	}
}

func TestMoneyRoundTrip(t *testing.T) {
	dv := decimal.NewFromFloat(1234.5678)
	wire := EncodeMoneyN(dv)
	decoded, isNull, n, err := DecodeMoneyN(wire)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.True(t, dv.Equal(decoded))
}

func TestDateRoundTrip(t *testing.T) {
	d := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	wire := EncodeDateN(d)
	decoded, isNull, n, err := DecodeDateN(wire)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.True(t, d.Equal(decoded))
}

func TestTimeRoundTrip(t *testing.T) {
	for _, scale := range []uint8{0, 2, 3, 4, 7} {
		d := 13*time.Hour + 45*time.Minute + 30*time.Second + 123400*time.Microsecond
		wire := EncodeTimeN(d, scale)
		decoded, isNull, n, err := DecodeTimeN(wire, scale)
		require.NoError(t, err)
		assert.False(t, isNull)
		assert.Equal(t, len(wire), n)
		// precision loss at lower scales is expected; check the
		// round-trip stays within the unit the scale affords.
		assert.InDelta(t, float64(d), float64(decoded), float64(ticksToNanosUnit(scale)))
	}
}

func ticksToNanosUnit(scale uint8) int64 {
	return ticksToNanos(1, scale)
}

func TestDateTime2RoundTrip(t *testing.T) {
	d := time.Date(2024, 3, 15, 13, 45, 30, 123000000, time.UTC)
	wire := EncodeDateTime2N(d, 3)
	decoded, isNull, n, err := DecodeDateTime2N(wire, 3)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.True(t, d.Equal(decoded))
}

func TestDateTimeOffsetRoundTrip(t *testing.T) {
	loc := time.FixedZone("", -5*3600)
	d := time.Date(2024, 3, 15, 13, 45, 30, 0, loc)
	wire := EncodeDateTimeOffsetN(d, 3)
	decoded, isNull, n, err := DecodeDateTimeOffsetN(wire, 3)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.True(t, d.Equal(decoded))
	_, offset := decoded.Zone()
	assert.Equal(t, -5*3600, offset)
}

func TestVarCharRoundTrip(t *testing.T) {
	wire := EncodeVarChar("hello, world")
	v, isNull, n, err := DecodeVarChar(wire)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, "hello, world", v)
}

func TestVarCharNull(t *testing.T) {
	_, isNull, n, err := DecodeVarChar(EncodeVarLenNull())
	require.NoError(t, err)
	assert.True(t, isNull)
	assert.Equal(t, 2, n)
}

func TestNVarCharRoundTrip(t *testing.T) {
	wire := EncodeNVarChar("héllo wörld")
	v, isNull, n, err := DecodeNVarChar(wire)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, "héllo wörld", v)
}

func TestPLPRoundTrip(t *testing.T) {
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	wire := EncodePLP(data, 4096)
	decoded, isNull, n, err := DecodePLP(wire)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, data, decoded)
}

func TestPLPNull(t *testing.T) {
	_, isNull, n, err := DecodePLP(EncodePLPNull())
	require.NoError(t, err)
	assert.True(t, isNull)
	assert.Equal(t, 8, n)
}

func TestPLPUnknownLength(t *testing.T) {
	chunks := [][]byte{[]byte("hello "), []byte("world")}
	wire := EncodePLPUnknownLength(chunks)
	decoded, isNull, n, err := DecodePLP(wire)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, "hello world", string(decoded))
}

func TestDecodeValueDispatchesByColumnType(t *testing.T) {
	col := Column{Type: TypeIntN, Length: 4}
	wire := EncodeIntN(42, 4)
	v, n, err := DecodeValue(wire, col)
	require.NoError(t, err)
	assert.Equal(t, len(wire), n)
	assert.Equal(t, int64(42), v)
}

func TestDecodeValueUnsupportedType(t *testing.T) {
	col := Column{Type: SQLType(0xC1)}
	_, _, err := DecodeValue([]byte{0}, col)
	assert.Error(t, err)
}
