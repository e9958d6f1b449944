package codec

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DecodeDecimalN decodes a DECIMAL/NUMERIC value: a 1-byte length
// prefix (0=null), then for non-null values a sign byte (0=negative,
// 1=non-negative) followed by a little-endian magnitude occupying the
// remaining bytes (4, 8, 12, or 16, for precision bands 1-9, 10-19,
// 20-28, 29-38).
func DecodeDecimalN(b []byte, scale uint8) (value decimal.Decimal, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return decimal.Decimal{}, false, 0, errShort("decimaln length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return decimal.Decimal{}, true, 1, nil
	}
	if len(b) < 1+n {
		return decimal.Decimal{}, false, 0, errShort("decimaln payload", n, len(b)-1)
	}
	payload := b[1 : 1+n]
	negative := payload[0] == 0
	magnitude := new(big.Int)
	base := big.NewInt(256)
	for i := len(payload) - 1; i >= 1; i-- {
		magnitude.Mul(magnitude, base)
		magnitude.Add(magnitude, big.NewInt(int64(payload[i])))
	}
	if negative {
		magnitude.Neg(magnitude)
	}
	value = decimal.NewFromBigInt(magnitude, -int32(scale))
	return value, false, 1 + n, nil
}

// mantissaWidth returns the wire byte width (4, 8, 12, or 16) of the
// decimal/numeric magnitude for a given precision.
func mantissaWidth(precision uint8) int {
	switch {
	case precision <= 9:
		return 4
	case precision <= 19:
		return 8
	case precision <= 28:
		return 12
	default:
		return 16
	}
}

// EncodeDecimalN encodes a non-null DECIMAL/NUMERIC value at the given
// precision/scale, including its 1-byte length prefix.
func EncodeDecimalN(value decimal.Decimal, precision, scale uint8) ([]byte, error) {
	width := mantissaWidth(precision)

	scaled := value.Shift(int32(scale))
	coeff := scaled.Truncate(0).BigInt()

	negative := coeff.Sign() < 0
	mag := new(big.Int).Abs(coeff)

	magBytes := mag.Bytes() // big-endian, no leading sign
	if len(magBytes) > width {
		return nil, fmt.Errorf("codec: decimal value exceeds precision %d", precision)
	}

	buf := make([]byte, 1+1+width)
	buf[0] = byte(1 + width)
	if negative {
		buf[1] = 0
	} else {
		buf[1] = 1
	}
	// magBytes is big-endian; the wire wants little-endian, so reverse
	// into the start of the mantissa field, leaving the high bytes zero.
	for i, v := range magBytes {
		buf[2+len(magBytes)-1-i] = v
	}
	return buf, nil
}

// EncodeDecimalNull encodes the null sentinel for DECIMAL/NUMERIC: a
// zero length byte.
func EncodeDecimalNull() []byte { return []byte{0} }

// DecodeMoney decodes a non-nullable MONEY: two little-endian int32
// halves (high, low) combining to a fixed-point value scaled by 10000.
func DecodeMoney(b []byte) (decimal.Decimal, int, error) {
	if len(b) < 8 {
		return decimal.Decimal{}, 0, errShort("money", 8, len(b))
	}
	high := int32(binary.LittleEndian.Uint32(b[0:4]))
	low := uint32(binary.LittleEndian.Uint32(b[4:8]))
	value := (int64(high) << 32) | int64(low)
	return decimal.New(value, -4), 8, nil
}

// DecodeMoneyN decodes a nullable MONEY/SMALLMONEY: 1-byte length (0,
// 4, or 8) then that many bytes.
func DecodeMoneyN(b []byte) (value decimal.Decimal, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return decimal.Decimal{}, false, 0, errShort("moneyn length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return decimal.Decimal{}, true, 1, nil
	}
	if len(b) < 1+n {
		return decimal.Decimal{}, false, 0, errShort("moneyn payload", n, len(b)-1)
	}
	switch n {
	case 4:
		v := int32(binary.LittleEndian.Uint32(b[1:5]))
		value = decimal.New(int64(v), -4)
	case 8:
		v, _, derr := DecodeMoney(b[1:9])
		if derr != nil {
			return decimal.Decimal{}, false, 0, derr
		}
		value = v
	default:
		return decimal.Decimal{}, false, 0, fmt.Errorf("moneyn: unsupported width %d", n)
	}
	return value, false, 1 + n, nil
}

// DecodeSmallMoney decodes a non-nullable SMALLMONEY: int32 LE scaled
// by 10000.
func DecodeSmallMoney(b []byte) (decimal.Decimal, int, error) {
	if len(b) < 4 {
		return decimal.Decimal{}, 0, errShort("smallmoney", 4, len(b))
	}
	v := int32(binary.LittleEndian.Uint32(b))
	return decimal.New(int64(v), -4), 4, nil
}

// EncodeMoneyN encodes a non-null MONEY value (8-byte form) with its
// length prefix.
func EncodeMoneyN(value decimal.Decimal) []byte {
	scaled := value.Shift(4).Truncate(0).IntPart()
	buf := make([]byte, 9)
	buf[0] = 8
	binary.LittleEndian.PutUint32(buf[1:5], uint32(scaled>>32))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(scaled))
	return buf
}

// EncodeMoneyNull encodes the null sentinel for MONEY/SMALLMONEY.
func EncodeMoneyNull() []byte { return []byte{0} }
