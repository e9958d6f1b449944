package codec

import (
	"encoding/binary"
	"fmt"
)

// DecodeInt1 decodes a TINYINT: 1 unsigned byte, never null.
func DecodeInt1(b []byte) (uint8, int, error) {
	if len(b) < 1 {
		return 0, 0, errShort("tinyint", 1, len(b))
	}
	return b[0], 1, nil
}

// DecodeInt2 decodes a SMALLINT: 2 bytes little-endian signed.
func DecodeInt2(b []byte) (int16, int, error) {
	if len(b) < 2 {
		return 0, 0, errShort("smallint", 2, len(b))
	}
	return int16(binary.LittleEndian.Uint16(b)), 2, nil
}

// DecodeInt4 decodes an INT: 4 bytes little-endian signed.
func DecodeInt4(b []byte) (int32, int, error) {
	if len(b) < 4 {
		return 0, 0, errShort("int", 4, len(b))
	}
	return int32(binary.LittleEndian.Uint32(b)), 4, nil
}

// DecodeInt8 decodes a BIGINT: 8 bytes little-endian signed.
func DecodeInt8(b []byte) (int64, int, error) {
	if len(b) < 8 {
		return 0, 0, errShort("bigint", 8, len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), 8, nil
}

// DecodeIntN decodes a nullable tinyint/smallint/int/bigint: a 1-byte
// length prefix (0 means null) followed by that many little-endian
// bytes sign-extended to int64.
func DecodeIntN(b []byte) (value int64, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return 0, false, 0, errShort("intn length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return 0, true, 1, nil
	}
	if len(b) < 1+n {
		return 0, false, 0, errShort("intn payload", n, len(b)-1)
	}
	payload := b[1 : 1+n]
	switch n {
	case 1:
		value = int64(payload[0])
	case 2:
		value = int64(int16(binary.LittleEndian.Uint16(payload)))
	case 4:
		value = int64(int32(binary.LittleEndian.Uint32(payload)))
	case 8:
		value = int64(binary.LittleEndian.Uint64(payload))
	default:
		return 0, false, 0, fmt.Errorf("intn: unsupported byte length %d", n)
	}
	return value, false, 1 + n, nil
}

// EncodeIntN encodes a non-null intN value of the given byte width (1,
// 2, 4, or 8) with its length prefix.
func EncodeIntN(value int64, width int) []byte {
	buf := make([]byte, 1+width)
	buf[0] = byte(width)
	switch width {
	case 1:
		buf[1] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf[1:], uint16(int16(value)))
	case 4:
		binary.LittleEndian.PutUint32(buf[1:], uint32(int32(value)))
	case 8:
		binary.LittleEndian.PutUint64(buf[1:], uint64(value))
	}
	return buf
}

// EncodeIntNNull encodes the null sentinel for a nullable fixed-width
// integer: a zero length byte.
func EncodeIntNNull() []byte { return []byte{0} }

// DecodeBit decodes a non-nullable BIT: 1 byte, 0 or non-zero.
func DecodeBit(b []byte) (bool, int, error) {
	if len(b) < 1 {
		return false, 0, errShort("bit", 1, len(b))
	}
	return b[0] != 0, 1, nil
}

// DecodeBitN decodes a nullable BIT: 1-byte length (0=null) then 1 byte.
func DecodeBitN(b []byte) (value bool, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return false, false, 0, errShort("bitn length", 1, len(b))
	}
	if b[0] == 0 {
		return false, true, 1, nil
	}
	if len(b) < 2 {
		return false, false, 0, errShort("bitn payload", 1, len(b)-1)
	}
	return b[1] != 0, false, 2, nil
}

func errShort(what string, want, got int) error {
	return fmt.Errorf("codec: %s requires %d bytes, have %d", what, want, got)
}
