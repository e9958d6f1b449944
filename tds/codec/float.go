package codec

import (
	"encoding/binary"
	"math"
)

// DecodeFloat4 decodes a REAL: 4-byte IEEE754 little-endian.
func DecodeFloat4(b []byte) (float32, int, error) {
	if len(b) < 4 {
		return 0, 0, errShort("real", 4, len(b))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), 4, nil
}

// DecodeFloat8 decodes a FLOAT: 8-byte IEEE754 little-endian.
func DecodeFloat8(b []byte) (float64, int, error) {
	if len(b) < 8 {
		return 0, 0, errShort("float", 8, len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil
}

// DecodeFloatN decodes a nullable real/float: 1-byte length (0=null, 4,
// or 8) then that many bytes.
func DecodeFloatN(b []byte) (value float64, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return 0, false, 0, errShort("floatn length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return 0, true, 1, nil
	}
	if len(b) < 1+n {
		return 0, false, 0, errShort("floatn payload", n, len(b)-1)
	}
	switch n {
	case 4:
		value = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[1:])))
	case 8:
		value = math.Float64frombits(binary.LittleEndian.Uint64(b[1:]))
	default:
		return 0, false, 0, errShort("floatn width 4 or 8", n, n)
	}
	return value, false, 1 + n, nil
}

// EncodeFloat4N encodes a non-null REAL with its length prefix.
func EncodeFloat4N(v float32) []byte {
	buf := make([]byte, 5)
	buf[0] = 4
	binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(v))
	return buf
}

// EncodeFloat8N encodes a non-null FLOAT with its length prefix.
func EncodeFloat8N(v float64) []byte {
	buf := make([]byte, 9)
	buf[0] = 8
	binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v))
	return buf
}
