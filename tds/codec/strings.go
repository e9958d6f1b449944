package codec

import "encoding/binary"

// plpNullSentinel and plpUnknownLength are the two reserved 8-byte
// length markers that precede a PLP (partially length-prefixed) value
// instead of an ordinary byte count.
const (
	plpNullSentinel  = 0xFFFFFFFFFFFFFFFF
	plpUnknownLength = 0xFFFFFFFFFFFFFFFE
	plpTerminator    = 0x00000000
)

// DecodeVarLenBytes decodes a non-MAX BINARY/VARBINARY/CHAR/VARCHAR
// value with a 2-byte little-endian length prefix (0xFFFF means null).
func DecodeVarLenBytes(b []byte) (value []byte, isNull bool, consumed int, err error) {
	if len(b) < 2 {
		return nil, false, 0, errShort("varlen length", 2, len(b))
	}
	n := binary.LittleEndian.Uint16(b)
	if n == 0xFFFF {
		return nil, true, 2, nil
	}
	if len(b) < 2+int(n) {
		return nil, false, 0, errShort("varlen payload", int(n), len(b)-2)
	}
	value = make([]byte, n)
	copy(value, b[2:2+n])
	return value, false, 2 + int(n), nil
}

// EncodeVarLenBytes encodes a non-null BINARY/VARBINARY/CHAR/VARCHAR
// value with its 2-byte length prefix.
func EncodeVarLenBytes(value []byte) []byte {
	buf := make([]byte, 2+len(value))
	binary.LittleEndian.PutUint16(buf, uint16(len(value)))
	copy(buf[2:], value)
	return buf
}

// EncodeVarLenNull encodes the null sentinel for a 2-byte-length-prefixed
// BINARY/VARBINARY/CHAR/VARCHAR value.
func EncodeVarLenNull() []byte { return []byte{0xFF, 0xFF} }

// DecodeFixedBinary decodes a fixed-width BINARY value (no length
// prefix, never null at this level).
func DecodeFixedBinary(b []byte, width int) ([]byte, int, error) {
	if len(b) < width {
		return nil, 0, errShort("fixed binary", width, len(b))
	}
	value := make([]byte, width)
	copy(value, b[:width])
	return value, width, nil
}

// DecodeVarChar decodes a CHAR/VARCHAR value with a 2-byte length
// prefix, translated through a single-byte collation-dependent
// encoding. Collation-aware transcoding is the caller's responsibility;
// this assumes the bytes are already ASCII/Latin1-compatible text.
func DecodeVarChar(b []byte) (value string, isNull bool, consumed int, err error) {
	raw, null, n, derr := DecodeVarLenBytes(b)
	if derr != nil {
		return "", false, 0, derr
	}
	if null {
		return "", true, n, nil
	}
	return string(raw), false, n, nil
}

// EncodeVarChar encodes a non-null CHAR/VARCHAR value with its 2-byte
// length prefix, one byte per character.
func EncodeVarChar(s string) []byte {
	return EncodeVarLenBytes([]byte(s))
}

// DecodeNVarChar decodes an NCHAR/NVARCHAR value with a 2-byte
// byte-length prefix of UTF-16LE text.
func DecodeNVarChar(b []byte) (value string, isNull bool, consumed int, err error) {
	raw, null, n, derr := DecodeVarLenBytes(b)
	if derr != nil {
		return "", false, 0, derr
	}
	if null {
		return "", true, n, nil
	}
	return DecodeUTF16LE(raw), false, n, nil
}

// EncodeNVarChar encodes a non-null NCHAR/NVARCHAR value with its
// 2-byte byte-length prefix.
func EncodeNVarChar(s string) []byte {
	return EncodeVarLenBytes(EncodeUTF16LE(s))
}
