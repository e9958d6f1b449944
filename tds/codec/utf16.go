package codec

import (
	"encoding/binary"
	"unicode/utf16"
)

// EncodeUTF16LE encodes a Go string as UTF-16LE bytes.
func EncodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return buf
}

// DecodeUTF16LE decodes UTF-16LE bytes to a Go string. An odd trailing
// byte (malformed input) is dropped rather than panicking.
func DecodeUTF16LE(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units))
}

// UTF16LEByteLen returns the number of bytes s will occupy once encoded
// as UTF-16LE, without allocating the encoding.
func UTF16LEByteLen(s string) int {
	return len(utf16.Encode([]rune(s))) * 2
}

func unmangleByte(b byte) byte {
	b = b ^ 0xA5
	return (b >> 4) | (b << 4)
}

// EncodePassword obfuscates a password for the LOGIN7 wire format:
// UTF-16LE encode, then per-byte nibble-swap followed by XOR 0xA5.
func EncodePassword(password string) []byte {
	raw := EncodeUTF16LE(password)
	out := make([]byte, len(raw))
	for i, b := range raw {
		swapped := (b << 4) | (b >> 4)
		out[i] = swapped ^ 0xA5
	}
	return out
}

// DecodePassword reverses EncodePassword: XOR 0xA5 then nibble-swap,
// then UTF-16LE decode. Used when round-tripping a login for tests.
func DecodePassword(mangled []byte) string {
	raw := make([]byte, len(mangled))
	for i, b := range mangled {
		raw[i] = unmangleByte(b)
	}
	return DecodeUTF16LE(raw)
}
