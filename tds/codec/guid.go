package codec

import "github.com/google/uuid"

// DecodeGUID decodes a 16-byte UNIQUEIDENTIFIER. The wire format is
// mixed-endian: the first three groups (4, 2, 2 bytes) are little-endian,
// the last 8 bytes are big-endian as-is. Producing a canonical,
// lexicographically-sortable uuid.UUID additionally requires flipping
// the high bit of the reordered value's upper 64 bits; EncodeGUID
// reverses the flip so the wire bytes this module sends match what it
// would have received.
func DecodeGUID(b []byte) (uuid.UUID, int, error) {
	if len(b) < 16 {
		return uuid.UUID{}, 0, errShort("uniqueidentifier", 16, len(b))
	}
	var out uuid.UUID
	reorderGUIDBytes(b[:16], out[:])
	out[0] ^= 0x80
	return out, 16, nil
}

// EncodeGUID encodes a uuid.UUID back to the 16-byte mixed-endian wire
// form.
func EncodeGUID(id uuid.UUID) []byte {
	flipped := id
	flipped[0] ^= 0x80
	out := make([]byte, 16)
	reorderGUIDBytes(flipped[:], out)
	return out
}

// reorderGUIDBytes converts between TDS mixed-endian and big-endian
// canonical layout. The transform is its own inverse.
func reorderGUIDBytes(in []byte, out []byte) {
	out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	out[4], out[5] = in[5], in[4]
	out[6], out[7] = in[7], in[6]
	copy(out[8:16], in[8:16])
}
