package codec

import "encoding/binary"

// DecodePLP decodes a Partially Length-Prefixed value (the wire form
// used for varchar(max), nvarchar(max), varbinary(max), and xml): an
// 8-byte total-length marker (plpNullSentinel=null,
// plpUnknownLength=length not known up front) followed by a sequence
// of 4-byte chunk-length-prefixed chunks, terminated by a zero-length
// chunk.
func DecodePLP(b []byte) (value []byte, isNull bool, consumed int, err error) {
	if len(b) < 8 {
		return nil, false, 0, errShort("plp total length", 8, len(b))
	}
	total := binary.LittleEndian.Uint64(b)
	pos := 8
	if total == plpNullSentinel {
		return nil, true, pos, nil
	}

	var out []byte
	if total != plpUnknownLength && total < 1<<32 {
		out = make([]byte, 0, total)
	}
	for {
		if len(b) < pos+4 {
			return nil, false, 0, errShort("plp chunk length", 4, len(b)-pos)
		}
		chunkLen := binary.LittleEndian.Uint32(b[pos:])
		pos += 4
		if chunkLen == plpTerminator {
			break
		}
		if len(b) < pos+int(chunkLen) {
			return nil, false, 0, errShort("plp chunk payload", int(chunkLen), len(b)-pos)
		}
		out = append(out, b[pos:pos+int(chunkLen)]...)
		pos += int(chunkLen)
	}
	return out, false, pos, nil
}

// EncodePLP encodes a non-null value as a PLP with a known total
// length, split into chunks of at most maxChunk bytes and followed by
// one terminating zero-length chunk; maxChunk 0 emits the whole value
// as a single chunk.
func EncodePLP(value []byte, maxChunk int) []byte {
	if maxChunk <= 0 {
		maxChunk = len(value)
		if maxChunk == 0 {
			maxChunk = 1
		}
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(len(value)))

	for off := 0; off < len(value); off += maxChunk {
		end := off + maxChunk
		if end > len(value) {
			end = len(value)
		}
		chunkHeader := make([]byte, 4)
		binary.LittleEndian.PutUint32(chunkHeader, uint32(end-off))
		buf = append(buf, chunkHeader...)
		buf = append(buf, value[off:end]...)
	}
	terminator := make([]byte, 4)
	buf = append(buf, terminator...)
	return buf
}

// EncodePLPUnknownLength encodes a non-null value as a PLP stream
// whose total length was not known up front: the length marker is
// plpUnknownLength rather than the true byte count. Used when a value
// is produced incrementally (e.g. a streamed BCP column).
func EncodePLPUnknownLength(chunks [][]byte) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, plpUnknownLength)
	for _, c := range chunks {
		header := make([]byte, 4)
		binary.LittleEndian.PutUint32(header, uint32(len(c)))
		buf = append(buf, header...)
		buf = append(buf, c...)
	}
	terminator := make([]byte, 4)
	buf = append(buf, terminator...)
	return buf
}

// EncodePLPNull encodes the null sentinel for a PLP value.
func EncodePLPNull() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, plpNullSentinel)
	return buf
}
