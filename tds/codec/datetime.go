package codec

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Epoch reference points used throughout the date/time codecs.
const (
	daysFrom0001ToEpoch = 719162
	daysFrom1900ToEpoch = 25567
)

// timeByteLength returns the wire byte length of a scaled TIME-family
// value (TIME, the time portion of DATETIME2, DATETIMEOFFSET) for a
// given scale: 3 bytes for scale 0-2, 4 for 3-4, 5 for 5-7.
func timeByteLength(scale uint8) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

// ticksToNanos converts a tick count recorded at the wire scale into
// nanoseconds since midnight. A tick at scale s is 10^-s seconds, so
// scale 7 ticks are 100ns units and each lower scale is ten times
// coarser.
func ticksToNanos(ticks int64, scale uint8) int64 {
	if scale >= 7 {
		return ticks * 100
	}
	multiplier := int64(1)
	for i := uint8(0); i < 9-scale; i++ {
		multiplier *= 10
	}
	return ticks * multiplier
}

// nanosToTicks is the inverse of ticksToNanos.
func nanosToTicks(nanos int64, scale uint8) int64 {
	if scale >= 7 {
		return nanos / 100
	}
	divisor := int64(1)
	for i := uint8(0); i < 9-scale; i++ {
		divisor *= 10
	}
	return nanos / divisor
}

func readLE3(b []byte) int32 {
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
}

func writeLE3(buf []byte, v int32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
}

// DecodeDate decodes a non-nullable DATE: 3 bytes little-endian, days
// since 0001-01-01. Returned as a UTC midnight time.Time.
func DecodeDate(b []byte) (time.Time, int, error) {
	if len(b) < 3 {
		return time.Time{}, 0, errShort("date", 3, len(b))
	}
	days := readLE3(b)
	unixDays := int64(days) - daysFrom0001ToEpoch
	return time.Unix(unixDays*86400, 0).UTC(), 3, nil
}

// DecodeDateN decodes a nullable DATE: 1-byte length (0=null, else 3).
func DecodeDateN(b []byte) (value time.Time, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return time.Time{}, false, 0, errShort("daten length", 1, len(b))
	}
	if b[0] == 0 {
		return time.Time{}, true, 1, nil
	}
	v, n, derr := DecodeDate(b[1:])
	if derr != nil {
		return time.Time{}, false, 0, derr
	}
	return v, false, 1 + n, nil
}

// EncodeDateN encodes a non-null DATE with its length prefix.
func EncodeDateN(t time.Time) []byte {
	days := int32(t.UTC().Unix()/86400) + daysFrom0001ToEpoch
	buf := make([]byte, 4)
	buf[0] = 3
	writeLE3(buf[1:], days)
	return buf
}

// DecodeTimeN decodes a nullable TIME(scale): 1-byte length (0=null,
// else timeByteLength(scale)) of 10^-scale-second ticks since midnight.
func DecodeTimeN(b []byte, scale uint8) (value time.Duration, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return 0, false, 0, errShort("timen length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return 0, true, 1, nil
	}
	want := timeByteLength(scale)
	if n != want {
		return 0, false, 0, fmt.Errorf("timen: length %d does not match scale %d (want %d)", n, scale, want)
	}
	if len(b) < 1+n {
		return 0, false, 0, errShort("timen payload", n, len(b)-1)
	}
	ticks := readLETicks(b[1 : 1+n])
	nanos := ticksToNanos(ticks, scale)
	return time.Duration(nanos), false, 1 + n, nil
}

func readLETicks(b []byte) int64 {
	var ticks int64
	for i, v := range b {
		ticks |= int64(v) << (uint(i) * 8)
	}
	return ticks
}

func writeLETicks(buf []byte, ticks int64) {
	for i := range buf {
		buf[i] = byte(ticks >> (uint(i) * 8))
	}
}

// EncodeTimeN encodes a non-null TIME(scale) value with its length
// prefix.
func EncodeTimeN(d time.Duration, scale uint8) []byte {
	width := timeByteLength(scale)
	ticks := nanosToTicks(int64(d), scale)
	buf := make([]byte, 1+width)
	buf[0] = byte(width)
	writeLETicks(buf[1:], ticks)
	return buf
}

// DecodeDateTime decodes a non-nullable legacy DATETIME: 4-byte days
// since 1900-01-01 + 4-byte ticks at 1/300 second resolution.
func DecodeDateTime(b []byte) (time.Time, int, error) {
	if len(b) < 8 {
		return time.Time{}, 0, errShort("datetime", 8, len(b))
	}
	days := int32(binary.LittleEndian.Uint32(b[0:4]))
	ticks := int32(binary.LittleEndian.Uint32(b[4:8]))
	unixDays := int64(days) - daysFrom1900ToEpoch
	nanos := (int64(ticks) * 10000000) / 3
	return time.Unix(unixDays*86400, nanos).UTC(), 8, nil
}

// DecodeDateTimeN decodes a nullable legacy DATETIME/SMALLDATETIME: a
// 1-byte length (0=null, 4=smalldatetime, 8=datetime).
func DecodeDateTimeN(b []byte) (value time.Time, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return time.Time{}, false, 0, errShort("datetimen length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return time.Time{}, true, 1, nil
	}
	if len(b) < 1+n {
		return time.Time{}, false, 0, errShort("datetimen payload", n, len(b)-1)
	}
	switch n {
	case 4:
		v, _, derr := DecodeSmallDateTime(b[1:5])
		if derr != nil {
			return time.Time{}, false, 0, derr
		}
		value = v
	case 8:
		v, _, derr := DecodeDateTime(b[1:9])
		if derr != nil {
			return time.Time{}, false, 0, derr
		}
		value = v
	default:
		return time.Time{}, false, 0, fmt.Errorf("datetimen: unsupported width %d", n)
	}
	return value, false, 1 + n, nil
}

// EncodeDateTimeN encodes a non-null legacy DATETIME (8-byte form)
// with its length prefix.
func EncodeDateTimeN(t time.Time) []byte {
	u := t.UTC()
	unixDays := u.Unix() / 86400
	days := int32(unixDays) + daysFrom1900ToEpoch
	secOfDay := u.Unix() - unixDays*86400
	ticks := int32((secOfDay*300 + int64(u.Nanosecond())*300/1000000000))
	buf := make([]byte, 9)
	buf[0] = 8
	binary.LittleEndian.PutUint32(buf[1:5], uint32(days))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(ticks))
	return buf
}

// DecodeSmallDateTime decodes a non-nullable SMALLDATETIME: 2-byte
// days since 1900-01-01 + 2-byte minutes since midnight.
func DecodeSmallDateTime(b []byte) (time.Time, int, error) {
	if len(b) < 4 {
		return time.Time{}, 0, errShort("smalldatetime", 4, len(b))
	}
	days := binary.LittleEndian.Uint16(b[0:2])
	minutes := binary.LittleEndian.Uint16(b[2:4])
	unixDays := int64(days) - daysFrom1900ToEpoch
	return time.Unix(unixDays*86400+int64(minutes)*60, 0).UTC(), 4, nil
}

// DecodeDateTime2N decodes a nullable DATETIME2(scale): 1-byte length
// (0=null, else timeByteLength(scale)+3) combining a scaled time and a
// 3-byte date.
func DecodeDateTime2N(b []byte, scale uint8) (value time.Time, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return time.Time{}, false, 0, errShort("datetime2n length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return time.Time{}, true, 1, nil
	}
	timeLen := timeByteLength(scale)
	if n != timeLen+3 {
		return time.Time{}, false, 0, fmt.Errorf("datetime2n: length %d does not match scale %d (want %d)", n, scale, timeLen+3)
	}
	if len(b) < 1+n {
		return time.Time{}, false, 0, errShort("datetime2n payload", n, len(b)-1)
	}
	payload := b[1 : 1+n]
	ticks := readLETicks(payload[:timeLen])
	days := readLE3(payload[timeLen : timeLen+3])
	unixDays := int64(days) - daysFrom0001ToEpoch
	nanos := ticksToNanos(ticks, scale)
	value = time.Unix(unixDays*86400, nanos).UTC()
	return value, false, 1 + n, nil
}

// EncodeDateTime2N encodes a non-null DATETIME2(scale) value with its
// length prefix.
func EncodeDateTime2N(t time.Time, scale uint8) []byte {
	u := t.UTC()
	timeLen := timeByteLength(scale)
	unixDays := u.Unix() / 86400
	secOfDay := u.Unix() - unixDays*86400
	nanos := secOfDay*int64(time.Second) + int64(u.Nanosecond())
	ticks := nanosToTicks(nanos, scale)
	days := int32(unixDays) + daysFrom0001ToEpoch

	width := timeLen + 3
	buf := make([]byte, 1+width)
	buf[0] = byte(width)
	writeLETicks(buf[1:1+timeLen], ticks)
	writeLE3(buf[1+timeLen:1+width], days)
	return buf
}

// DecodeDateTimeOffsetN decodes a nullable DATETIMEOFFSET(scale): a
// scaled UTC time, a 3-byte date, and a 2-byte signed offset in
// minutes. The time component is already UTC; the offset is applied
// to produce a time.Time in the originating local zone.
func DecodeDateTimeOffsetN(b []byte, scale uint8) (value time.Time, isNull bool, consumed int, err error) {
	if len(b) < 1 {
		return time.Time{}, false, 0, errShort("datetimeoffsetn length", 1, len(b))
	}
	n := int(b[0])
	if n == 0 {
		return time.Time{}, true, 1, nil
	}
	timeLen := timeByteLength(scale)
	want := timeLen + 3 + 2
	if n != want {
		return time.Time{}, false, 0, fmt.Errorf("datetimeoffsetn: length %d does not match scale %d (want %d)", n, scale, want)
	}
	if len(b) < 1+n {
		return time.Time{}, false, 0, errShort("datetimeoffsetn payload", n, len(b)-1)
	}
	payload := b[1 : 1+n]
	ticks := readLETicks(payload[:timeLen])
	days := readLE3(payload[timeLen : timeLen+3])
	offsetMinutes := int16(binary.LittleEndian.Uint16(payload[timeLen+3 : timeLen+5]))

	unixDays := int64(days) - daysFrom0001ToEpoch
	nanos := ticksToNanos(ticks, scale)
	utc := time.Unix(unixDays*86400, nanos).UTC()

	loc := time.FixedZone("", int(offsetMinutes)*60)
	value = utc.In(loc)
	return value, false, 1 + n, nil
}

// EncodeDateTimeOffsetN encodes a non-null DATETIMEOFFSET(scale) value
// with its length prefix. The time component is stored in UTC; the
// value's own zone offset is recorded separately for display.
func EncodeDateTimeOffsetN(t time.Time, scale uint8) []byte {
	_, offsetSeconds := t.Zone()
	offsetMinutes := int16(offsetSeconds / 60)

	base := EncodeDateTime2N(t, scale)
	timeLen := timeByteLength(scale)
	width := timeLen + 3 + 2
	buf := make([]byte, 1+width)
	buf[0] = byte(width)
	copy(buf[1:1+timeLen+3], base[1:1+timeLen+3])
	binary.LittleEndian.PutUint16(buf[1+timeLen+3:], uint16(offsetMinutes))
	return buf
}
