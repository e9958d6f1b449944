package token

import (
	"encoding/binary"

	"github.com/ha1tch/tdsclient/tds/codec"
)

// EncodeTypeInfo is the encode-direction counterpart of DecodeTypeInfo:
// it serializes a column's TYPE_INFO for the COLMETADATA token.
func EncodeTypeInfo(col codec.Column) []byte {
	var out []byte
	out = append(out, byte(col.Type))

	switch col.Type {
	case codec.TypeNull, codec.TypeInt1, codec.TypeBit, codec.TypeInt2, codec.TypeInt4, codec.TypeInt8,
		codec.TypeFloat4, codec.TypeFloat8, codec.TypeMoney, codec.TypeMoney4,
		codec.TypeDateTime, codec.TypeDateTime4, codec.TypeDateN:
		// no additional info

	case codec.TypeIntN, codec.TypeBitN, codec.TypeFloatN, codec.TypeMoneyN, codec.TypeDateTimeN:
		out = append(out, byte(col.Length))

	case codec.TypeTimeN, codec.TypeDateTime2N, codec.TypeDateTimeOffsetN:
		out = append(out, col.Scale)

	case codec.TypeDecimalN, codec.TypeNumericN, codec.TypeDecimalLegacy, codec.TypeNumericLegacy:
		out = append(out, byte(col.Length), col.Precision, col.Scale)

	case codec.TypeGUID:
		out = append(out, byte(col.Length))

	case codec.TypeChar, codec.TypeVarChar, codec.TypeBinary, codec.TypeVarBinary:
		out = append(out, byte(col.Length))
		if col.Type == codec.TypeChar || col.Type == codec.TypeVarChar {
			out = append(out, col.Collation[:]...)
		}

	case codec.TypeBigVarChar, codec.TypeBigChar, codec.TypeBigVarBin, codec.TypeBigBinary:
		lenField := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenField, uint16(col.Length))
		out = append(out, lenField...)
		if col.Type == codec.TypeBigVarChar || col.Type == codec.TypeBigChar {
			out = append(out, col.Collation[:]...)
		}

	case codec.TypeNVarChar, codec.TypeNChar:
		lenField := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenField, uint16(col.Length))
		out = append(out, lenField...)
		out = append(out, col.Collation[:]...)
	}

	return out
}

// EncodeColMetadata builds a COLMETADATA token body (not including the
// token type byte) for the given columns.
func EncodeColMetadata(columns []codec.Column) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, uint16(len(columns)))

	for _, col := range columns {
		field := make([]byte, 6)
		binary.LittleEndian.PutUint32(field[0:4], col.UserType)
		flags := col.Flags
		if col.Nullable {
			flags |= codec.ColFlagNullable
		}
		binary.LittleEndian.PutUint16(field[4:6], flags)
		out = append(out, field...)
		out = append(out, EncodeTypeInfo(col)...)
		out = append(out, byte(len(col.Name)))
		out = append(out, codec.EncodeUTF16LE(col.Name)...)
	}
	return out
}

// EncodeRow builds a ROW token body for one row of values, encoding
// each column per its TYPE_INFO. The token type byte is not included.
func EncodeRow(columns []codec.Column, values []interface{}) ([]byte, error) {
	var out []byte
	for i, col := range columns {
		var v interface{}
		if i < len(values) {
			v = values[i]
		}
		enc, err := codec.EncodeValue(col, v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}

// EncodeDone builds a DONE/DONEINPROC token body (not including the
// token type byte).
func EncodeDone(status, curCmd uint16, rowCount uint64) []byte {
	out := make([]byte, 12)
	binary.LittleEndian.PutUint16(out[0:2], status)
	binary.LittleEndian.PutUint16(out[2:4], curCmd)
	binary.LittleEndian.PutUint64(out[4:12], rowCount)
	return out
}
