package codec

import (
	"github.com/google/uuid"
)

// DecodeValue decodes a single row value for the given column,
// dispatching on col.Type the way the wire layout requires. It returns
// the decoded value (nil for SQL NULL), the number of bytes consumed
// from b, and an error for malformed or unsupported encodings.
func DecodeValue(b []byte, col Column) (value interface{}, consumed int, err error) {
	switch col.Type {
	case TypeInt1:
		v, n, derr := DecodeInt1(b)
		return v, n, derr

	case TypeInt2:
		v, n, derr := DecodeInt2(b)
		return v, n, derr

	case TypeInt4:
		v, n, derr := DecodeInt4(b)
		return v, n, derr

	case TypeInt8:
		v, n, derr := DecodeInt8(b)
		return v, n, derr

	case TypeIntN:
		v, isNull, n, derr := DecodeIntN(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeBit:
		v, n, derr := DecodeBit(b)
		return v, n, derr

	case TypeBitN:
		v, isNull, n, derr := DecodeBitN(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeFloat4:
		v, n, derr := DecodeFloat4(b)
		return v, n, derr

	case TypeFloat8:
		v, n, derr := DecodeFloat8(b)
		return v, n, derr

	case TypeFloatN:
		v, isNull, n, derr := DecodeFloatN(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeGUID:
		v, n, derr := DecodeGUID(b)
		return decodeGUIDOrNull(v, n, derr)

	case TypeDecimalLegacy, TypeNumericLegacy, TypeDecimalN, TypeNumericN:
		v, isNull, n, derr := DecodeDecimalN(b, col.Scale)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeMoney:
		v, n, derr := DecodeMoney(b)
		return v, n, derr

	case TypeMoney4:
		v, n, derr := DecodeSmallMoney(b)
		return v, n, derr

	case TypeMoneyN:
		v, isNull, n, derr := DecodeMoneyN(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeDateN:
		v, isNull, n, derr := DecodeDateN(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeTimeN:
		v, isNull, n, derr := DecodeTimeN(b, col.Scale)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeDateTime, TypeDateTime4:
		v, n, derr := decodeFixedDateTime(b, col.Type)
		return v, n, derr

	case TypeDateTimeN:
		v, isNull, n, derr := DecodeDateTimeN(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeDateTime2N:
		v, isNull, n, derr := DecodeDateTime2N(b, col.Scale)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeDateTimeOffsetN:
		v, isNull, n, derr := DecodeDateTimeOffsetN(b, col.Scale)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeNVarChar, TypeNChar:
		v, isNull, n, derr := DecodeNVarChar(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeBigVarChar, TypeBigChar, TypeVarChar, TypeChar:
		v, isNull, n, derr := DecodeVarChar(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeBigVarBin, TypeBigBinary, TypeVarBinary, TypeBinary:
		v, isNull, n, derr := DecodeVarLenBytes(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return v, n, nil

	case TypeXML:
		v, isNull, n, derr := DecodePLP(b)
		if derr != nil || isNull {
			return nil, n, derr
		}
		return DecodeUTF16LE(v), n, nil

	case TypeNull:
		return nil, 0, nil

	default:
		return nil, 0, ErrUnsupportedType(col)
	}
}

func decodeGUIDOrNull(v uuid.UUID, n int, err error) (interface{}, int, error) {
	if err != nil {
		return nil, n, err
	}
	return v, n, nil
}

func decodeFixedDateTime(b []byte, typ SQLType) (interface{}, int, error) {
	if typ == TypeDateTime4 {
		return DecodeSmallDateTime(b)
	}
	return DecodeDateTime(b)
}
