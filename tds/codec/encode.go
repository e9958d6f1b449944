package codec

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
)

// EncodeValue is the encode-direction counterpart of DecodeValue: it
// serializes a host value (or nil, for SQL NULL) to wire bytes per
// col.Type, used by the bulk-load writer to build ROW tokens.
func EncodeValue(col Column, v interface{}) ([]byte, error) {
	if col.Type.Unsupported() {
		return nil, ErrUnsupportedType(col)
	}

	switch col.Type {
	case TypeInt1, TypeInt2, TypeInt4, TypeInt8, TypeIntN:
		width := intWidth(col)
		if v == nil {
			return EncodeIntNNull(), nil
		}
		return EncodeIntN(toInt64(v), width), nil

	case TypeBit, TypeBitN:
		if v == nil {
			return EncodeIntNNull(), nil
		}
		b, _ := v.(bool)
		val := int64(0)
		if b {
			val = 1
		}
		return []byte{1, byte(val)}, nil

	case TypeFloat4, TypeFloatN:
		if col.Length == 4 {
			if v == nil {
				return EncodeIntNNull(), nil
			}
			return EncodeFloat4N(float32(toFloat64(v))), nil
		}
		if v == nil {
			return EncodeIntNNull(), nil
		}
		return EncodeFloat8N(toFloat64(v)), nil

	case TypeFloat8:
		if v == nil {
			return EncodeIntNNull(), nil
		}
		return EncodeFloat8N(toFloat64(v)), nil

	case TypeMoney, TypeMoney4, TypeMoneyN:
		if v == nil {
			return EncodeMoneyNull(), nil
		}
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return EncodeMoneyN(d), nil

	case TypeDecimalLegacy, TypeNumericLegacy, TypeDecimalN, TypeNumericN:
		if v == nil {
			return EncodeDecimalNull(), nil
		}
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return EncodeDecimalN(d, col.Precision, col.Scale)

	case TypeGUID:
		if v == nil {
			return EncodeVarLenNullByte(), nil
		}
		id, err := toUUID(v)
		if err != nil {
			return nil, err
		}
		return EncodeGUID(id), nil

	case TypeDateN:
		if v == nil {
			return EncodeVarLenNullByte(), nil
		}
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return EncodeDateN(t), nil

	case TypeTimeN:
		if v == nil {
			return EncodeVarLenNullByte(), nil
		}
		d, ok := v.(time.Duration)
		if !ok {
			return nil, typeMismatchErrRaw(v, "time.Duration")
		}
		return EncodeTimeN(d, col.Scale), nil

	case TypeDateTime, TypeDateTime4, TypeDateTimeN:
		if v == nil {
			return EncodeVarLenNullByte(), nil
		}
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return EncodeDateTimeN(t), nil

	case TypeDateTime2N:
		if v == nil {
			return EncodeVarLenNullByte(), nil
		}
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return EncodeDateTime2N(t, col.Scale), nil

	case TypeDateTimeOffsetN:
		if v == nil {
			return EncodeVarLenNullByte(), nil
		}
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return EncodeDateTimeOffsetN(t, col.Scale), nil

	case TypeChar, TypeVarChar, TypeBigChar, TypeBigVarChar:
		if v == nil {
			return EncodeVarLenNull(), nil
		}
		s, _ := v.(string)
		if col.Type.IsPLP(col.Length) {
			return EncodePLP([]byte(s), plpDefaultChunk), nil
		}
		return EncodeVarChar(s), nil

	case TypeNChar, TypeNVarChar:
		if v == nil {
			return EncodeVarLenNull(), nil
		}
		s, _ := v.(string)
		if col.Type.IsPLP(col.Length) {
			return EncodePLP(EncodeUTF16LE(s), plpDefaultChunk), nil
		}
		return EncodeNVarChar(s), nil

	case TypeBinary, TypeVarBinary, TypeBigBinary, TypeBigVarBin:
		if v == nil {
			return EncodeVarLenNull(), nil
		}
		b, _ := v.([]byte)
		if col.Type.IsPLP(col.Length) {
			return EncodePLP(b, plpDefaultChunk), nil
		}
		return EncodeVarLenBytes(b), nil

	default:
		return nil, ErrUnsupportedType(col)
	}
}

const plpDefaultChunk = 8192

func intWidth(col Column) int {
	switch col.Type {
	case TypeInt1:
		return 1
	case TypeInt2:
		return 2
	case TypeInt4:
		return 4
	case TypeInt8:
		return 8
	default: // TypeIntN carries its width in Length
		if col.Length == 0 {
			return 4
		}
		return int(col.Length)
	}
}

// EncodeVarLenNullByte is the one-byte null sentinel used by GUID,
// date/time family, and legacy DATETIME encodings (as opposed to the
// two-byte sentinel EncodeVarLenNull uses for string/binary types).
func EncodeVarLenNullByte() []byte { return []byte{0} }

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Decimal{}, typeMismatchErrRaw(v, "decimal.Decimal")
	}
}

func toUUID(v interface{}) (uuid.UUID, error) {
	switch n := v.(type) {
	case uuid.UUID:
		return n, nil
	case string:
		return uuid.Parse(n)
	default:
		return uuid.UUID{}, typeMismatchErrRaw(v, "uuid.UUID")
	}
}

func toTime(v interface{}) (time.Time, error) {
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, typeMismatchErrRaw(v, "time.Time")
	}
	return t, nil
}

func typeMismatchErrRaw(v interface{}, want string) error {
	return tdserr.Newf(tdserr.KindUnsupported, tdserr.ErrCodeUnsupportedType, tdslog.LayerCodec,
		"expected a %s, got %T", want, v)
}
