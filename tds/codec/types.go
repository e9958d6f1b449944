// Package codec implements the binary value codecs for every TDS wire
// type this client understands: encoding host values to wire bytes for
// parameters and bulk-load rows, and decoding wire bytes back to host
// values for result-stream rows.
package codec

import (
	"fmt"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
)

// SQLType identifies a TDS wire type tag.
type SQLType uint8

const (
	TypeNull  SQLType = 0x1F
	TypeInt1  SQLType = 0x30 // tinyint
	TypeBit   SQLType = 0x32
	TypeInt2  SQLType = 0x34 // smallint
	TypeInt4  SQLType = 0x38 // int
	TypeDateTime4 SQLType = 0x3A // smalldatetime
	TypeFloat4    SQLType = 0x3B // real
	TypeMoney     SQLType = 0x3C
	TypeDateTime  SQLType = 0x3D // legacy datetime
	TypeFloat8    SQLType = 0x3E // float
	TypeMoney4    SQLType = 0x7A // smallmoney
	TypeInt8      SQLType = 0x7F // bigint

	TypeGUID            SQLType = 0x24
	TypeIntN            SQLType = 0x26
	TypeDecimalLegacy   SQLType = 0x37
	TypeNumericLegacy   SQLType = 0x3F
	TypeBitN            SQLType = 0x68
	TypeDecimalN        SQLType = 0x6A
	TypeNumericN        SQLType = 0x6C
	TypeFloatN          SQLType = 0x6D
	TypeMoneyN          SQLType = 0x6E
	TypeDateTimeN       SQLType = 0x6F
	TypeDateN           SQLType = 0x28
	TypeTimeN           SQLType = 0x29
	TypeDateTime2N      SQLType = 0x2A
	TypeDateTimeOffsetN SQLType = 0x2B

	TypeChar      SQLType = 0x2F
	TypeVarChar   SQLType = 0x27
	TypeBinary    SQLType = 0x2D
	TypeVarBinary SQLType = 0x25

	TypeBigVarBin  SQLType = 0xA5
	TypeBigVarChar SQLType = 0xA7
	TypeBigBinary  SQLType = 0xAD
	TypeBigChar    SQLType = 0xAF
	TypeNVarChar   SQLType = 0xE7
	TypeNChar      SQLType = 0xEF

	// Unsupported (surfaced as a descriptive error, never silently
	// substituted, per the error taxonomy for Unsupported types).
	TypeXML       SQLType = 0xF1
	TypeUDT       SQLType = 0xF0
	TypeSSVariant SQLType = 0x62
	TypeText      SQLType = 0x23
	TypeNText     SQLType = 0x63
	TypeImage     SQLType = 0x22
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit, TypeBitN:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeIntN:
		return "INTN"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8:
		return "FLOAT"
	case TypeFloatN:
		return "FLOATN"
	case TypeMoney, TypeMoneyN:
		return "MONEY"
	case TypeMoney4:
		return "SMALLMONEY"
	case TypeDateTime, TypeDateTimeN:
		return "DATETIME"
	case TypeDateTime4:
		return "SMALLDATETIME"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimalN, TypeNumericN, TypeDecimalLegacy, TypeNumericLegacy:
		return "DECIMAL"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeChar, TypeBigChar:
		return "CHAR"
	case TypeVarChar, TypeBigVarChar:
		return "VARCHAR"
	case TypeBinary, TypeBigBinary:
		return "BINARY"
	case TypeVarBinary, TypeBigVarBin:
		return "VARBINARY"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeXML:
		return "XML"
	case TypeUDT:
		return "UDT"
	case TypeSSVariant:
		return "SQL_VARIANT"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// IsPLP reports whether this type uses the partially-length-prefixed
// (MAX) wire encoding.
func (t SQLType) IsPLP(maxLength uint32) bool {
	switch t {
	case TypeNVarChar, TypeBigVarChar, TypeBigVarBin:
		return maxLength == 0xFFFF
	}
	return false
}

// Unsupported reports whether this module has no codec for t (XML, UDT,
// sql_variant, the legacy LOB types).
func (t SQLType) Unsupported() bool {
	switch t {
	case TypeXML, TypeUDT, TypeSSVariant, TypeText, TypeNText, TypeImage:
		return true
	}
	return false
}

// Column describes one COLMETADATA entry: enough information for the
// codec layer to decode or encode a value of this column's type.
type Column struct {
	Name      string
	Type      SQLType
	Length    uint32 // max byte length for variable types; fixed-size code for IntN/FloatN/etc.
	Precision uint8  // DECIMAL/NUMERIC
	Scale     uint8  // DECIMAL/NUMERIC/TIME family
	Collation [5]byte
	Nullable  bool
	UserType  uint32
	Flags     uint16
}

const (
	ColFlagNullable uint16 = 0x0001
	ColFlagCaseSen  uint16 = 0x0002
	ColFlagUpdateable uint16 = 0x0008
	ColFlagIdentity   uint16 = 0x0010
	ColFlagComputed   uint16 = 0x0020
	ColFlagHidden     uint16 = 0x2000
	ColFlagKey        uint16 = 0x4000
)

// DefaultCollation is Latin1_General_CI_AS, a reasonable default when a
// host does not otherwise specify one.
var DefaultCollation = [5]byte{0x09, 0x04, 0xD0, 0x00, 0x34}

// ErrUnsupportedType builds the descriptive error required when a
// column's type has no codec: it must name the column and the type, and
// must never be met with a silent substitution.
func ErrUnsupportedType(col Column) error {
	return tdserr.Newf(tdserr.KindUnsupported, tdserr.ErrCodeUnsupportedType, tdslog.LayerCodec,
		"column %q has unsupported type %s", col.Name, col.Type)
}
