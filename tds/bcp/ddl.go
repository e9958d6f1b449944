package bcp

import (
	"fmt"
	"strings"

	"github.com/ha1tch/tdsclient/tds/codec"
)

// columnTypeDDL renders the column-type clause of an INSERT BULK
// statement from a COLMETADATA column description: the SQL type name
// plus whatever length/precision/scale qualifier it takes, followed by
// NULL/NOT NULL.
func columnTypeDDL(col codec.Column) string {
	var b strings.Builder
	b.WriteString(col.Type.String())

	switch col.Type {
	case codec.TypeVarChar, codec.TypeChar, codec.TypeBigVarChar, codec.TypeBigChar,
		codec.TypeBinary, codec.TypeVarBinary, codec.TypeBigBinary, codec.TypeBigVarBin:
		if col.Type.IsPLP(col.Length) {
			b.WriteString("(MAX)")
		} else {
			fmt.Fprintf(&b, "(%d)", col.Length)
		}
	case codec.TypeNVarChar, codec.TypeNChar:
		if col.Type.IsPLP(col.Length) {
			b.WriteString("(MAX)")
		} else {
			fmt.Fprintf(&b, "(%d)", col.Length/2)
		}
	case codec.TypeDecimalN, codec.TypeNumericN, codec.TypeDecimalLegacy, codec.TypeNumericLegacy:
		fmt.Fprintf(&b, "(%d,%d)", col.Precision, col.Scale)
	case codec.TypeTimeN, codec.TypeDateTime2N, codec.TypeDateTimeOffsetN:
		fmt.Fprintf(&b, "(%d)", col.Scale)
	}

	if col.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	return b.String()
}
