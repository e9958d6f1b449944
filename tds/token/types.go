package token

import "github.com/ha1tch/tdsclient/tds/codec"

// LoginAck is the server's LOGINACK token, confirming the negotiated
// TDS version and reporting its program name/version.
type LoginAck struct {
	Interface   uint8
	TDSVersion  uint32
	ProgName    string
	ProgVersion uint32
}

// RoutingInfo carries an ENVCHANGE(ROUTING) redirect target.
type RoutingInfo struct {
	Protocol         uint8
	ProtocolProperty uint16
	AltServer        string
}

// EnvChange is a single ENVCHANGE token. For EnvSQLCollation,
// NewCollation/OldCollation carry the raw collation bytes instead of
// NewValue/OldValue. For EnvRouting, Routing is populated.
type EnvChange struct {
	SubType      uint8
	NewValue     string
	OldValue     string
	NewCollation []byte
	OldCollation []byte
	Routing      *RoutingInfo
}

// Done is a DONE/DONEPROC/DONEINPROC token.
type Done struct {
	Kind     Type
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (d Done) IsFinal() bool       { return d.Status&DoneMore == 0 }
func (d Done) HasError() bool      { return d.Status&DoneError != 0 }
func (d Done) HasCount() bool      { return d.Status&DoneCount != 0 }
func (d Done) IsAttentionAck() bool { return d.Status&DoneAttn != 0 }

// ServerMessage is the common payload of ERROR and INFO tokens.
type ServerMessage struct {
	IsError    bool
	Number     int32
	State      uint8
	Class      uint8
	Message    string
	ServerName string
	ProcName   string
	LineNumber int32
}

// ColMetadata is the COLMETADATA token: the column schema for the rows
// that follow, until the next COLMETADATA or a terminal DONE.
type ColMetadata struct {
	Columns []codec.Column
}

// Row is a decoded ROW or NBCROW token. Values are ordered to match
// the most recently seen ColMetadata.Columns.
type Row struct {
	Values []interface{}
}

// FeatureExtAck reports which LOGIN7 feature extensions the server
// acknowledged, keyed by feature ID.
type FeatureExtAck struct {
	Features map[byte][]byte
}

// FedAuthInfo carries federated-authentication metadata (STS URL,
// service principal name) requested via the FEDAUTHREQUIRED option.
type FedAuthInfo struct {
	Options map[uint32][]byte
}

// ReturnStatus is the RETURNSTATUS token: the integer return value of
// a stored procedure call.
type ReturnStatus struct {
	Value int32
}

// Order is the ORDER token: the column IDs the result set is sorted
// by, in order.
type Order struct {
	ColumnIDs []uint16
}
