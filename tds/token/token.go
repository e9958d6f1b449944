// Package token parses the TDS response token stream: COLMETADATA, ROW,
// NBCROW, DONE family, ERROR/INFO, ENVCHANGE, LOGINACK, FEATUREEXTACK,
// FEDAUTHINFO, RETURNSTATUS, and ORDER.
package token

import "fmt"

// Type identifies a single token in the response stream.
type Type uint8

const (
	TypeReturnStatus  Type = 0x79
	TypeColMetadata   Type = 0x81
	TypeOrder         Type = 0xA9
	TypeError         Type = 0xAA
	TypeInfo          Type = 0xAB
	TypeReturnValue   Type = 0xAC
	TypeLoginAck      Type = 0xAD
	TypeFeatureExtAck Type = 0xAE
	TypeRow           Type = 0xD1
	TypeNBCRow        Type = 0xD2
	TypeEnvChange     Type = 0xE3
	TypeSSPI          Type = 0xED
	TypeFedAuthInfo   Type = 0xEE
	TypeDone          Type = 0xFD
	TypeDoneProc      Type = 0xFE
	TypeDoneInProc    Type = 0xFF
)

func (t Type) String() string {
	switch t {
	case TypeReturnStatus:
		return "RETURNSTATUS"
	case TypeColMetadata:
		return "COLMETADATA"
	case TypeOrder:
		return "ORDER"
	case TypeError:
		return "ERROR"
	case TypeInfo:
		return "INFO"
	case TypeReturnValue:
		return "RETURNVALUE"
	case TypeLoginAck:
		return "LOGINACK"
	case TypeFeatureExtAck:
		return "FEATUREEXTACK"
	case TypeRow:
		return "ROW"
	case TypeNBCRow:
		return "NBCROW"
	case TypeEnvChange:
		return "ENVCHANGE"
	case TypeSSPI:
		return "SSPI"
	case TypeFedAuthInfo:
		return "FEDAUTHINFO"
	case TypeDone:
		return "DONE"
	case TypeDoneProc:
		return "DONEPROC"
	case TypeDoneInProc:
		return "DONEINPROC"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// DONE status flags.
const (
	DoneFinal    uint16 = 0x0000
	DoneMore     uint16 = 0x0001
	DoneError    uint16 = 0x0002
	DoneInxact   uint16 = 0x0004
	DoneCount    uint16 = 0x0010
	DoneAttn     uint16 = 0x0020
	DoneSrvError uint16 = 0x0100
)

// ENVCHANGE subtypes.
const (
	EnvDatabase            uint8 = 1
	EnvLanguage            uint8 = 2
	EnvCharset             uint8 = 3
	EnvPacketSize          uint8 = 4
	EnvSortID              uint8 = 5
	EnvSortFlags           uint8 = 6
	EnvSQLCollation        uint8 = 7
	EnvBeginTran           uint8 = 8
	EnvCommitTran          uint8 = 9
	EnvRollbackTran        uint8 = 10
	EnvEnlistDTC           uint8 = 11
	EnvDefectTran          uint8 = 12
	EnvMirrorPartner       uint8 = 13
	EnvPromoteTran         uint8 = 15
	EnvTranMgrAddr         uint8 = 16
	EnvTranEnded           uint8 = 17
	EnvResetConnAck        uint8 = 18
	EnvStartedInstanceName uint8 = 19
	EnvRouting             uint8 = 20
)

// LoginAck interface/TDS-feature constants.
const (
	LoginAckSQL70   uint8 = 0x70
	LoginAckSQL2000 uint8 = 0x71
	LoginAckSQL2005 uint8 = 0x72
	LoginAckSQL2008 uint8 = 0x73
	LoginAckSQL2012 uint8 = 0x74
)
