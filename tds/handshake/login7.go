package handshake

import (
	"encoding/binary"

	"github.com/ha1tch/tdsclient/tds/codec"
)

// Login7HeaderSize is the fixed size of the LOGIN7 header that precedes
// the packet's variable-length string block.
const Login7HeaderSize = 94

// Login7 option flags (OptionFlags1/2/3, TypeFlags).
const (
	flag1ByteOrder uint8 = 0x01
	flag1Char      uint8 = 0x02
	flag1Float     uint8 = 0x0C
	flag1DumpLoad  uint8 = 0x10
	flag1UseDB     uint8 = 0x20
	flag1Database  uint8 = 0x40
	flag1SetLang   uint8 = 0x80

	flag2Language    uint8 = 0x01
	flag2ODBC        uint8 = 0x02
	flag2IntSecurity uint8 = 0x80

	flag3ChangePassword uint8 = 0x01
	flag3Extension      uint8 = 0x10

	typeFlagSQL uint8 = 0x00
)

// LoginOptions carries the fields needed to build a LOGIN7 packet.
type LoginOptions struct {
	TDSVersion    uint32
	PacketSize    uint32
	ClientProgVer uint32
	ClientPID     uint32
	ClientTimeZone int32
	ClientLCID    uint32

	HostName   string
	UserName   string
	Password   string
	AppName    string
	ServerName string
	CtlIntName string
	Language   string
	Database   string

	// IntegratedAuth requests SSPI authentication instead of UserName/Password.
	IntegratedAuth bool

	// FedAuthExtension, when non-nil, is appended as a LOGIN7 feature
	// extension block (fedauth declare/continue, per spec.md's ADAL flow).
	FedAuthExtension []byte
}

// BuildLogin7 serializes a LOGIN7 packet body (header + variable fields).
func BuildLogin7(opts LoginOptions) []byte {
	hostName := codec.EncodeUTF16LE(opts.HostName)
	userName := codec.EncodeUTF16LE(opts.UserName)
	password := codec.EncodePassword(opts.Password)
	appName := codec.EncodeUTF16LE(opts.AppName)
	serverName := codec.EncodeUTF16LE(opts.ServerName)
	ctlIntName := codec.EncodeUTF16LE(opts.CtlIntName)
	language := codec.EncodeUTF16LE(opts.Language)
	database := codec.EncodeUTF16LE(opts.Database)

	var featureExt []byte
	if len(opts.FedAuthExtension) > 0 {
		featureExt = append(append([]byte{}, opts.FedAuthExtension...), 0xFF)
	}

	offset := uint16(Login7HeaderSize)

	type strField struct {
		data   []byte
		chars  uint16
	}
	hostF := strField{hostName, uint16(len([]rune(opts.HostName)))}
	userF := strField{userName, uint16(len([]rune(opts.UserName)))}
	passF := strField{password, uint16(len([]rune(opts.Password)))}
	appF := strField{appName, uint16(len([]rune(opts.AppName)))}
	serverF := strField{serverName, uint16(len([]rune(opts.ServerName)))}
	ctlF := strField{ctlIntName, uint16(len([]rune(opts.CtlIntName)))}
	langF := strField{language, uint16(len([]rune(opts.Language)))}
	dbF := strField{database, uint16(len([]rune(opts.Database)))}

	hostOff := offset
	offset += uint16(len(hostF.data))
	userOff := offset
	offset += uint16(len(userF.data))
	passOff := offset
	offset += uint16(len(passF.data))
	appOff := offset
	offset += uint16(len(appF.data))
	serverOff := offset
	offset += uint16(len(serverF.data))

	// LOGIN7's feature-extension block works like the donor's: the fixed
	// field holds a single offset/length pair pointing at a DWORD that
	// in turn holds the real offset of the feature chain.
	var extOff, extLen uint16
	var extPointer []byte
	if featureExt != nil {
		extOff = offset
		extLen = 4
		extPointer = make([]byte, 4)
		offset += 4
	}

	ctlOff := offset
	offset += uint16(len(ctlF.data))
	langOff := offset
	offset += uint16(len(langF.data))
	dbOff := offset
	offset += uint16(len(dbF.data))

	clientID := [6]byte{}

	if featureExt != nil {
		binary.LittleEndian.PutUint32(extPointer, uint32(offset))
	}

	var optFlags2 uint8 = flag2ODBC
	if opts.IntegratedAuth {
		optFlags2 |= flag2IntSecurity
	}
	var optFlags3 uint8
	if featureExt != nil {
		optFlags3 |= flag3Extension
	}

	header := make([]byte, Login7HeaderSize)
	// Length filled in after the full packet is assembled.
	binary.LittleEndian.PutUint32(header[4:8], opts.TDSVersion)
	binary.LittleEndian.PutUint32(header[8:12], opts.PacketSize)
	binary.LittleEndian.PutUint32(header[12:16], opts.ClientProgVer)
	binary.LittleEndian.PutUint32(header[16:20], opts.ClientPID)
	binary.LittleEndian.PutUint32(header[20:24], 0) // ConnectionID
	header[24] = flag1ByteOrder | flag1Char | flag1Float | flag1DumpLoad | flag1UseDB | flag1SetLang
	header[25] = optFlags2
	header[26] = typeFlagSQL
	header[27] = optFlags3
	binary.LittleEndian.PutUint32(header[28:32], uint32(opts.ClientTimeZone))
	binary.LittleEndian.PutUint32(header[32:36], opts.ClientLCID)

	binary.LittleEndian.PutUint16(header[36:38], hostOff)
	binary.LittleEndian.PutUint16(header[38:40], hostF.chars)
	binary.LittleEndian.PutUint16(header[40:42], userOff)
	binary.LittleEndian.PutUint16(header[42:44], userF.chars)
	binary.LittleEndian.PutUint16(header[44:46], passOff)
	binary.LittleEndian.PutUint16(header[46:48], passF.chars)
	binary.LittleEndian.PutUint16(header[48:50], appOff)
	binary.LittleEndian.PutUint16(header[50:52], appF.chars)
	binary.LittleEndian.PutUint16(header[52:54], serverOff)
	binary.LittleEndian.PutUint16(header[54:56], serverF.chars)
	binary.LittleEndian.PutUint16(header[56:58], extOff)
	binary.LittleEndian.PutUint16(header[58:60], extLen)
	binary.LittleEndian.PutUint16(header[60:62], ctlOff)
	binary.LittleEndian.PutUint16(header[62:64], ctlF.chars)
	binary.LittleEndian.PutUint16(header[64:66], langOff)
	binary.LittleEndian.PutUint16(header[66:68], langF.chars)
	binary.LittleEndian.PutUint16(header[68:70], dbOff)
	binary.LittleEndian.PutUint16(header[70:72], dbF.chars)
	copy(header[72:78], clientID[:])
	// SSPI length left zero (offset points at the current end of data): this client never sends SSPI tokens.
	binary.LittleEndian.PutUint16(header[78:80], offset)
	binary.LittleEndian.PutUint16(header[80:82], 0)
	// AtchDBFile left empty.
	binary.LittleEndian.PutUint16(header[82:84], offset)
	binary.LittleEndian.PutUint16(header[84:86], 0)
	// ChangePassword left empty.
	binary.LittleEndian.PutUint16(header[86:88], offset)
	binary.LittleEndian.PutUint16(header[88:90], 0)
	binary.LittleEndian.PutUint32(header[90:94], 0) // SSPILongLength

	var body []byte
	body = append(body, header...)
	body = append(body, hostF.data...)
	body = append(body, userF.data...)
	body = append(body, passF.data...)
	body = append(body, appF.data...)
	body = append(body, serverF.data...)
	if featureExt != nil {
		body = append(body, extPointer...)
	}
	body = append(body, ctlF.data...)
	body = append(body, langF.data...)
	body = append(body, dbF.data...)
	if featureExt != nil {
		body = append(body, featureExt...)
	}

	binary.LittleEndian.PutUint32(body[0:4], uint32(len(body)))
	return body
}
