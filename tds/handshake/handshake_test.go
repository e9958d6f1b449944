package handshake

import (
	"testing"

	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/ha1tch/tdsclient/tds/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreloginRoundTrip(t *testing.T) {
	req := PreloginRequest{
		Version:         VerTDS74,
		Encryption:      EncryptOn,
		Instance:        "SQLEXPRESS",
		ThreadID:        1234,
		MARS:            0,
		FedAuthRequired: true,
	}
	wire := req.Encode()

	resp, err := ParsePreloginResponse(wire)
	require.NoError(t, err)
	assert.Equal(t, req.Version, resp.Version)
	assert.Equal(t, req.Encryption, resp.Encryption)
	assert.Equal(t, req.Instance, resp.Instance)
	assert.Equal(t, req.ThreadID, resp.ThreadID)
	assert.True(t, resp.FedAuthRequired)
}

func TestPreloginRoundTripNoFedAuth(t *testing.T) {
	req := PreloginRequest{Version: VerTDS74, Encryption: EncryptOff}
	resp, err := ParsePreloginResponse(req.Encode())
	require.NoError(t, err)
	assert.False(t, resp.FedAuthRequired)
	assert.Equal(t, EncryptOff, resp.Encryption)
}

func TestBuildLogin7FieldOffsetsAreConsistent(t *testing.T) {
	opts := LoginOptions{
		TDSVersion:    VerTDS74,
		PacketSize:    4096,
		ClientProgVer: 0x01000000,
		ClientPID:     42,
		HostName:      "workstation",
		UserName:      "sa",
		Password:      "Sup3rSecret!",
		AppName:       "tdsclient-test",
		ServerName:    "db.example.com",
		CtlIntName:    "tdsclient",
		Database:      "master",
	}
	wire := BuildLogin7(opts)

	require.GreaterOrEqual(t, len(wire), Login7HeaderSize)
	assert.Equal(t, uint32(len(wire)), leUint32(wire[0:4]))
	assert.Equal(t, opts.TDSVersion, leUint32(wire[4:8]))

	userOff, userLen := leUint16(wire[40:42]), leUint16(wire[42:44])
	gotUser := codec.DecodeUTF16LE(wire[userOff : userOff+userLen*2])
	assert.Equal(t, opts.UserName, gotUser)

	passOff, passLen := leUint16(wire[44:46]), leUint16(wire[46:48])
	gotPass := codec.DecodePassword(wire[passOff : passOff+passLen*2])
	assert.Equal(t, opts.Password, gotPass)

	dbOff, dbLen := leUint16(wire[68:70]), leUint16(wire[70:72])
	gotDB := codec.DecodeUTF16LE(wire[dbOff : dbOff+dbLen*2])
	assert.Equal(t, opts.Database, gotDB)
}

func TestBuildLogin7WithFedAuthExtensionSetsFlag(t *testing.T) {
	ext := BuildFedAuthFeatureExt(FedAuthLibraryADAL, true, ADALWorkflowUserPassword)
	opts := LoginOptions{
		TDSVersion:       VerTDS74,
		HostName:         "h",
		ServerName:       "s",
		CtlIntName:       "tdsclient",
		FedAuthExtension: ext,
	}
	wire := BuildLogin7(opts)
	optionFlags3 := wire[27]
	assert.NotZero(t, optionFlags3&flag3Extension)
}

func TestBuildFedAuthTokenMessage(t *testing.T) {
	tok := []byte("opaque-jwt-bytes")
	msg := BuildFedAuthTokenMessage(tok)
	require.Len(t, msg, 8+len(tok))
	assert.Equal(t, uint32(4+len(tok)), leUint32(msg[0:4]))
	assert.Equal(t, uint32(len(tok)), leUint32(msg[4:8]))
	assert.Equal(t, tok, msg[8:])
}

func TestResolveRouteSplitsInstance(t *testing.T) {
	info := &token.RoutingInfo{Protocol: 0, ProtocolProperty: 11530, AltServer: `redirect-target\SQLEXPRESS`}
	target, err := ResolveRoute(info)
	require.NoError(t, err)
	assert.Equal(t, "redirect-target", target.Host)
	assert.Equal(t, "SQLEXPRESS", target.Instance)
	assert.Equal(t, uint16(11530), target.Port)
	assert.Equal(t, `redirect-target\SQLEXPRESS`, target.SNIName)
}

func TestResolveRouteRejectsEmptyAltServer(t *testing.T) {
	_, err := ResolveRoute(&token.RoutingInfo{})
	assert.Error(t, err)
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
