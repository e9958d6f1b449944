package handshake

import "encoding/binary"

// Federated-auth library identifiers carried in the LOGIN7 FEDAUTH
// feature extension.
const (
	FedAuthLibrarySecurityToken uint8 = 0x01
	FedAuthLibraryADAL          uint8 = 0x02
)

// ADAL workflow identifiers, used only when FedAuthLibrary is ADAL.
const (
	ADALWorkflowUserPassword uint8 = 0x01
	ADALWorkflowIntegrated   uint8 = 0x02
)

const featureIDFedAuth uint8 = 0x02

// TokenProvider fetches a bearer token for federated authentication.
// Implementations typically wrap an Azure AD (ADAL/MSAL) client.
type TokenProvider interface {
	// AccessToken returns a bearer token valid for the given resource
	// (e.g. "https://database.windows.net/").
	AccessToken(resource string) (string, error)
}

// BuildFedAuthFeatureExt encodes the FEDAUTH feature extension entry
// sent in the initial LOGIN7 to declare federated-auth intent. The
// access token itself is never included here: it follows in a separate
// packet once the server has replied with FEDAUTHINFO.
func BuildFedAuthFeatureExt(library uint8, fedAuthEcho bool, workflow uint8) []byte {
	optionsByte := library & 0x7F
	if fedAuthEcho {
		optionsByte |= 0x80
	}

	data := []byte{optionsByte}
	if library == FedAuthLibraryADAL {
		data = append(data, workflow)
	}

	entry := make([]byte, 1+4)
	entry[0] = featureIDFedAuth
	binary.LittleEndian.PutUint32(entry[1:5], uint32(len(data)))
	entry = append(entry, data...)
	return entry
}

// BuildFedAuthTokenMessage builds the standalone packet body carrying
// the access token once it has been obtained from the token provider.
// Per spec.md, this is sent in its own packet with the packet-id
// sequence restarted at 1.
func BuildFedAuthTokenMessage(token []byte) []byte {
	tokenLen := uint32(len(token))
	totalLen := 4 + tokenLen // token-length field + token bytes
	out := make([]byte, 4+4)
	binary.LittleEndian.PutUint32(out[0:4], totalLen)
	binary.LittleEndian.PutUint32(out[4:8], tokenLen)
	out = append(out, token...)
	return out
}
