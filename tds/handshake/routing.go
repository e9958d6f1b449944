package handshake

import (
	"fmt"
	"strings"

	"github.com/ha1tch/tdsclient/tds/token"
)

// MaxRoutingHops bounds how many ENVCHANGE routing redirects a single
// connection attempt will follow before giving up.
const MaxRoutingHops = 3

// RouteTarget is a resolved redirect destination.
type RouteTarget struct {
	Host     string
	Instance string
	Port     uint16
	SNIName  string // full server name (including instance) used as TLS SNI
}

// ResolveRoute turns a ROUTING ENVCHANGE payload into a connect target.
// AltServer may carry an "host\instance" form; the instance, if present,
// is kept as part of the SNI name per spec.md's routing semantics.
func ResolveRoute(info *token.RoutingInfo) (RouteTarget, error) {
	if info == nil {
		return RouteTarget{}, fmt.Errorf("handshake: nil routing info")
	}
	name := info.AltServer
	if name == "" {
		return RouteTarget{}, fmt.Errorf("handshake: routing redirect missing alt server name")
	}

	host := name
	instance := ""
	if idx := strings.IndexByte(name, '\\'); idx >= 0 {
		host = name[:idx]
		instance = name[idx+1:]
	}

	return RouteTarget{
		Host:     host,
		Instance: instance,
		Port:     info.ProtocolProperty,
		SNIName:  name,
	}, nil
}
