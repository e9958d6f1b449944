package handshake

import (
	"context"
	"fmt"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/tds/packet"
	"github.com/ha1tch/tdsclient/tds/socket"
	"github.com/ha1tch/tdsclient/tds/token"
)

// EncryptMode selects how PRELOGIN negotiates transport encryption.
type EncryptMode uint8

const (
	EncryptModeOff      EncryptMode = iota // never encrypt, even if the server asks
	EncryptModePreferred                   // encrypt the whole connection if the server offers it, else plaintext
	EncryptModeRequired                    // refuse to proceed unless the channel is encrypted
)

// ConnectOptions configures one handshake attempt, including any
// routing redirects that attempt spawns.
type ConnectOptions struct {
	Host     string
	Port     uint16
	Instance string

	Database string
	AppName  string
	HostName string

	UserName string
	Password string

	TokenProvider   TokenProvider
	FedAuthResource string
	FedAuthWorkflow uint8 // ADALWorkflowUserPassword / ADALWorkflowIntegrated

	Encrypt EncryptMode

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	PacketSize       uint32
}

// Result is what a successful handshake hands back to the connection
// layer: the live socket plus what the server told us during login.
type Result struct {
	Socket        *socket.Socket
	PacketSize    uint32
	LoginAck      token.LoginAck
	Database      string
	Collation     []byte
	FeatureExtAck *token.FeatureExtAck
	RoutedVia     []RouteTarget
}

// Do runs PRELOGIN, encryption negotiation, LOGIN7 (including a
// federated-auth exchange when a TokenProvider is set), and follows any
// ENVCHANGE routing redirect the server issues, up to MaxRoutingHops
// times.
func Do(ctx context.Context, opts ConnectOptions) (*Result, error) {
	log := tdslog.For(tdslog.LayerHandshake)

	host, port, sni := opts.Host, opts.Port, opts.Host
	if opts.Instance != "" {
		sni = opts.Host + `\` + opts.Instance
	}

	var hops []RouteTarget
	for attempt := 0; ; attempt++ {
		if attempt > MaxRoutingHops {
			return nil, tdserr.Newf(tdserr.KindProtocol, tdserr.ErrCodeRoutingLoop, tdslog.LayerHandshake,
				"exceeded maximum routing redirects (%d)", MaxRoutingHops)
		}

		log.Info("connecting", "host", host, "port", port)
		sock, err := socket.Connect(host, port, opts.ConnectTimeout)
		if err != nil {
			return nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerHandshake,
				fmt.Sprintf("connect to %s:%d", host, port))
		}

		result, route, rerr := runOnce(ctx, sock, opts, sni)
		if rerr != nil {
			sock.Close()
			return nil, rerr
		}
		if route == nil {
			result.RoutedVia = hops
			return result, nil
		}

		// Routing redirect: close this connection and reconnect to the
		// alternate server. The SNI for the new TLS handshake is the
		// full name the server gave us, instance included.
		sock.Close()
		hops = append(hops, *route)
		host, port, sni = route.Host, route.Port, route.SNIName
		log.Info("following routing redirect", "target", sni)
	}
}

// runOnce performs one PRELOGIN/LOGIN7 attempt over an already-connected
// socket. It returns a non-nil route when the server redirected us
// instead of completing login.
func runOnce(ctx context.Context, sock *socket.Socket, opts ConnectOptions, sniName string) (*Result, *RouteTarget, error) {
	log := tdslog.For(tdslog.LayerHandshake)
	wantFedAuth := opts.TokenProvider != nil

	preloginReq := PreloginRequest{
		Version:         VerTDS74,
		Encryption:      preloginEncryptionByte(opts.Encrypt),
		Instance:        opts.Instance,
		FedAuthRequired: wantFedAuth,
	}
	if err := sendMessage(sock, packet.TypePrelogin, preloginReq.Encode(), packet.DefaultPacketSize); err != nil {
		return nil, nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerHandshake, "send prelogin")
	}

	preloginRespBytes, _, err := recvMessage(sock, opts.HandshakeTimeout)
	if err != nil {
		return nil, nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerHandshake, "receive prelogin response")
	}
	preloginResp, err := ParsePreloginResponse(preloginRespBytes)
	if err != nil {
		return nil, nil, tdserr.Wrap(err, tdserr.KindProtocol, tdserr.ErrCodeProtocolError, tdslog.LayerHandshake, "parse prelogin response")
	}

	serverEncrypts := preloginResp.Encryption == EncryptOn || preloginResp.Encryption == EncryptReq
	if opts.Encrypt == EncryptModeRequired && !serverEncrypts {
		return nil, nil, tdserr.New(tdserr.KindProtocol, tdserr.ErrCodeHandshakeFailed, tdslog.LayerHandshake,
			"server refused encryption but EncryptModeRequired was set")
	}

	nextPacketID := uint8(2)
	if serverEncrypts && opts.Encrypt != EncryptModeOff {
		log.Info("negotiated TLS", "serverOffered", preloginResp.Encryption)
		if err := sock.EnableTLS(nextPacketID, opts.HandshakeTimeout, sniName); err != nil {
			return nil, nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeTLSError, tdslog.LayerHandshake, "TLS handshake")
		}
	}

	login := LoginOptions{
		TDSVersion:    VerTDS74,
		PacketSize:    opts.PacketSize,
		ClientProgVer: 0x01000000,
		ClientPID:     uint32(1),
		HostName:      opts.HostName,
		AppName:       opts.AppName,
		ServerName:    sniName,
		CtlIntName:    "tdsclient",
		Language:      "",
		Database:      opts.Database,
	}
	if wantFedAuth {
		login.FedAuthExtension = BuildFedAuthFeatureExt(FedAuthLibraryADAL, preloginResp.FedAuthRequired, opts.FedAuthWorkflow)
	} else {
		login.UserName = opts.UserName
		login.Password = opts.Password
	}

	if err := sendMessage(sock, packet.TypeLogin7, BuildLogin7(login), packet.DefaultPacketSize); err != nil {
		return nil, nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerHandshake, "send login7")
	}

	result := &Result{Socket: sock, PacketSize: opts.PacketSize}
	fedAuthDone := !wantFedAuth

	for {
		body, _, err := recvMessage(sock, opts.HandshakeTimeout)
		if err != nil {
			return nil, nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerHandshake, "receive login response")
		}

		p := token.NewParser()
		p.Feed(body)

		for {
			ev, perr := p.TryParseNext()
			if perr == token.ErrNeedMoreData {
				break
			}
			if perr != nil {
				return nil, nil, tdserr.Wrap(perr, tdserr.KindProtocol, tdserr.ErrCodeTokenMalformed, tdslog.LayerHandshake, "parse login response token")
			}
			if ev == nil {
				continue
			}

			switch {
			case ev.ServerMessage != nil && ev.ServerMessage.IsError:
				return nil, nil, tdserr.Server(ev.ServerMessage.Number, ev.ServerMessage.State, ev.ServerMessage.Class,
					ev.ServerMessage.Message, ev.ServerMessage.ProcName, ev.ServerMessage.LineNumber)

			case ev.FedAuthInfo != nil:
				if opts.TokenProvider == nil {
					return nil, nil, tdserr.New(tdserr.KindAuthentication, tdserr.ErrCodeFedAuthRejected, tdslog.LayerHandshake,
						"server requested federated auth but no token provider was configured")
				}
				tok, terr := opts.TokenProvider.AccessToken(opts.FedAuthResource)
				if terr != nil {
					return nil, nil, tdserr.Wrap(terr, tdserr.KindAuthentication, tdserr.ErrCodeFedAuthRejected, tdslog.LayerHandshake,
						"acquire federated-auth token")
				}
				msg := BuildFedAuthTokenMessage([]byte(tok))
				if err := sendMessage(sock, packet.TypeFedAuthToken, msg, packet.DefaultPacketSize); err != nil {
					return nil, nil, tdserr.Wrap(err, tdserr.KindTransport, tdserr.ErrCodeConnectionFailed, tdslog.LayerHandshake, "send fedauth token")
				}
				fedAuthDone = true

			case ev.LoginAck != nil:
				result.LoginAck = *ev.LoginAck

			case ev.EnvChange != nil:
				switch ev.EnvChange.SubType {
				case token.EnvDatabase:
					result.Database = ev.EnvChange.NewValue
				case token.EnvSQLCollation:
					result.Collation = ev.EnvChange.NewCollation
				case token.EnvPacketSize:
					fmt.Sscanf(ev.EnvChange.NewValue, "%d", &result.PacketSize)
				case token.EnvRouting:
					if ev.EnvChange.Routing != nil {
						route, rerr := ResolveRoute(ev.EnvChange.Routing)
						if rerr != nil {
							return nil, nil, tdserr.Wrap(rerr, tdserr.KindProtocol, tdserr.ErrCodeProtocolError, tdslog.LayerHandshake, "resolve routing redirect")
						}
						return nil, &route, nil
					}
				}

			case ev.FeatureExtAck != nil:
				result.FeatureExtAck = ev.FeatureExtAck

			case ev.Done != nil:
				if ev.Done.HasError() {
					return nil, nil, tdserr.New(tdserr.KindServer, tdserr.ErrCodeServerError, tdslog.LayerHandshake, "login failed (DONE error status)")
				}
				if ev.Done.IsFinal() {
					if !fedAuthDone {
						return nil, nil, tdserr.New(tdserr.KindAuthentication, tdserr.ErrCodeFedAuthRejected, tdslog.LayerHandshake,
							"login completed without a federated-auth exchange")
					}
					return result, nil, nil
				}
			}
		}
	}
}

func preloginEncryptionByte(mode EncryptMode) uint8 {
	switch mode {
	case EncryptModeOff:
		return EncryptOff
	case EncryptModeRequired:
		return EncryptReq
	default:
		return EncryptOn
	}
}

// sendMessage fragments payload into packets of the given type and
// writes each one to the socket in turn.
func sendMessage(sock *socket.Socket, typ packet.Type, payload []byte, maxPacketSize int) error {
	for _, pkt := range packet.Fragment(payload, typ, maxPacketSize) {
		if err := sock.Send(pkt.Serialize()); err != nil {
			return err
		}
	}
	return nil
}

// recvMessage reads off the socket until a full logical message (one or
// more packets ending in EOM) has been reassembled.
func recvMessage(sock *socket.Socket, timeout time.Duration) ([]byte, packet.Type, error) {
	r := packet.NewReassembler()
	buf := make([]byte, 8192)
	for {
		n, err := sock.Receive(buf, timeout)
		if err != nil {
			return nil, 0, err
		}
		if n > 0 {
			r.Feed(buf[:n])
		}
		payload, typ, ok, rerr := r.TryComplete()
		if rerr != nil {
			return nil, 0, rerr
		}
		if ok {
			return payload, typ, nil
		}
	}
}
