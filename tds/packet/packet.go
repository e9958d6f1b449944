// Package packet implements TDS packet framing: the 8-byte header,
// serialization, incremental parsing of a byte stream, and fragmentation
// of an outgoing logical message into packets no larger than the
// negotiated packet size.
package packet

import (
	"encoding/binary"
	"fmt"
)

// Type identifies the kind of TDS packet.
type Type uint8

const (
	TypeSQLBatch     Type = 1
	TypeRPCRequest   Type = 3
	TypeReply        Type = 4
	TypeAttention    Type = 6
	TypeBulkLoad     Type = 7
	TypeFedAuthToken Type = 8
	TypeTransMgrReq  Type = 14
	TypePrelogin     Type = 18
	TypeLogin7       Type = 16
	TypeNormal       Type = 15
)

func (t Type) String() string {
	switch t {
	case TypeSQLBatch:
		return "SQL_BATCH"
	case TypeRPCRequest:
		return "RPC_REQUEST"
	case TypeReply:
		return "REPLY"
	case TypeAttention:
		return "ATTENTION"
	case TypeBulkLoad:
		return "BULK_LOAD"
	case TypeFedAuthToken:
		return "FEDAUTH_TOKEN"
	case TypeTransMgrReq:
		return "TRANS_MGR_REQ"
	case TypePrelogin:
		return "PRELOGIN"
	case TypeLogin7:
		return "LOGIN7"
	case TypeNormal:
		return "NORMAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Status holds the packet status bits.
type Status uint8

const (
	StatusNormal                  Status = 0x00
	StatusEOM                     Status = 0x01
	StatusIgnore                  Status = 0x02
	StatusResetConnection         Status = 0x08
	StatusResetConnectionSkipTran Status = 0x10
)

const (
	// HeaderSize is the fixed 8-byte TDS packet header.
	HeaderSize = 8

	// DefaultPacketSize is used before login negotiates a different size.
	DefaultPacketSize = 4096

	// MinPacketSize is the smallest packet size a server may negotiate.
	MinPacketSize = 512

	// MaxPacketSize is the largest length a single packet may declare;
	// Parse rejects a header Length above it.
	MaxPacketSize = 32767
)

// Header is the 8-byte TDS packet header. Length, SPID are big-endian on
// the wire; PacketID and Window are single bytes.
type Header struct {
	Type     Type
	Status   Status
	Length   uint16
	SPID     uint16
	PacketID uint8
	Window   uint8
}

// IsLastPacket reports whether this header carries the EOM bit.
func (h Header) IsLastPacket() bool { return h.Status&StatusEOM != 0 }

// PayloadLength returns the number of payload bytes this header declares.
func (h Header) PayloadLength() int {
	if int(h.Length) <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// Packet is one physical TDS packet: header plus payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// Serialize renders the packet to wire bytes, recomputing Length from
// len(Payload).
func (p *Packet) Serialize() []byte {
	total := HeaderSize + len(p.Payload)
	buf := make([]byte, total)
	buf[0] = byte(p.Header.Type)
	buf[1] = byte(p.Header.Status)
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], p.Header.SPID)
	buf[6] = p.Header.PacketID
	buf[7] = p.Header.Window
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// ErrNeedMoreData is returned by Parse when buf does not yet contain a
// complete packet.
var ErrNeedMoreData = fmt.Errorf("packet: need more data")

// Parse attempts to decode one packet from the front of buf. It returns
// the packet, the number of bytes consumed, and an error. A nil error
// with consumed==0 never happens; ErrNeedMoreData means the caller
// should read more bytes and retry with a larger buf.
func Parse(buf []byte) (pkt Packet, consumed int, err error) {
	if len(buf) < HeaderSize {
		return Packet{}, 0, ErrNeedMoreData
	}

	length := binary.BigEndian.Uint16(buf[2:4])
	if int(length) < HeaderSize || int(length) > MaxPacketSize {
		return Packet{}, 0, fmt.Errorf("packet: invalid length %d (must be in [%d,%d])", length, HeaderSize, MaxPacketSize)
	}
	if len(buf) < int(length) {
		return Packet{}, 0, ErrNeedMoreData
	}

	h := Header{
		Type:     Type(buf[0]),
		Status:   Status(buf[1]),
		Length:   length,
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}

	payload := make([]byte, h.PayloadLength())
	copy(payload, buf[HeaderSize:length])

	return Packet{Header: h, Payload: payload}, int(length), nil
}

// Fragment splits payload into a sequence of packets of the given
// logical type, each no larger than maxPacketSize, with packet IDs
// starting at 1 and the EOM bit set only on the final packet. An empty
// payload still yields exactly one (empty) packet, matching the wire
// requirement that every logical message end in an EOM packet.
func Fragment(payload []byte, typ Type, maxPacketSize int) []Packet {
	if maxPacketSize < MinPacketSize {
		maxPacketSize = MinPacketSize
	}
	maxChunk := maxPacketSize - HeaderSize
	if maxChunk <= 0 {
		maxChunk = DefaultPacketSize - HeaderSize
	}

	var packets []Packet
	id := uint8(1)
	off := 0
	for {
		end := off + maxChunk
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		status := StatusNormal
		if last {
			status |= StatusEOM
		}
		packets = append(packets, Packet{
			Header: Header{
				Type:     typ,
				Status:   status,
				PacketID: id,
			},
			Payload: payload[off:end],
		})
		if last {
			break
		}
		off = end
		id++
	}
	return packets
}
