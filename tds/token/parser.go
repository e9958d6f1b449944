package token

import (
	"encoding/binary"
	"errors"

	"github.com/ha1tch/tdsclient/tds/codec"
)

// State is the token-stream parser's current phase.
type State int

const (
	StateWaitingForToken State = iota
	StateInRow
	StateComplete
	StateError
)

// ErrNeedMoreData signals that the buffer fed so far does not contain
// a complete token; the caller should Feed more bytes and retry.
var ErrNeedMoreData = errors.New("token: need more data")

// Event is the decoded result of a single token, with exactly one of
// the pointer fields populated (matching Type).
type Event struct {
	Type          Type
	LoginAck      *LoginAck
	EnvChange     *EnvChange
	Done          *Done
	ColMetadata   *ColMetadata
	Row           *Row
	ServerMessage *ServerMessage
	FeatureExtAck *FeatureExtAck
	FedAuthInfo   *FedAuthInfo
	ReturnStatus  *ReturnStatus
	Order         *Order
	Raw           []byte // RETURNVALUE/SSPI: opaque, USHORT-length-prefixed payload
}

// Parser consumes a TDS response token stream incrementally: Feed adds
// bytes as they arrive off the wire, TryParseNext decodes and removes
// one token at a time. It tracks the column schema across ROW/NBCROW
// tokens and can be switched into skip mode to drain a cancelled
// request's remaining tokens without surfacing rows to the caller.
type Parser struct {
	buf     []byte
	columns []codec.Column
	state   State
	skip    bool
}

// NewParser creates an empty Parser.
func NewParser() *Parser {
	return &Parser{state: StateWaitingForToken}
}

// Feed appends newly-received bytes to the parser's internal buffer.
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// State returns the parser's current phase.
func (p *Parser) State() State { return p.state }

// SetSkipMode enables or disables cancellation-drain mode. While
// enabled, ROW/NBCROW tokens are parsed (to stay framed) but discarded
// rather than returned, and a non-attention-acknowledging DONE does
// not end the drain — only a DONE with DoneAttn set does.
func (p *Parser) SetSkipMode(skip bool) { p.skip = skip }

// Columns returns the most recently seen COLMETADATA schema.
func (p *Parser) Columns() []codec.Column { return p.columns }

// TryParseNext decodes and consumes the next token from the buffer.
// It returns (nil, ErrNeedMoreData) when the buffered bytes don't yet
// contain a full token. Skipped rows during drain mode are consumed
// but not returned — callers should loop until they get a non-nil
// event, an error, or ErrNeedMoreData.
func (p *Parser) TryParseNext() (*Event, error) {
	if len(p.buf) < 1 {
		return nil, ErrNeedMoreData
	}
	typ := Type(p.buf[0])

	switch typ {
	case TypeLoginAck:
		body, total, err := p.readUShortLenToken()
		if err != nil {
			return nil, err
		}
		ack, _, derr := DecodeLoginAck(body)
		if derr != nil {
			p.state = StateError
			return nil, derr
		}
		p.advance(total)
		return &Event{Type: typ, LoginAck: &ack}, nil

	case TypeEnvChange:
		body, total, err := p.readUShortLenToken()
		if err != nil {
			return nil, err
		}
		ec, _, derr := DecodeEnvChange(body)
		if derr != nil {
			p.state = StateError
			return nil, derr
		}
		p.advance(total)
		return &Event{Type: typ, EnvChange: &ec}, nil

	case TypeError, TypeInfo:
		body, total, err := p.readUShortLenToken()
		if err != nil {
			return nil, err
		}
		msg, _, derr := DecodeServerMessage(typ == TypeError, body)
		if derr != nil {
			p.state = StateError
			return nil, derr
		}
		p.advance(total)
		return &Event{Type: typ, ServerMessage: &msg}, nil

	case TypeOrder:
		body, total, err := p.readUShortLenToken()
		if err != nil {
			return nil, err
		}
		ord, _, derr := DecodeOrder(body)
		if derr != nil {
			p.state = StateError
			return nil, derr
		}
		p.advance(total)
		return &Event{Type: typ, Order: &ord}, nil

	case TypeReturnValue, TypeSSPI:
		body, total, err := p.readUShortLenToken()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, len(body))
		copy(raw, body)
		p.advance(total)
		return &Event{Type: typ, Raw: raw}, nil

	case TypeFedAuthInfo:
		body, total, err := p.readDWordLenToken()
		if err != nil {
			return nil, err
		}
		info, _, derr := DecodeFedAuthInfo(body)
		if derr != nil {
			p.state = StateError
			return nil, derr
		}
		p.advance(total)
		return &Event{Type: typ, FedAuthInfo: &info}, nil

	case TypeFeatureExtAck:
		ack, n, err := DecodeFeatureExtAck(p.buf[1:])
		if err != nil {
			return nil, ErrNeedMoreData
		}
		p.advance(1 + n)
		return &Event{Type: typ, FeatureExtAck: &ack}, nil

	case TypeReturnStatus:
		if len(p.buf) < 5 {
			return nil, ErrNeedMoreData
		}
		rs, _, derr := DecodeReturnStatus(p.buf[1:5])
		if derr != nil {
			p.state = StateError
			return nil, derr
		}
		p.advance(5)
		return &Event{Type: typ, ReturnStatus: &rs}, nil

	case TypeColMetadata:
		if len(p.buf) < 3 {
			return nil, ErrNeedMoreData
		}
		cm, n, err := DecodeColMetadata(p.buf[1:])
		if err != nil {
			return nil, ErrNeedMoreData
		}
		p.columns = cm.Columns
		p.state = StateInRow
		p.advance(1 + n)
		return &Event{Type: typ, ColMetadata: &cm}, nil

	case TypeRow:
		row, n, err := DecodeRow(p.buf[1:], p.columns)
		if err != nil {
			return nil, ErrNeedMoreData
		}
		p.advance(1 + n)
		if p.skip {
			return nil, nil
		}
		return &Event{Type: typ, Row: &row}, nil

	case TypeNBCRow:
		row, n, err := DecodeNBCRow(p.buf[1:], p.columns)
		if err != nil {
			return nil, ErrNeedMoreData
		}
		p.advance(1 + n)
		if p.skip {
			return nil, nil
		}
		return &Event{Type: typ, Row: &row}, nil

	case TypeDone, TypeDoneProc, TypeDoneInProc:
		if len(p.buf) < 13 {
			return nil, ErrNeedMoreData
		}
		done, _, derr := DecodeDone(typ, p.buf[1:13])
		if derr != nil {
			p.state = StateError
			return nil, derr
		}
		p.advance(13)

		if p.skip {
			if done.IsAttentionAck() {
				p.skip = false
				p.state = StateComplete
				return &Event{Type: typ, Done: &done}, nil
			}
			// Per cancellation-drain semantics, a DONE without the
			// attention-ack flag does not end the drain — more tokens
			// from statements still in flight may follow.
			return nil, nil
		}

		if done.IsFinal() {
			p.state = StateComplete
		}
		return &Event{Type: typ, Done: &done}, nil

	default:
		p.state = StateError
		return nil, errShort("unknown token type "+typ.String(), 0, 0)
	}
}

func (p *Parser) advance(n int) {
	p.buf = p.buf[n:]
}

// readUShortLenToken reads a token whose body is prefixed, after the
// 1-byte token type, by a 2-byte little-endian length.
func (p *Parser) readUShortLenToken() (body []byte, total int, err error) {
	if len(p.buf) < 3 {
		return nil, 0, ErrNeedMoreData
	}
	bodyLen := int(binary.LittleEndian.Uint16(p.buf[1:3]))
	total = 3 + bodyLen
	if len(p.buf) < total {
		return nil, 0, ErrNeedMoreData
	}
	return p.buf[3:total], total, nil
}

// readDWordLenToken reads a token whose body is prefixed, after the
// 1-byte token type, by a 4-byte little-endian length.
func (p *Parser) readDWordLenToken() (body []byte, total int, err error) {
	if len(p.buf) < 5 {
		return nil, 0, ErrNeedMoreData
	}
	bodyLen := int(binary.LittleEndian.Uint32(p.buf[1:5]))
	total = 5 + bodyLen
	if len(p.buf) < total {
		return nil, 0, ErrNeedMoreData
	}
	return p.buf[5:total], total, nil
}
