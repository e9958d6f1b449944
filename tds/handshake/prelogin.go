// Package handshake builds the client side of the TDS PRELOGIN/LOGIN7
// exchange: encryption negotiation, password or federated-auth login,
// and routing-redirect handling.
package handshake

import (
	"encoding/binary"
	"fmt"
)

// TDS protocol versions the client may offer in PRELOGIN/LOGIN7.
const (
	VerTDS70     uint32 = 0x70000000
	VerTDS71     uint32 = 0x71000000
	VerTDS71Rev1 uint32 = 0x71000001
	VerTDS72     uint32 = 0x72090002
	VerTDS73A    uint32 = 0x730A0003
	VerTDS73B    uint32 = 0x730B0003
	VerTDS74     uint32 = 0x74000004
)

// Prelogin option tokens.
const (
	optVersion    uint8 = 0x00
	optEncryption uint8 = 0x01
	optInstOpt    uint8 = 0x02
	optThreadID   uint8 = 0x03
	optMARS       uint8 = 0x04
	optTraceID    uint8 = 0x05
	optFedAuth    uint8 = 0x06
	optNonce      uint8 = 0x07
	optTerminator uint8 = 0xFF
)

// Encryption negotiation values.
const (
	EncryptOff    uint8 = 0x00
	EncryptOn     uint8 = 0x01
	EncryptNotSup uint8 = 0x02
	EncryptReq    uint8 = 0x03
)

// PreloginRequest is the client's outbound PRELOGIN option set.
type PreloginRequest struct {
	Version        uint32
	SubBuild       uint16
	Encryption     uint8
	Instance       string
	ThreadID       uint32
	MARS           uint8
	FedAuthRequired bool
}

// Encode serializes the PRELOGIN request option list.
func (r PreloginRequest) Encode() []byte {
	versionBytes := make([]byte, 6)
	binary.BigEndian.PutUint32(versionBytes, r.Version)
	binary.BigEndian.PutUint16(versionBytes[4:], r.SubBuild)

	instanceBytes := append([]byte(r.Instance), 0)

	type field struct {
		token uint8
		data  []byte
	}
	fields := []field{
		{optVersion, versionBytes},
		{optEncryption, []byte{r.Encryption}},
		{optInstOpt, instanceBytes},
		{optThreadID, encodeUint32(r.ThreadID)},
		{optMARS, []byte{r.MARS}},
	}
	if r.FedAuthRequired {
		fields = append(fields, field{optFedAuth, []byte{1}})
	}

	headerSize := len(fields)*5 + 1
	offset := uint16(headerSize)

	var out []byte
	var header []byte
	var body []byte
	for _, f := range fields {
		hdr := make([]byte, 5)
		hdr[0] = f.token
		binary.BigEndian.PutUint16(hdr[1:3], offset)
		binary.BigEndian.PutUint16(hdr[3:5], uint16(len(f.data)))
		header = append(header, hdr...)
		body = append(body, f.data...)
		offset += uint16(len(f.data))
	}
	out = append(out, header...)
	out = append(out, optTerminator)
	out = append(out, body...)
	return out
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// PreloginResponse is the server's PRELOGIN reply.
type PreloginResponse struct {
	Version        uint32
	SubBuild       uint16
	Encryption     uint8
	Instance       string
	ThreadID       uint32
	MARS           uint8
	FedAuthRequired bool
}

// ParsePreloginResponse decodes the server's PRELOGIN option list.
func ParsePreloginResponse(data []byte) (PreloginResponse, error) {
	if len(data) == 0 {
		return PreloginResponse{}, fmt.Errorf("handshake: empty prelogin response")
	}

	type option struct {
		offset uint16
		length uint16
	}
	options := make(map[uint8]option)
	pos := 0
	for {
		if pos >= len(data) {
			return PreloginResponse{}, fmt.Errorf("handshake: prelogin response truncated reading options")
		}
		token := data[pos]
		if token == optTerminator {
			break
		}
		if pos+5 > len(data) {
			return PreloginResponse{}, fmt.Errorf("handshake: prelogin option header truncated")
		}
		options[token] = option{
			offset: binary.BigEndian.Uint16(data[pos+1 : pos+3]),
			length: binary.BigEndian.Uint16(data[pos+3 : pos+5]),
		}
		pos += 5
	}

	var resp PreloginResponse
	for token, opt := range options {
		start := int(opt.offset)
		end := start + int(opt.length)
		if end > len(data) {
			return PreloginResponse{}, fmt.Errorf("handshake: prelogin option %d out of bounds", token)
		}
		value := data[start:end]

		switch token {
		case optVersion:
			if len(value) >= 6 {
				resp.Version = binary.BigEndian.Uint32(value[0:4])
				resp.SubBuild = binary.BigEndian.Uint16(value[4:6])
			}
		case optEncryption:
			if len(value) >= 1 {
				resp.Encryption = value[0]
			}
		case optInstOpt:
			for i, b := range value {
				if b == 0 {
					resp.Instance = string(value[:i])
					break
				}
			}
		case optThreadID:
			if len(value) >= 4 {
				resp.ThreadID = binary.BigEndian.Uint32(value)
			}
		case optMARS:
			if len(value) >= 1 {
				resp.MARS = value[0]
			}
		case optFedAuth:
			if len(value) >= 1 {
				resp.FedAuthRequired = value[0] != 0
			}
		}
	}

	return resp, nil
}
