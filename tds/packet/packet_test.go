package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFragmentReassembleRoundTrip(t *testing.T) {
	sizes := []int{MinPacketSize, 1024, 4096, MaxPacketSize}
	for _, maxSize := range sizes {
		payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 20000)

		pkts := Fragment(payload, TypeSQLBatch, maxSize)
		require.NotEmpty(t, pkts)

		var reassembled []byte
		for i, p := range pkts {
			require.Equal(t, uint8(i+1), p.Header.PacketID)
			wire := p.Serialize()
			require.LessOrEqual(t, len(wire), maxSize)
			if i < len(pkts)-1 {
				require.False(t, p.Header.IsLastPacket())
			} else {
				require.True(t, p.Header.IsLastPacket())
			}
			reassembled = append(reassembled, p.Payload...)
		}
		require.Equal(t, payload, reassembled)
	}
}

func TestFragmentEmptyPayloadYieldsOnePacket(t *testing.T) {
	pkts := Fragment(nil, TypeAttention, DefaultPacketSize)
	require.Len(t, pkts, 1)
	require.True(t, pkts[0].Header.IsLastPacket())
	require.Equal(t, uint8(1), pkts[0].Header.PacketID)
}

func TestParseNeedsMoreData(t *testing.T) {
	_, _, err := Parse([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrNeedMoreData)

	hdr := Header{Type: TypeSQLBatch, Status: StatusEOM, PacketID: 1}
	p := Packet{Header: hdr, Payload: []byte("hello")}
	wire := p.Serialize()

	_, _, err = Parse(wire[:HeaderSize-1])
	require.ErrorIs(t, err, ErrNeedMoreData)

	_, _, err = Parse(wire[:len(wire)-1])
	require.ErrorIs(t, err, ErrNeedMoreData)
}

func TestParseRejectsOutOfRangeLength(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[2] = 0x00
	buf[3] = 0x04 // length = 4, less than HeaderSize
	_, _, err := Parse(buf)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNeedMoreData)
}

func TestReassemblerAcrossPartialReads(t *testing.T) {
	payload := bytes.Repeat([]byte{0x7, 0x8}, 3000)
	pkts := Fragment(payload, TypeReply, 1024)

	var wire []byte
	for _, p := range pkts {
		wire = append(wire, p.Serialize()...)
	}

	r := NewReassembler()
	var got []byte
	var typ Type
	var ok bool
	for i := 0; i < len(wire); i += 37 { // ragged partial reads
		end := i + 37
		if end > len(wire) {
			end = len(wire)
		}
		r.Feed(wire[i:end])
		out, t2, complete, err := r.TryComplete()
		require.NoError(t, err)
		if complete {
			got = out
			typ = t2
			ok = true
		}
	}
	require.True(t, ok)
	require.Equal(t, TypeReply, typ)
	require.Equal(t, payload, got)
}
