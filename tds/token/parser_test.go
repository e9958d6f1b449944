package token

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeLoginAckToken(iface uint8, tdsVersion uint32, progName string, progVersion uint32) []byte {
	nameBytes := codec.EncodeUTF16LE(progName)
	var body bytes.Buffer
	body.WriteByte(iface)
	binary.Write(&body, binary.BigEndian, tdsVersion)
	body.WriteByte(byte(len(progName)))
	body.Write(nameBytes)
	binary.Write(&body, binary.BigEndian, progVersion)

	var out bytes.Buffer
	out.WriteByte(byte(TypeLoginAck))
	binary.Write(&out, binary.LittleEndian, uint16(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func encodeEnvChangeDatabase(newVal, oldVal string) []byte {
	newBytes := codec.EncodeUTF16LE(newVal)
	oldBytes := codec.EncodeUTF16LE(oldVal)
	var body bytes.Buffer
	body.WriteByte(EnvDatabase)
	body.WriteByte(byte(len(newVal)))
	body.Write(newBytes)
	body.WriteByte(byte(len(oldVal)))
	body.Write(oldBytes)

	var out bytes.Buffer
	out.WriteByte(byte(TypeEnvChange))
	binary.Write(&out, binary.LittleEndian, uint16(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func encodeDoneToken(typ Type, status, curCmd uint16, rowCount uint64) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(typ))
	binary.Write(&out, binary.LittleEndian, status)
	binary.Write(&out, binary.LittleEndian, curCmd)
	binary.Write(&out, binary.LittleEndian, rowCount)
	return out.Bytes()
}

func encodeColMetadata(columns []codec.Column) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(TypeColMetadata))
	binary.Write(&out, binary.LittleEndian, uint16(len(columns)))
	for _, col := range columns {
		binary.Write(&out, binary.LittleEndian, col.UserType)
		flags := col.Flags
		if col.Nullable {
			flags |= codec.ColFlagNullable
		}
		binary.Write(&out, binary.LittleEndian, flags)
		out.WriteByte(byte(col.Type))
		switch col.Type {
		case codec.TypeIntN:
			out.WriteByte(byte(col.Length))
		case codec.TypeBigVarChar, codec.TypeBigChar:
			binary.Write(&out, binary.LittleEndian, uint16(col.Length))
			out.Write(codec.DefaultCollation[:])
		}
		out.WriteByte(byte(len(col.Name)))
		out.Write(codec.EncodeUTF16LE(col.Name))
	}
	return out.Bytes()
}

func TestParserLoginSequence(t *testing.T) {
	var stream []byte
	stream = append(stream, encodeLoginAckToken(LoginAckSQL2012, 0x74000004, "tdsclient", 0x0F000000)...)
	stream = append(stream, encodeEnvChangeDatabase("mydb", "master")...)
	stream = append(stream, encodeDoneToken(TypeDone, DoneFinal, 0, 0)...)

	p := NewParser()
	p.Feed(stream)

	ev, err := p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev.LoginAck)
	assert.Equal(t, "tdsclient", ev.LoginAck.ProgName)
	assert.Equal(t, uint32(0x74000004), ev.LoginAck.TDSVersion)

	ev, err = p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev.EnvChange)
	assert.Equal(t, EnvDatabase, ev.EnvChange.SubType)
	assert.Equal(t, "mydb", ev.EnvChange.NewValue)
	assert.Equal(t, "master", ev.EnvChange.OldValue)

	ev, err = p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev.Done)
	assert.True(t, ev.Done.IsFinal())
	assert.Equal(t, StateComplete, p.State())
}

func TestParserNeedsMoreData(t *testing.T) {
	full := encodeLoginAckToken(LoginAckSQL2012, 0x74000004, "x", 1)
	p := NewParser()
	p.Feed(full[:len(full)-2])
	_, err := p.TryParseNext()
	assert.ErrorIs(t, err, ErrNeedMoreData)

	p.Feed(full[len(full)-2:])
	ev, err := p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev.LoginAck)
}

func TestParserColMetadataAndRow(t *testing.T) {
	columns := []codec.Column{
		{Name: "id", Type: codec.TypeIntN, Length: 4},
		{Name: "name", Type: codec.TypeBigVarChar, Length: 50},
	}
	var stream []byte
	stream = append(stream, encodeColMetadata(columns)...)

	var rowBody bytes.Buffer
	rowBody.WriteByte(byte(TypeRow))
	rowBody.Write(codec.EncodeIntN(7, 4))
	rowBody.Write(codec.EncodeVarChar("alice"))
	stream = append(stream, rowBody.Bytes()...)
	stream = append(stream, encodeDoneToken(TypeDone, DoneFinal|DoneCount, 0, 1)...)

	p := NewParser()
	p.Feed(stream)

	ev, err := p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev.ColMetadata)
	assert.Len(t, ev.ColMetadata.Columns, 2)

	ev, err = p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev.Row)
	assert.Equal(t, int64(7), ev.Row.Values[0])
	assert.Equal(t, "alice", ev.Row.Values[1])

	ev, err = p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev.Done)
	assert.True(t, ev.Done.HasCount())
	assert.Equal(t, uint64(1), ev.Done.RowCount)
}

func TestParserSkipModeDrainsUntilAttentionAck(t *testing.T) {
	var stream []byte
	stream = append(stream, encodeDoneToken(TypeDoneInProc, DoneMore, 0, 0)...)
	stream = append(stream, encodeDoneToken(TypeDone, DoneFinal|DoneAttn, 0, 0)...)

	p := NewParser()
	p.SetSkipMode(true)
	p.Feed(stream)

	ev, err := p.TryParseNext()
	require.NoError(t, err)
	assert.Nil(t, ev) // non-attention-ack DONE does not surface or terminate drain

	ev, err = p.TryParseNext()
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, ev.Done.IsAttentionAck())
	assert.Equal(t, StateComplete, p.State())
}
