package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkIDTruncatesToWireWidth(t *testing.T) {
	in := ChunkPayload{
		HashPrefix:   0x1122334455667788,
		ObjLength:    500000,
		ChunkID:      0xAB123456, // high byte must not survive the wire
		CodecVersion: 1,
	}
	copy(in.Payload[:], []byte("chunk body"))

	buf := make([]byte, MaxUDPMessageLength)
	MarshalChunkPayload(in, buf)
	out := UnmarshalChunkPayload(buf)

	require.Equal(t, uint32(0x123456), out.ChunkID)
	require.Equal(t, in.HashPrefix, out.HashPrefix)
	require.Equal(t, in.ObjLength, out.ObjLength)
	require.Equal(t, in.CodecVersion, out.CodecVersion)
	require.Equal(t, in.Payload, out.Payload)
}

func TestHeaderLayoutIsLittleEndianAndFixed(t *testing.T) {
	h := Header{
		Chk1:         0x0102030405060708,
		Chk2:         0x1112131415161718,
		MsgType:      MsgBlockContents,
		LenOrPadding: 0x2A,
	}

	buf := make([]byte, HeaderSize)
	MarshalHeader(h, buf)

	require.Equal(t, byte(0x08), buf[0])
	require.Equal(t, byte(0x18), buf[8])
	require.Equal(t, byte(MsgBlockContents), buf[16])
	require.Equal(t, byte(0x2A), buf[17])
	require.Equal(t, h, UnmarshalHeader(buf))
}

func TestMessageSizeIsHeaderPlusChunkBody(t *testing.T) {
	// Every datagram on the wire is exactly this long; the receiver
	// rejects anything else before authentication.
	require.Equal(t, 18, HeaderSize)
	require.Equal(t, 8+4+3+1+FECChunkSize, MaxUDPMessageLength)
	require.Equal(t, HeaderSize+MaxUDPMessageLength, MessageSize)
}
