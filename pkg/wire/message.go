// Package wire defines the UDP wire format shared by the sender and
// the receiver: the fixed-size message header, the chunk payload layout
// carried by FEC-bearing messages, and the message type tags.
package wire

import (
	"encoding/binary"

	"github.com/blockstream/satellite-relay/pkg/fec"
)

// FECChunkSize is the fixed size, in bytes, of every FEC-coded chunk.
const FECChunkSize = fec.FECChunkSize

// MsgType identifies the payload carried by a UDPMessage.
type MsgType uint8

// Message types, low bits of the header's msg_type field.
const (
	MsgSyn MsgType = iota + 1
	MsgKeepalive
	MsgDisconnect
	MsgBlockHeader
	MsgBlockContents
	MsgPing
	MsgPong
	MsgTxContents
)

// MaxUDPMessageLength bounds the body of a UDPMessage: a chunk header
// (hash prefix, object length, chunk id, codec version) plus one chunk.
const MaxUDPMessageLength = 8 + 4 + 3 + 1 + FECChunkSize

// HeaderSize is the size of Header once serialized: two 8-byte
// authenticator halves, the message type byte, and a length/padding byte.
const HeaderSize = 8 + 8 + 1 + 1

// MessageSize is the fixed size of every wire message: header + body.
const MessageSize = HeaderSize + MaxUDPMessageLength

// Header is the fixed preamble of every wire message.
type Header struct {
	Chk1         uint64
	Chk2         uint64
	MsgType      MsgType
	LenOrPadding uint8
}

// Message is one fixed-size UDP datagram: header plus up to
// MaxUDPMessageLength bytes of body, zero-padded when shorter.
type Message struct {
	Header Header
	Body   [MaxUDPMessageLength]byte
}

// ChunkPayload is the body layout used by MsgBlockHeader, MsgBlockContents,
// and MsgTxContents messages: a chunk plus enough metadata for the
// receiver to route it to the right FEC object and partial block.
type ChunkPayload struct {
	HashPrefix   uint64
	ObjLength    uint32
	ChunkID      uint32 // low 24 bits significant
	CodecVersion uint8
	Payload      [FECChunkSize]byte
}

// ChunkIDMask masks a ChunkID down to its 24 significant bits.
const ChunkIDMask = 0xFFFFFF

// MarshalHeader writes h into the first HeaderSize bytes of dst.
func MarshalHeader(h Header, dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.Chk1)
	binary.LittleEndian.PutUint64(dst[8:16], h.Chk2)
	dst[16] = byte(h.MsgType)
	dst[17] = h.LenOrPadding
}

// UnmarshalHeader reads a Header from the first HeaderSize bytes of src.
func UnmarshalHeader(src []byte) Header {
	return Header{
		Chk1:         binary.LittleEndian.Uint64(src[0:8]),
		Chk2:         binary.LittleEndian.Uint64(src[8:16]),
		MsgType:      MsgType(src[16]),
		LenOrPadding: src[17],
	}
}

// MarshalChunkPayload serializes p into dst, which must be at least
// MaxUDPMessageLength bytes.
func MarshalChunkPayload(p ChunkPayload, dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], p.HashPrefix)
	binary.LittleEndian.PutUint32(dst[8:12], p.ObjLength)
	id := p.ChunkID & ChunkIDMask
	dst[12] = byte(id)
	dst[13] = byte(id >> 8)
	dst[14] = byte(id >> 16)
	dst[15] = p.CodecVersion
	copy(dst[16:16+FECChunkSize], p.Payload[:])
}

// UnmarshalChunkPayload reads a ChunkPayload from src.
func UnmarshalChunkPayload(src []byte) ChunkPayload {
	var p ChunkPayload
	p.HashPrefix = binary.LittleEndian.Uint64(src[0:8])
	p.ObjLength = binary.LittleEndian.Uint32(src[8:12])
	p.ChunkID = uint32(src[12]) | uint32(src[13])<<8 | uint32(src[14])<<16
	p.CodecVersion = src[15]
	copy(p.Payload[:], src[16:16+FECChunkSize])
	return p
}

// ProtocolVersion is the SYN message's 8-byte little-endian protocol
// version payload.
type ProtocolVersion uint64

// MinSupportedProtocolVersion is the lowest protocol version this
// receiver will accept; a SYN carrying anything below it is answered
// with MsgDisconnect and the peer is forgotten.
const MinSupportedProtocolVersion ProtocolVersion = 1
