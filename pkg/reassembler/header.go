// Package reassembler implements the block reassembler: given the
// decoded header and body objects for one (hash_prefix, peer), it
// parses the header's per-transaction compressed-length table, slices
// the decoded body accordingly, runs pkg/compressor in reverse,
// resolves prefilled and short-id-addressed transactions, and hands
// the fully reassembled block to the external validator (pkg/collab).
package reassembler

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderRawSize is the serialized block header's fixed size.
const HeaderRawSize = 80

// ErrMalformedHeader means a header object's payload failed to parse;
// the block is dropped.
var ErrMalformedHeader = errors.New("reassembler: malformed block header object")

// DecodedHeader is the parsed contents of a block-header FEC object:
// the raw 80-byte block header, the nonce used to key each
// transaction's short id, and a per-transaction entry describing
// whether it travels prefilled (full bytes, carried in the header
// object itself), via the body object (a non-zero compressed-length
// slice), or by short-id lookup against the local mempool
// (compressed length 0 and not prefilled).
type DecodedHeader struct {
	Raw               [HeaderRawSize]byte
	Nonce             uint64
	CodecVersion      uint8
	CompressedLengths []uint32
	ShortTxIDs        []uint64
	Prefilled         map[int][]byte
}

// ParseHeader decodes a block-header FEC object's payload, produced by
// MarshalHeader on the sender side. Layout: 80-byte raw header, 8-byte
// little-endian nonce, 1 codec-version byte, a varint transaction
// count, then per transaction a varint compressed-length, an 8-byte
// short id, a one-byte prefilled flag, and (if the flag is non-zero) a
// varint-length-prefixed verbatim copy.
func ParseHeader(data []byte) (DecodedHeader, error) {
	if len(data) < HeaderRawSize+8+1+1 {
		return DecodedHeader{}, ErrMalformedHeader
	}
	var h DecodedHeader
	copy(h.Raw[:], data[:HeaderRawSize])
	pos := HeaderRawSize

	h.Nonce = binary.LittleEndian.Uint64(data[pos : pos+8])
	pos += 8

	h.CodecVersion = data[pos]
	pos++

	count, n, ok := readVarint(data[pos:])
	if !ok {
		return DecodedHeader{}, ErrMalformedHeader
	}
	pos += n

	h.CompressedLengths = make([]uint32, count)
	h.ShortTxIDs = make([]uint64, count)
	h.Prefilled = make(map[int][]byte)

	for i := uint64(0); i < count; i++ {
		length, n, ok := readVarint(data[pos:])
		if !ok {
			return DecodedHeader{}, ErrMalformedHeader
		}
		pos += n
		h.CompressedLengths[i] = uint32(length)

		if pos+8 > len(data) {
			return DecodedHeader{}, ErrMalformedHeader
		}
		h.ShortTxIDs[i] = binary.LittleEndian.Uint64(data[pos : pos+8])
		pos += 8

		isPrefilled := data[pos]
		pos++
		if isPrefilled != 0 {
			plen, n, ok := readVarint(data[pos:])
			if !ok {
				return DecodedHeader{}, ErrMalformedHeader
			}
			pos += n
			if pos+int(plen) > len(data) {
				return DecodedHeader{}, ErrMalformedHeader
			}
			raw := make([]byte, plen)
			copy(raw, data[pos:pos+int(plen)])
			h.Prefilled[int(i)] = raw
			pos += int(plen)
		}
	}

	return h, nil
}

// MarshalHeader is ParseHeader's inverse, used by the sender when
// building a block-header FEC object.
func MarshalHeader(h DecodedHeader) []byte {
	out := make([]byte, 0, HeaderRawSize+16)
	out = append(out, h.Raw[:]...)
	out = appendUint64(out, h.Nonce)
	out = append(out, h.CodecVersion)
	out = appendVarint(out, uint64(len(h.CompressedLengths)))

	for i := range h.CompressedLengths {
		out = appendVarint(out, uint64(h.CompressedLengths[i]))
		out = appendUint64(out, h.ShortTxIDs[i])
		if raw, ok := h.Prefilled[i]; ok {
			out = append(out, 1)
			out = appendVarint(out, uint64(len(raw)))
			out = append(out, raw...)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

func readVarint(b []byte) (value uint64, n int, ok bool) {
	var shift uint
	for n < len(b) {
		c := b[n]
		value |= uint64(c&0x7f) << shift
		n++
		if c&0x80 == 0 {
			return value, n, true
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, false
		}
	}
	return 0, 0, false
}

func appendVarint(dst []byte, x uint64) []byte {
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}
