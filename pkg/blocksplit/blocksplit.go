// Package blocksplit is the sender-side counterpart to pkg/reassembler:
// given a raw serialized block, it parses the block's transaction list,
// decides which transactions travel prefilled, by short-id reference
// against the local mempool, or compressed in the block body, and
// produces the header/body FEC object payloads pkg/interleave feeds to
// the encoder. Grounded on pkg/reassembler/reassembler.go and header.go,
// whose ParseHeader/MarshalHeader/ShortTxID this package drives in the
// opposite direction.
package blocksplit

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/blockstream/satellite-relay/pkg/collab"
	"github.com/blockstream/satellite-relay/pkg/compressor"
	"github.com/blockstream/satellite-relay/pkg/reassembler"
)

// ErrMalformedBlock mirrors reassembler.ErrMalformedHeader for the
// encode direction: the raw block bytes this package is asked to split
// don't match the placeholder wire shape that parseTransactions reads
// and reassembler.serializeTransaction writes.
var ErrMalformedBlock = errors.New("blocksplit: malformed block bytes")

// Splitter builds header/body FEC object payloads from a raw block.
// The zeroth transaction (the coinbase, by convention) is always
// prefilled, since it never appears in any peer's mempool; every other
// transaction is sent by short-id reference when the local mempool
// already holds it, and compressed into the body object otherwise —
// the same three-way split reassembler.Reassemble expects to read back.
type Splitter struct {
	mempool      collab.Mempool
	codecVersion uint8
}

// New constructs a Splitter. mempool may be nil, in which case every
// non-coinbase transaction is compressed into the body (no short-id
// references are ever produced).
func New(mempool collab.Mempool, codecVersion uint8) *Splitter {
	return &Splitter{mempool: mempool, codecVersion: codecVersion}
}

// CompressBlock implements pkg/interleave.Compressor.
func (s *Splitter) CompressBlock(raw []byte) (headerPayload, bodyPayload []byte, codecVersion uint8, err error) {
	if len(raw) < reassembler.HeaderRawSize {
		return nil, nil, 0, ErrMalformedBlock
	}

	var rawHeader [reassembler.HeaderRawSize]byte
	copy(rawHeader[:], raw[:reassembler.HeaderRawSize])
	headerHash := sha256.Sum256(rawHeader[:])
	nonce := binary.LittleEndian.Uint64(headerHash[8:16])

	txs, err := parseTransactions(raw[reassembler.HeaderRawSize:])
	if err != nil {
		return nil, nil, 0, err
	}

	decoded := reassembler.DecodedHeader{
		Raw:               rawHeader,
		Nonce:             nonce,
		CodecVersion:      s.codecVersion,
		CompressedLengths: make([]uint32, len(txs)),
		ShortTxIDs:        make([]uint64, len(txs)),
		Prefilled:         make(map[int][]byte),
	}

	var body []byte
	for i, tx := range txs {
		if i == 0 {
			decoded.Prefilled[i] = tx.raw
			continue
		}

		wtxid := sha256.Sum256(tx.raw)
		decoded.ShortTxIDs[i] = reassembler.ShortTxID(nonce, headerHash, wtxid)

		if s.mempool != nil {
			if _, known := s.mempool.GetTx(wtxid); known {
				continue
			}
		}

		compressed, cerr := compressor.CompressTransaction(tx.parsed, s.codecVersion)
		if cerr != nil {
			return nil, nil, 0, errors.Wrapf(cerr, "blocksplit: compress tx %d", i)
		}
		decoded.CompressedLengths[i] = uint32(len(compressed))
		body = append(body, compressed...)
	}

	// A block whose transactions all travel prefilled or by short id
	// leaves the body empty, and a zero-length object cannot be chunked;
	// pad one byte the reassembler never reads (it slices the body by
	// the header's compressed-length table only).
	if len(body) == 0 {
		body = []byte{0}
	}

	return reassembler.MarshalHeader(decoded), body, s.codecVersion, nil
}

type rawTx struct {
	raw    []byte
	parsed compressor.Transaction
}

// parseTransactions is the inverse of
// reassembler.serializeTransaction: version, varint txin count, one
// varint sequence per input, varint txout count, one (varint value,
// varint-length scriptPubKey) per output, then the lock time. It
// carries no scriptSig/witness material, matching
// reassembler.serializeTransaction's own documented placeholder scope
// (a full consensus transaction encoder is an external collaborator's
// concern, not this relay's).
func parseTransactions(body []byte) ([]rawTx, error) {
	var out []rawTx
	pos := 0
	for pos < len(body) {
		start := pos

		if pos+4 > len(body) {
			return nil, ErrMalformedBlock
		}
		version := binary.LittleEndian.Uint32(body[pos : pos+4])
		pos += 4

		numIn, n, ok := readVarint(body[pos:])
		if !ok {
			return nil, ErrMalformedBlock
		}
		pos += n

		ins := make([]compressor.TxIn, numIn)
		for i := range ins {
			seq, n, ok := readVarint(body[pos:])
			if !ok {
				return nil, ErrMalformedBlock
			}
			pos += n
			ins[i] = compressor.TxIn{Sequence: uint32(seq)}
		}

		numOut, n, ok := readVarint(body[pos:])
		if !ok {
			return nil, ErrMalformedBlock
		}
		pos += n

		outs := make([]compressor.TxOut, numOut)
		for i := range outs {
			value, n, ok := readVarint(body[pos:])
			if !ok {
				return nil, ErrMalformedBlock
			}
			pos += n
			scriptLen, n, ok := readVarint(body[pos:])
			if !ok {
				return nil, ErrMalformedBlock
			}
			pos += n
			if pos+int(scriptLen) > len(body) {
				return nil, ErrMalformedBlock
			}
			script := make([]byte, scriptLen)
			copy(script, body[pos:pos+int(scriptLen)])
			pos += int(scriptLen)
			outs[i] = compressor.TxOut{Value: value, ScriptPubKey: script}
		}

		if pos+4 > len(body) {
			return nil, ErrMalformedBlock
		}
		lockTime := binary.LittleEndian.Uint32(body[pos : pos+4])
		pos += 4

		out = append(out, rawTx{
			raw: body[start:pos],
			parsed: compressor.Transaction{
				Version:  version,
				LockTime: lockTime,
				TxIn:     ins,
				TxOut:    outs,
			},
		})
	}
	return out, nil
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
