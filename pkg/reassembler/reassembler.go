package reassembler

import (
	"crypto/sha256"

	"github.com/dchest/siphash"
	"github.com/pkg/errors"

	"github.com/blockstream/satellite-relay/pkg/collab"
	"github.com/blockstream/satellite-relay/pkg/compressor"
)

// ErrMissingMempoolTransaction means a short-id lookup found no match
// and the block must be dropped: the link is one-way, so there is no
// retransmission request to fall back on, and the sender's job is to
// prefill anything it cannot assume the receiver already holds.
var ErrMissingMempoolTransaction = errors.New("reassembler: missing mempool transaction for short id")

// Reassembler turns a decoded header object and body object back into
// a full serialized block.
type Reassembler struct {
	mempool collab.Mempool
}

// New constructs a Reassembler backed by mempool for short-id lookups.
func New(mempool collab.Mempool) *Reassembler {
	return &Reassembler{mempool: mempool}
}

// ShortTxID computes a transaction's short id the way the sender's
// header does: siphash keyed by the header's nonce and a key derived
// from the header's own hash, over the transaction's wtxid.
func ShortTxID(nonce uint64, headerHash [32]byte, wtxid [32]byte) uint64 {
	k0 := uint64From(headerHash[0:8])
	return siphash.Hash(k0, nonce, wtxid[:])
}

func uint64From(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// Reassemble decodes headerBytes/bodyBytes (the FEC-decoded payloads of
// the header and body objects for one block) into the full serialized
// block: raw header bytes followed by every transaction's raw
// serialization, in order.
func (r *Reassembler) Reassemble(headerBytes, bodyBytes []byte) ([]byte, error) {
	header, err := ParseHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	headerHash := sha256.Sum256(headerBytes[:HeaderRawSize])

	index := r.buildShortIDIndex(header.Nonce, headerHash, len(header.CompressedLengths))

	out := make([]byte, 0, len(headerBytes)+len(bodyBytes))
	out = append(out, header.Raw[:]...)

	offset := 0
	for i, length := range header.CompressedLengths {
		if raw, ok := header.Prefilled[i]; ok {
			out = appendRawTx(out, raw)
			continue
		}

		if length > 0 {
			if offset+int(length) > len(bodyBytes) {
				return nil, ErrMalformedHeader
			}
			slice := bodyBytes[offset : offset+int(length)]
			offset += int(length)

			tx, err := compressor.DecompressTransaction(slice)
			if err != nil {
				return nil, compressor.ErrTransactionDecompressionFailed
			}
			out = appendRawTx(out, serializeTransaction(tx))
			continue
		}

		raw, ok := index[header.ShortTxIDs[i]]
		if !ok {
			return nil, ErrMissingMempoolTransaction
		}
		out = appendRawTx(out, raw)
	}

	return out, nil
}

func (r *Reassembler) buildShortIDIndex(nonce uint64, headerHash [32]byte, expected int) map[uint64][]byte {
	index := make(map[uint64][]byte, expected)
	if r.mempool == nil {
		return index
	}
	r.mempool.IterByAncestorScore(func(wtxid [32]byte, raw []byte) bool {
		index[ShortTxID(nonce, headerHash, wtxid)] = raw
		return true
	})
	return index
}

func appendRawTx(dst, tx []byte) []byte {
	return append(dst, tx...)
}

// serializeTransaction writes the version, each input's sequence, each
// output's amount and scriptPubKey, and the lock time; input scriptSigs
// and witnesses are not written. A full
// consensus-level transaction encoder belongs to the host application,
// like the rest of the validation surface.
func serializeTransaction(tx compressor.Transaction) []byte {
	out := appendUint32(nil, tx.Version)
	out = appendVarint(out, uint64(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		out = appendVarint(out, uint64(in.Sequence))
	}
	out = appendVarint(out, uint64(len(tx.TxOut)))
	for _, o := range tx.TxOut {
		out = appendVarint(out, o.Value)
		out = appendVarint(out, uint64(len(o.ScriptPubKey)))
		out = append(out, o.ScriptPubKey...)
	}
	out = appendUint32(out, tx.LockTime)
	return out
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
