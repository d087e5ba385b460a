package blocksplit

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockstream/satellite-relay/pkg/reassembler"
)

type fakeMempool struct {
	known map[[32]byte][]byte
}

func (m *fakeMempool) GetTx(wtxid [32]byte) ([]byte, bool) {
	raw, ok := m.known[wtxid]
	return raw, ok
}

func (m *fakeMempool) IterByAncestorScore(fn func(wtxid [32]byte, raw []byte) bool) {
	for wtxid, raw := range m.known {
		if !fn(wtxid, raw) {
			return
		}
	}
}

func buildTx(version uint32, seqs []uint32, outs [][]byte, lockTime uint32) []byte {
	var out []byte
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], version)
	out = append(out, b4[:]...)
	out = appendVarint(out, uint64(len(seqs)))
	for _, s := range seqs {
		out = appendVarint(out, uint64(s))
	}
	out = appendVarint(out, uint64(len(outs)))
	for _, script := range outs {
		out = appendVarint(out, 1000)
		out = appendVarint(out, uint64(len(script)))
		out = append(out, script...)
	}
	binary.LittleEndian.PutUint32(b4[:], lockTime)
	out = append(out, b4[:]...)
	return out
}

func appendVarint(dst []byte, x uint64) []byte {
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}

func buildRawBlock(txs ...[]byte) []byte {
	raw := make([]byte, reassembler.HeaderRawSize)
	for _, tx := range txs {
		raw = append(raw, tx...)
	}
	return raw
}

func TestCompressBlockRoundTripsThroughReassembler(t *testing.T) {
	coinbase := buildTx(1, []uint32{0xffffffff}, [][]byte{{0x01, 0x02}}, 0)
	known := buildTx(2, []uint32{1}, [][]byte{{0x03}}, 0)
	unknown := buildTx(2, []uint32{2}, [][]byte{{0x04, 0x05, 0x06}}, 100)

	raw := buildRawBlock(coinbase, known, unknown)

	mempool := &fakeMempool{known: map[[32]byte][]byte{}}
	// Pre-seed the mempool with the "known" transaction's wtxid so the
	// splitter takes the short-id path for it.
	txs, err := parseTransactions(raw[reassembler.HeaderRawSize:])
	require.NoError(t, err)
	require.Len(t, txs, 3)
	knownWtxid := sha256.Sum256(txs[1].raw)
	mempool.known[knownWtxid] = txs[1].raw

	s := New(mempool, 1)
	headerPayload, bodyPayload, codecVersion, err := s.CompressBlock(raw)
	require.NoError(t, err)
	require.EqualValues(t, 1, codecVersion)

	decoded, err := reassembler.ParseHeader(headerPayload)
	require.NoError(t, err)
	require.Len(t, decoded.CompressedLengths, 3)
	require.Equal(t, txs[0].raw, decoded.Prefilled[0])
	require.Equal(t, uint32(0), decoded.CompressedLengths[1])
	require.Greater(t, decoded.CompressedLengths[2], uint32(0))

	r := reassembler.New(mempool)
	out, err := r.Reassemble(headerPayload, bodyPayload)
	require.NoError(t, err)
	require.True(t, len(out) > 0)
}
