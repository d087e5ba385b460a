package reassembler

import (
	"crypto/sha256"
	"testing"

	"github.com/dchest/siphash"
	"github.com/stretchr/testify/require"

	"github.com/blockstream/satellite-relay/pkg/compressor"
)

func TestParseMarshalHeaderRoundTrip(t *testing.T) {
	h := DecodedHeader{
		Nonce:             42,
		CodecVersion:      1,
		CompressedLengths: []uint32{10, 0, 0},
		ShortTxIDs:        []uint64{0, 555, 777},
		Prefilled:         map[int][]byte{0: []byte("prefilled-coinbase")},
	}
	for i := range h.Raw {
		h.Raw[i] = byte(i)
	}

	data := MarshalHeader(h)
	got, err := ParseHeader(data)
	require.NoError(t, err)
	require.Equal(t, h.Raw, got.Raw)
	require.Equal(t, h.Nonce, got.Nonce)
	require.Equal(t, h.CodecVersion, got.CodecVersion)
	require.Equal(t, h.CompressedLengths, got.CompressedLengths)
	require.Equal(t, h.ShortTxIDs, got.ShortTxIDs)
	require.Equal(t, h.Prefilled[0], got.Prefilled[0])
}

type fakeMempool struct {
	txs map[[32]byte][]byte
}

func (m *fakeMempool) GetTx(wtxid [32]byte) ([]byte, bool) {
	tx, ok := m.txs[wtxid]
	return tx, ok
}

func (m *fakeMempool) IterByAncestorScore(fn func(wtxid [32]byte, raw []byte) bool) {
	for wtxid, raw := range m.txs {
		if !fn(wtxid, raw) {
			return
		}
	}
}

func TestReassembleResolvesPrefilledAndMempoolTx(t *testing.T) {
	var wtxid [32]byte
	wtxid[0] = 0x11
	mempoolTx := []byte("the-mempool-transaction-bytes")

	mp := &fakeMempool{txs: map[[32]byte][]byte{wtxid: mempoolTx}}

	tx := compressor.Transaction{
		Version:  1,
		LockTime: 0,
		TxOut:    []compressor.TxOut{{Value: 5000, ScriptPubKey: []byte{0x6a}}},
	}
	compressed, err := compressor.CompressTransaction(tx, 1)
	require.NoError(t, err)

	h := DecodedHeader{
		Nonce:             7,
		CodecVersion:      1,
		CompressedLengths: []uint32{0, uint32(len(compressed)), 0},
		ShortTxIDs:        make([]uint64, 3),
		Prefilled:         map[int][]byte{0: []byte("coinbase-raw")},
	}
	headerBytes := MarshalHeader(h)
	headerHash := sha256.Sum256(headerBytes[:HeaderRawSize])
	h.ShortTxIDs[2] = siphash.Hash(uint64From(headerHash[:8]), h.Nonce, wtxid[:])
	headerBytes = MarshalHeader(h)

	r := New(mp)
	block, err := r.Reassemble(headerBytes, compressed)
	require.NoError(t, err)
	require.Contains(t, string(block), "coinbase-raw")
	require.Contains(t, string(block), "the-mempool-transaction-bytes")
}

func TestReassembleMissingMempoolTxFails(t *testing.T) {
	h := DecodedHeader{
		CompressedLengths: []uint32{0},
		ShortTxIDs:        []uint64{999},
		Prefilled:         map[int][]byte{},
	}
	headerBytes := MarshalHeader(h)

	r := New(&fakeMempool{txs: map[[32]byte][]byte{}})
	_, err := r.Reassemble(headerBytes, nil)
	require.ErrorIs(t, err, ErrMissingMempoolTransaction)
}
