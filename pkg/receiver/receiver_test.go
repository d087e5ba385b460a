package receiver

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockstream/satellite-relay/pkg/collab"
	"github.com/blockstream/satellite-relay/pkg/fec"
	"github.com/blockstream/satellite-relay/pkg/outoforder"
	"github.com/blockstream/satellite-relay/pkg/partialblock"
	"github.com/blockstream/satellite-relay/pkg/reassembler"
	"github.com/blockstream/satellite-relay/pkg/scheduler"
	"github.com/blockstream/satellite-relay/pkg/wire"
)

const testMagic = 0xdeadbeefcafef00d

type fakeValidator struct {
	mu       sync.Mutex
	accepted [][]byte
	results  []collab.AcceptResult
}

func (f *fakeValidator) AcceptBlock(block []byte, fromTrustedPeer bool) (collab.AcceptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := collab.Accepted
	if len(f.results) > 0 {
		result = f.results[0]
		f.results = f.results[1:]
	}
	if result == collab.Accepted {
		f.accepted = append(f.accepted, block)
	}
	return result, nil
}

func sealedChunkMsg(msgType wire.MsgType, cp wire.ChunkPayload) []byte {
	buf := make([]byte, wire.MessageSize)
	buf[16] = byte(msgType)
	wire.MarshalChunkPayload(cp, buf[wire.HeaderSize:])
	scheduler.SealMessage(testMagic, buf)
	return buf
}

func sealedRawMsg(msgType wire.MsgType, payload []byte) []byte {
	buf := make([]byte, wire.MessageSize)
	buf[16] = byte(msgType)
	buf[17] = byte(len(payload))
	copy(buf[wire.HeaderSize:], payload)
	scheduler.SealMessage(testMagic, buf)
	return buf
}

func feedObject(t *testing.T, r *Receiver, peer string, msgType wire.MsgType, hashPrefix uint64, payload []byte) {
	t.Helper()
	enc, err := fec.NewEncoder(payload)
	require.NoError(t, err)
	for slot := 0; slot < enc.ChunkCount(); slot++ {
		data, id, err := enc.BuildChunk(slot)
		require.NoError(t, err)
		var cp wire.ChunkPayload
		cp.HashPrefix = hashPrefix
		cp.ObjLength = uint32(len(payload))
		cp.ChunkID = id
		copy(cp.Payload[:], data)
		r.Handle(peer, sealedChunkMsg(msgType, cp))
	}
}

func newTestReceiver(t *testing.T, val collab.Validator, opts ...Option) (*Receiver, *partialblock.Registry, *outoforder.Store) {
	t.Helper()
	reg, err := partialblock.New(t.TempDir(), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	ooo := outoforder.New()
	r := New(testMagic, reg, reassembler.New(nil), val, ooo, opts...)
	return r, reg, ooo
}

func testBlockPayloads(t *testing.T, txRaw []byte) (headerPayload, bodyPayload, fullBlock []byte) {
	t.Helper()
	var rawHeader [reassembler.HeaderRawSize]byte
	for i := range rawHeader {
		rawHeader[i] = byte(i)
	}
	h := reassembler.DecodedHeader{
		Raw:               rawHeader,
		Nonce:             42,
		CompressedLengths: []uint32{0},
		ShortTxIDs:        []uint64{0},
		Prefilled:         map[int][]byte{0: txRaw},
	}
	headerPayload = reassembler.MarshalHeader(h)
	bodyPayload = []byte{0}
	fullBlock = append(append([]byte{}, rawHeader[:]...), txRaw...)
	return headerPayload, bodyPayload, fullBlock
}

func TestHandleDropsUnauthenticatedDatagram(t *testing.T) {
	val := &fakeValidator{}
	r, reg, _ := newTestReceiver(t, val)

	buf := make([]byte, wire.MessageSize)
	buf[16] = byte(wire.MsgBlockHeader)
	scheduler.SealMessage(testMagic, buf)
	buf[20] ^= 0xff // corrupt the sealed body

	r.Handle("10.0.0.1:4434", buf)
	require.Equal(t, 0, reg.Len())
}

func TestHandleDropsShortDatagram(t *testing.T) {
	val := &fakeValidator{}
	r, reg, _ := newTestReceiver(t, val)
	r.Handle("10.0.0.1:4434", []byte{1, 2, 3})
	require.Equal(t, 0, reg.Len())
}

func TestSynRejectsOldProtocolVersion(t *testing.T) {
	g := scheduler.NewGroup("test", nil, nil, nil, testMagic, 8, nil)
	val := &fakeValidator{}
	r, _, _ := newTestReceiver(t, val, WithReplyGroup(g))

	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], 0)
	r.Handle("10.0.0.1:4434", sealedRawMsg(wire.MsgSyn, payload[:]))

	require.Equal(t, 1, g.QueueLen(scheduler.PriorityReaderHigh))
	_, seen := r.LastSeen("10.0.0.1:4434")
	require.False(t, seen)
}

func TestSynAcknowledgesSupportedVersion(t *testing.T) {
	g := scheduler.NewGroup("test", nil, nil, nil, testMagic, 8, nil)
	val := &fakeValidator{}
	r, _, _ := newTestReceiver(t, val, WithReplyGroup(g))

	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], uint64(wire.MinSupportedProtocolVersion))
	r.Handle("10.0.0.1:4434", sealedRawMsg(wire.MsgSyn, payload[:]))

	require.Equal(t, 1, g.QueueLen(scheduler.PriorityReaderHigh))
	_, seen := r.LastSeen("10.0.0.1:4434")
	require.True(t, seen)
}

func TestPingProducesPong(t *testing.T) {
	g := scheduler.NewGroup("test", nil, nil, nil, testMagic, 8, nil)
	val := &fakeValidator{}
	r, _, _ := newTestReceiver(t, val, WithReplyGroup(g))

	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	r.Handle("10.0.0.1:4434", sealedRawMsg(wire.MsgPing, nonce))
	require.Equal(t, 1, g.QueueLen(scheduler.PriorityReaderLow))
}

func TestPingWithoutReplyGroupIsDropped(t *testing.T) {
	val := &fakeValidator{}
	r, _, _ := newTestReceiver(t, val)
	r.Handle("10.0.0.1:4434", sealedRawMsg(wire.MsgPing, make([]byte, 8)))
}

func TestBlockChunksDecodeReassembleAndValidate(t *testing.T) {
	val := &fakeValidator{}
	r, reg, _ := newTestReceiver(t, val)

	txRaw := []byte{0xaa, 0xbb, 0xcc}
	headerPayload, bodyPayload, fullBlock := testBlockPayloads(t, txRaw)

	const hashPrefix = 7
	peer := "10.0.0.1:4434"
	feedObject(t, r, peer, wire.MsgBlockHeader, hashPrefix, headerPayload)
	feedObject(t, r, peer, wire.MsgBlockContents, hashPrefix, bodyPayload)

	require.Len(t, val.accepted, 1)
	require.Equal(t, fullBlock, val.accepted[0])

	pb, ok := reg.Get(partialblock.Key{HashPrefix: hashPrefix, Peer: peer})
	require.True(t, ok)
	require.Equal(t, partialblock.StateDone, pb.State)
}

func TestMissingParentBlockIsStoredOutOfOrder(t *testing.T) {
	val := &fakeValidator{results: []collab.AcceptResult{collab.MissingParent}}
	r, _, ooo := newTestReceiver(t, val)

	headerPayload, bodyPayload, _ := testBlockPayloads(t, []byte{0x01})
	feedObject(t, r, "10.0.0.1:4434", wire.MsgBlockHeader, 9, headerPayload)
	feedObject(t, r, "10.0.0.1:4434", wire.MsgBlockContents, 9, bodyPayload)

	require.Empty(t, val.accepted)
	require.Equal(t, 1, ooo.Len())
}

func TestAcceptedParentUnblocksStoredSuccessor(t *testing.T) {
	val := &fakeValidator{}
	r, _, ooo := newTestReceiver(t, val)

	parentHeader, parentBody, parentBlock := testBlockPayloads(t, []byte{0x01})
	parentHash := sha256.Sum256(parentBlock[:reassembler.HeaderRawSize])

	child := outoforder.Block{ParentHash: parentHash, Hash: [32]byte{1}, Raw: []byte("child block")}
	ooo.StoreOoO(child)

	feedObject(t, r, "10.0.0.1:4434", wire.MsgBlockHeader, 11, parentHeader)
	feedObject(t, r, "10.0.0.1:4434", wire.MsgBlockContents, 11, parentBody)

	require.Len(t, val.accepted, 2)
	require.Equal(t, parentBlock, val.accepted[0])
	require.Equal(t, child.Raw, val.accepted[1])
	require.Equal(t, 0, ooo.Len())
}

func TestTxChunksDecodeToHandler(t *testing.T) {
	var got [][]byte
	val := &fakeValidator{}
	r, _, _ := newTestReceiver(t, val, WithTxHandler(func(raw []byte) {
		got = append(got, raw)
	}))

	payload := make([]byte, 3000) // three chunks
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	feedObject(t, r, "10.0.0.1:4434", wire.MsgTxContents, 21, payload)

	require.Len(t, got, 1)
	require.Equal(t, payload, got[0])
	require.Equal(t, 0, r.PendingTxObjects())
}

func TestOversizedObjectLengthIsRejected(t *testing.T) {
	val := &fakeValidator{}
	r, reg, _ := newTestReceiver(t, val)

	var cp wire.ChunkPayload
	cp.HashPrefix = 1
	cp.ObjLength = maxBlockObjectSize + 1
	r.Handle("10.0.0.1:4434", sealedChunkMsg(wire.MsgBlockHeader, cp))
	require.Equal(t, 0, reg.Len())
}

func TestDisconnectForgetsPeer(t *testing.T) {
	val := &fakeValidator{}
	r, _, _ := newTestReceiver(t, val)

	r.Handle("10.0.0.1:4434", sealedRawMsg(wire.MsgKeepalive, nil))
	_, seen := r.LastSeen("10.0.0.1:4434")
	require.True(t, seen)

	r.Handle("10.0.0.1:4434", sealedRawMsg(wire.MsgDisconnect, nil))
	_, seen = r.LastSeen("10.0.0.1:4434")
	require.False(t, seen)
}
