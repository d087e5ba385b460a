package fec

import (
	"math/rand"

	"github.com/klauspost/reedsolomon"
)

// mdsRecoveryCount returns 255 - chunkCount: one id in the 0..255
// chunk-id byte is always left unused so every chunk count leaves room
// for at least one recovery chunk.
func mdsRecoveryCount(chunkCount int) int {
	n := 255 - chunkCount
	if n < 1 {
		n = 1
	}
	return n
}

// mdsCodec wraps klauspost/reedsolomon as the maximum-distance-separable
// scheme for 2..MDSMaxChunks chunks. Shard index i holds chunk id i
// directly for the first chunkCount (systematic data) shards, and
// chunkCount+j for the j-th recovery shard. reedsolomon.Reconstruct
// fills every shard back into its assigned index, so no id-to-slot
// permutation bookkeeping is needed after decode.
type mdsCodec struct {
	chunkCount    int
	recoveryCount int
	objSize       int
	rs            reedsolomon.Encoder
}

func newMDSCodec(chunkCount, objSize int) (*mdsCodec, error) {
	recoveryCount := mdsRecoveryCount(chunkCount)
	rs, err := reedsolomon.New(chunkCount, recoveryCount)
	if err != nil {
		return nil, ErrCodecInternalFailure
	}
	return &mdsCodec{
		chunkCount:    chunkCount,
		recoveryCount: recoveryCount,
		objSize:       objSize,
		rs:            rs,
	}, nil
}

// mdsEncoder holds the full systematic+recovery shard set computed once
// from the source data, plus a random per-object starting offset so
// receivers on different senders see distinct chunk id sequences.
type mdsEncoder struct {
	codec      *mdsCodec
	shards     [][]byte
	startIdx   int
	haveOffset bool
}

func newMDSEncoder(data []byte) (*mdsEncoder, error) {
	chunkCount := ChunkCount(len(data))
	codec, err := newMDSCodec(chunkCount, len(data))
	if err != nil {
		return nil, err
	}

	total := chunkCount + codec.recoveryCount
	shards := make([][]byte, total)
	for i := 0; i < chunkCount; i++ {
		shard := make([]byte, FECChunkSize)
		lo := i * FECChunkSize
		hi := lo + FECChunkSize
		if hi > len(data) {
			hi = len(data)
		}
		copy(shard, data[lo:hi])
		shards[i] = shard
	}
	for i := chunkCount; i < total; i++ {
		shards[i] = make([]byte, FECChunkSize)
	}

	if err := codec.rs.Encode(shards); err != nil {
		return nil, ErrCodecInternalFailure
	}

	return &mdsEncoder{codec: codec, shards: shards}, nil
}

// chunkIDFor maps an output slot to a chunk id drawn from the recovery
// range, rotated by the per-object random offset.
func (e *mdsEncoder) chunkIDFor(slot int) uint32 {
	if !e.haveOffset {
		e.startIdx = rand.Intn(0xff)
		e.haveOffset = true
	}
	recoveryOffset := (e.startIdx + slot) % e.codec.recoveryCount
	return uint32(e.codec.chunkCount + recoveryOffset)
}

// buildChunk returns the bytes for chunk id, which must lie in
// [0, chunkCount+recoveryCount).
func (e *mdsEncoder) buildChunk(id uint32) ([]byte, error) {
	if int(id) >= len(e.shards) {
		return nil, ErrOutOfRangeChunkID
	}
	out := make([]byte, FECChunkSize)
	copy(out, e.shards[id])
	return out, nil
}

// mdsDecoder accumulates received (chunk, id) pairs until chunkCount
// distinct ids have arrived, then reconstructs in one shot.
type mdsDecoder struct {
	codec   *mdsCodec
	shards  [][]byte
	present int
}

func newMDSDecoder(chunkCount, objSize int) (*mdsDecoder, error) {
	codec, err := newMDSCodec(chunkCount, objSize)
	if err != nil {
		return nil, err
	}
	total := chunkCount + codec.recoveryCount
	return &mdsDecoder{codec: codec, shards: make([][]byte, total)}, nil
}

func (d *mdsDecoder) maxID() uint32 {
	return uint32(len(d.shards))
}

// provide records chunk at id; returns true once chunkCount distinct
// ids have been recorded (decode is then guaranteed to succeed, the MDS
// property).
func (d *mdsDecoder) provide(chunk []byte, id uint32) (bool, error) {
	if id >= d.maxID() {
		return false, ErrOutOfRangeChunkID
	}
	if d.shards[id] != nil {
		return d.present >= d.codec.chunkCount, nil
	}
	cp := make([]byte, FECChunkSize)
	copy(cp, chunk)
	d.shards[id] = cp
	d.present++
	return d.present >= d.codec.chunkCount, nil
}

func (d *mdsDecoder) decode() ([]byte, error) {
	if err := d.codec.rs.Reconstruct(d.shards); err != nil {
		return nil, ErrCodecInternalFailure
	}
	out := make([]byte, d.codec.objSize)
	for i := 0; i < d.codec.chunkCount; i++ {
		lo := i * FECChunkSize
		hi := lo + FECChunkSize
		if hi > len(out) {
			hi = len(out)
		}
		copy(out[lo:hi], d.shards[i][:hi-lo])
	}
	return out, nil
}

func (d *mdsDecoder) getChunk(id uint32) ([]byte, error) {
	if id >= d.maxID() || d.shards[id] == nil {
		return nil, ErrOutOfRangeChunkID
	}
	return d.shards[id], nil
}
