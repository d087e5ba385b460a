package fec

import (
	"math/rand"

	fountain "github.com/google/gofountain"
)

// symbolAlignmentSize is the XOR granularity of the raptor codec, in
// bytes. 4-byte XORs are the most efficient on common hardware.
const symbolAlignmentSize = 4

// fountainBatchFactor sizes the id batches the encoder hands to
// EncodeLTBlocks: generating blocks in bulk amortizes the codec's
// intermediate-block setup across many chunks.
const fountainBatchFactor = 2

// fountainChunkID draws a random chunk id from [chunkCount, 1<<24), the
// id range the rateless scheme transmits in.
func fountainChunkID(chunkCount int) uint32 {
	return uint32(chunkCount) + uint32(rand.Int63n(int64(FECChunkCountMax+1-uint32(chunkCount))))
}

// fountainEncoder wraps a gofountain raptor codec as the rateless
// scheme used beyond MDSMaxChunks chunks. The source object is padded
// to a whole number of chunks so every encoded block is exactly one
// chunk long. Output slots are bound to random chunk ids on first
// build and stay bound, so rebuilding a slot returns the same chunk
// unless the caller explicitly regenerates it.
type fountainEncoder struct {
	codec      fountain.Codec
	padded     []byte
	chunkCount int
	objSize    int

	slotIDs map[int]uint32
	cache   map[uint32][]byte
	h       *fountainCodec
}

func newFountainEncoder(data []byte) (*fountainEncoder, error) {
	chunkCount := ChunkCount(len(data))
	padded := make([]byte, chunkCount*FECChunkSize)
	copy(padded, data)
	return &fountainEncoder{
		codec:      fountain.NewRaptorCodec(chunkCount, symbolAlignmentSize),
		padded:     padded,
		chunkCount: chunkCount,
		objSize:    len(data),
		slotIDs:    make(map[int]uint32),
		cache:      make(map[uint32][]byte),
		h:          globalFountainPool.acquire(),
	}, nil
}

// generate runs one EncodeLTBlocks pass over ids and caches the
// resulting blocks.
func (e *fountainEncoder) generate(ids []int64) {
	for _, blk := range fountain.EncodeLTBlocks(e.padded, ids, e.codec) {
		data := make([]byte, FECChunkSize)
		copy(data, blk.Data)
		e.cache[uint32(blk.BlockCode)] = data
	}
}

// buildChunk returns the chunk bound to slot, assigning a fresh random
// id and batching up block generation when the slot is new.
func (e *fountainEncoder) buildChunk(slot int) ([]byte, uint32, error) {
	if id, ok := e.slotIDs[slot]; ok {
		if b, ok := e.cache[id]; ok {
			out := make([]byte, FECChunkSize)
			copy(out, b)
			return out, id, nil
		}
	}
	id := fountainChunkID(e.chunkCount)
	e.slotIDs[slot] = id

	// Pre-assign ids for a batch of upcoming slots so one encode pass
	// covers them all.
	ids := []int64{int64(id)}
	for next := slot + 1; next < slot+e.chunkCount*fountainBatchFactor; next++ {
		if _, ok := e.slotIDs[next]; ok {
			continue
		}
		nid := fountainChunkID(e.chunkCount)
		e.slotIDs[next] = nid
		ids = append(ids, int64(nid))
	}
	e.generate(ids)

	b, ok := e.cache[id]
	if !ok {
		return nil, 0, ErrCodecInternalFailure
	}
	out := make([]byte, FECChunkSize)
	copy(out, b)
	return out, id, nil
}

// regenerateChunk unbinds slot and builds it again under a fresh id.
func (e *fountainEncoder) regenerateChunk(slot int) ([]byte, uint32, error) {
	if id, ok := e.slotIDs[slot]; ok {
		delete(e.cache, id)
		delete(e.slotIDs, slot)
	}
	return e.buildChunk(slot)
}

func (e *fountainEncoder) release() {
	if e.h != nil {
		globalFountainPool.release(e.h)
		e.h = nil
	}
}

// fountainDecoder accumulates received blocks until the raptor decode
// graph resolves. All decoder parameters derive from the object size:
// the padded transfer length is chunkCount whole chunks.
type fountainDecoder struct {
	dec     fountain.Decoder
	objSize int
	done    bool
	decoded []byte
	h       *fountainCodec
}

func newFountainDecoder(objSize int) *fountainDecoder {
	chunkCount := ChunkCount(objSize)
	codec := fountain.NewRaptorCodec(chunkCount, symbolAlignmentSize)
	return &fountainDecoder{
		dec:     codec.NewDecoder(chunkCount * FECChunkSize),
		objSize: objSize,
		h:       globalFountainPool.acquire(),
	}
}

// provide records one received block; the bool return reports whether
// the object is now fully decoded.
func (d *fountainDecoder) provide(chunk []byte, id uint32) (bool, error) {
	if id > FECChunkCountMax {
		return false, ErrOutOfRangeChunkID
	}
	if d.done {
		return true, nil
	}
	data := make([]byte, FECChunkSize)
	copy(data, chunk)
	blk := fountain.LTBlock{BlockCode: int64(id), Data: data}
	if d.dec.AddBlocks([]fountain.LTBlock{blk}) {
		d.decoded = d.dec.Decode()
		d.done = d.decoded != nil
	}
	return d.done, nil
}

func (d *fountainDecoder) decode() ([]byte, error) {
	if !d.done || len(d.decoded) < d.objSize {
		return nil, ErrCodecInternalFailure
	}
	return d.decoded[:d.objSize], nil
}

func (d *fountainDecoder) release() {
	if d.h != nil {
		globalFountainPool.release(d.h)
		d.h = nil
	}
}
