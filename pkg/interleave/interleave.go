// Package interleave implements the sender's interleaving scheduler: a
// rolling window of in-flight blocks, each contributing one chunk per
// pass in height order, so a short receive window covers many blocks
// partially rather than one block fully.
package interleave

import (
	"math"
	"sync"

	"github.com/blockstream/satellite-relay/pkg/collab"
	"github.com/blockstream/satellite-relay/pkg/fec"
	logpkg "github.com/blockstream/satellite-relay/pkg/log"
	"github.com/blockstream/satellite-relay/pkg/wire"
)

var log = logpkg.New("interleave")

// Compressor turns one raw block's bytes into the header and body FEC
// object payloads the sender encodes. pkg/blocksplit's Splitter is the
// implementation in this repository: it parses the raw block into
// transactions and runs pkg/compressor over the ones it sends in the
// body.
type Compressor interface {
	CompressBlock(raw []byte) (headerPayload, bodyPayload []byte, codecVersion uint8, err error)
}

// Chunk is one FEC-coded, addressed unit the transmit scheduler
// consumes: a wire chunk payload plus the message type it belongs to.
type Chunk struct {
	MsgType wire.MsgType
	Payload wire.ChunkPayload
}

// BlockEntry is one sender-side rolling-window entry: a bounded,
// pre-built sequence of chunk messages for one block's header and body
// objects, consumed one at a time each interleaver pass.
type BlockEntry struct {
	Height    uint64
	Messages  []Chunk
	NextIndex int
}

// BytesRemaining reports how many bytes of chunk payload this entry
// still has queued (unsent messages times FECChunkSize), the per-entry
// term of the window's byte total.
func (e *BlockEntry) BytesRemaining() int64 {
	return int64(len(e.Messages)-e.NextIndex) * fec.FECChunkSize
}

// Interleaver holds one rolling window of blocks for one multicast
// transmit group; the caller runs one interleaver goroutine per group.
type Interleaver struct {
	reader     collab.BlockchainReader
	compressor Compressor

	interleaveSize int
	depth          uint64
	offset         uint64

	mu           sync.Mutex
	window       map[uint64]*BlockEntry
	order        []uint64 // height order, oldest-inserted first
	nextHeight   uint64
	bytesInWindow int64
}

// New constructs an Interleaver. depth == 0 means "cycle the entire
// chain from genesis modulo chain height"; depth > 0 restricts to the
// trailing depth blocks.
func New(reader collab.BlockchainReader, compressor Compressor, interleaveSize int, depth, offset uint64) *Interleaver {
	return &Interleaver{
		reader:         reader,
		compressor:     compressor,
		interleaveSize: interleaveSize,
		depth:          depth,
		offset:         offset,
		window:         make(map[uint64]*BlockEntry),
	}
}

// Pass runs one scheduling iteration: refill the window up to
// interleaveSize entries, emit one chunk from each entry in height
// order, then GC exhausted entries. It returns the chunks emitted this
// pass, for the caller to push onto the transmit scheduler's
// priority-3 queue.
func (in *Interleaver) Pass() ([]Chunk, error) {
	if err := in.refill(); err != nil {
		return nil, err
	}
	return in.emitRound(), nil
}

func (in *Interleaver) refill() error {
	in.mu.Lock()
	needed := in.interleaveSize - len(in.window)
	in.mu.Unlock()

	for i := 0; i < needed; i++ {
		height, err := in.nextBlockHeight()
		if err != nil {
			return err
		}

		raw, err := in.reader.ReadBlock(height)
		if err != nil {
			log.WithError(err).WithField("height", height).Debug("could not read block for interleaving")
			continue
		}

		headerPayload, bodyPayload, codecVersion, err := in.compressor.CompressBlock(raw)
		if err != nil {
			log.WithError(err).WithField("height", height).Warn("could not compress block for FEC encoding")
			continue
		}

		messages, err := buildMessages(headerPayload, bodyPayload, codecVersion)
		if err != nil {
			return err
		}

		entry := &BlockEntry{Height: height, Messages: messages}

		in.mu.Lock()
		in.window[height] = entry
		in.order = append(in.order, height)
		in.bytesInWindow += entry.BytesRemaining()
		in.mu.Unlock()
	}
	return nil
}

func (in *Interleaver) nextBlockHeight() (uint64, error) {
	tip, err := in.reader.ChainTip()
	if err != nil {
		return 0, err
	}

	var height uint64
	if in.depth == 0 {
		height = in.offset + in.nextHeight
		if tip > 0 {
			height %= tip + 1
		}
	} else {
		start := uint64(0)
		if tip > in.depth {
			start = tip - in.depth
		}
		height = start + (in.offset+in.nextHeight)%(in.depth+1)
	}
	in.nextHeight++
	return height, nil
}

// emitRound emits one chunk from each window entry in height order,
// then GCs entries whose NextIndex has caught up with len(Messages).
func (in *Interleaver) emitRound() []Chunk {
	in.mu.Lock()
	defer in.mu.Unlock()

	var out []Chunk
	remaining := in.order[:0]
	for _, height := range in.order {
		entry, ok := in.window[height]
		if !ok {
			continue
		}
		if entry.NextIndex < len(entry.Messages) {
			out = append(out, entry.Messages[entry.NextIndex])
			entry.NextIndex++
			in.bytesInWindow -= fec.FECChunkSize
		}
		if entry.NextIndex >= len(entry.Messages) {
			delete(in.window, height)
			continue
		}
		remaining = append(remaining, height)
	}
	in.order = remaining
	return out
}

// BytesInWindow reports the window's running byte-accounting total.
func (in *Interleaver) BytesInWindow() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.bytesInWindow
}

// Len reports how many blocks currently occupy the window.
func (in *Interleaver) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.window)
}

func buildMessages(headerPayload, bodyPayload []byte, codecVersion uint8) ([]Chunk, error) {
	headerChunks, err := encodeObject(wire.MsgBlockHeader, headerPayload, codecVersion)
	if err != nil {
		return nil, err
	}
	bodyChunks, err := encodeObject(wire.MsgBlockContents, bodyPayload, codecVersion)
	if err != nil {
		return nil, err
	}
	return interleaveChunks(headerChunks, bodyChunks), nil
}

// interleaveChunks merges two chunk sequences round-robin, threading a
// block entry's header and body chunks into the order they are
// eventually consumed from.
func interleaveChunks(a, b []Chunk) []Chunk {
	out := make([]Chunk, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		if i < len(a) {
			out = append(out, a[i])
			i++
		}
		if j < len(b) {
			out = append(out, b[j])
			j++
		}
	}
	return out
}

func encodeObject(msgType wire.MsgType, payload []byte, codecVersion uint8) ([]Chunk, error) {
	enc, err := fec.NewEncoder(payload)
	if err != nil {
		return nil, err
	}
	total := enc.ChunkCount() + redundancyFor(enc.Scheme(), enc.ChunkCount())

	hashPrefix := hashPrefixOf(payload)
	chunks := make([]Chunk, 0, total)
	for slot := 0; slot < total; slot++ {
		data, id, err := enc.BuildChunk(slot)
		if err != nil {
			return nil, err
		}
		var cp wire.ChunkPayload
		cp.HashPrefix = hashPrefix
		cp.ObjLength = uint32(len(payload))
		cp.ChunkID = id
		cp.CodecVersion = codecVersion
		copy(cp.Payload[:], data)
		chunks = append(chunks, Chunk{MsgType: msgType, Payload: cp})
	}
	return chunks, nil
}

// redundancyFor picks how many chunks beyond chunk_count the sender
// transmits per object, so a receiver dropping some fraction of the
// stream still clears the scheme's recovery threshold: MDS needs none
// since any chunk_count distinct ids recover the object, but sends a
// few extra recovery ids as loss headroom, bounded by the scheme's
// available recovery-id space; fountain overallocates by
// ceil(0.05*chunk_count)+3.
func redundancyFor(scheme fec.Scheme, chunkCount int) int {
	switch scheme {
	case fec.SchemeRepetition:
		return 2
	case fec.SchemeMDS:
		overhead := int(math.Ceil(0.1 * float64(chunkCount)))
		if overhead < 2 {
			overhead = 2
		}
		if overhead > 255-chunkCount {
			overhead = 255 - chunkCount
		}
		if overhead < 0 {
			overhead = 0
		}
		return overhead
	default:
		return int(math.Ceil(0.05*float64(chunkCount))) + 3
	}
}

func hashPrefixOf(payload []byte) uint64 {
	var h uint64 = 1469598103934665603
	for _, b := range payload {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}
