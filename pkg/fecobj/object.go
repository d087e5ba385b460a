// Package fecobj wraps pkg/fec's coding primitives with the FEC object
// layer's durability story: an optional memory-mapped backing file so a
// partially received object survives a process restart, plus the
// provide_chunk bookkeeping (duplicate rejection, slot accounting,
// move-assignment-style transfer) that sits above the pure codec.
package fecobj

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/blockstream/satellite-relay/pkg/fec"
	"github.com/blockstream/satellite-relay/pkg/mmapstore"
)

// MemoryMode selects whether a decoder keeps its chunks purely in RAM or
// also mirrors them to a durable mmap-backed file.
type MemoryMode uint8

const (
	ModeMemory MemoryMode = iota
	ModeMmap
)

// ErrIncompatible is returned by Absorb when the two objects do not
// describe the same underlying object.
var ErrIncompatible = errors.New("fecobj: incompatible object sizes")

// Object is a durable-storage-aware FEC decoder: pkg/fec.Decoder remains
// the single source of truth for the coding logic (in memory, for every
// scheme), while an mmapstore.Store — when present — mirrors each
// inserted chunk to disk purely for crash/restart recovery. One decode
// path with an optional durability side-channel: pkg/partialblock's
// startup scan rebuilds an Object by replaying a store's recorded
// chunks back through ProvideChunk.
type Object struct {
	objSize    int
	chunkCount int
	mode       MemoryMode
	decoder    *fec.Decoder

	store    *mmapstore.Store
	filename string
	ownsFile bool
	keepFile bool

	received    map[uint32]struct{}
	chunksRecvd int
}

// New constructs an Object for an object of objSize bytes. When mode is
// ModeMmap and the object needs more than one chunk, a backing file is
// opened at dataDir/partial_blocks/<objID>_<objSize> (or a random token
// name if objID is empty). keepFile controls whether Close unlinks the
// backing file or leaves it for a future recovery scan.
func New(objSize int, mode MemoryMode, dataDir, objID string, keepFile bool) (*Object, error) {
	chunkCount := fec.ChunkCount(objSize)

	decoder, err := fec.NewDecoder(objSize)
	if err != nil {
		return nil, err
	}

	o := &Object{
		objSize:    objSize,
		chunkCount: chunkCount,
		mode:       mode,
		decoder:    decoder,
		keepFile:   keepFile,
		received:   make(map[uint32]struct{}),
	}

	// Objects that fit in one chunk store their payload directly inside
	// the decoder and never need a backing file, in either mode.
	if chunkCount < 2 || mode != ModeMmap {
		return o, nil
	}

	o.filename = computeFilename(dataDir, objID, objSize)
	store, err := mmapstore.Open(o.filename, fec.FECChunkSize, chunkCount)
	if err != nil {
		return nil, err
	}
	o.store = store
	o.ownsFile = true
	return o, nil
}

// OpenRecovered wraps an already-populated mmapstore.Store found during
// startup recovery: every non-empty-looking slot is replayed into a
// fresh decoder via ProvideChunk, reconstructing decode state without
// redownloading anything.
func OpenRecovered(objSize int, store *mmapstore.Store) (*Object, error) {
	decoder, err := fec.NewDecoder(objSize)
	if err != nil {
		return nil, err
	}
	o := &Object{
		objSize:    objSize,
		chunkCount: fec.ChunkCount(objSize),
		mode:       ModeMmap,
		decoder:    decoder,
		store:      store,
		filename:   store.Path(),
		ownsFile:   true,
		received:   make(map[uint32]struct{}),
	}
	for i := 0; i < store.NumChunks(); i++ {
		id := store.GetChunkID(i)
		// id 0 is never produced by the MDS or fountain encoders (both
		// only ever emit ids >= chunkCount), so an id-0 slot reliably
		// means "never written" rather than "legitimately received
		// chunk 0" — this is what makes a zero-initialized id region a
		// safe empty-slot sentinel without a dedicated marker.
		if id == 0 {
			continue
		}
		chunk, err := store.GetChunk(i)
		if err != nil {
			continue
		}
		if _, dup := o.received[id]; dup {
			continue
		}
		if _, err := o.decoder.ProvideChunk(chunk, id); err == nil {
			o.received[id] = struct{}{}
			o.chunksRecvd++
		}
	}
	return o, nil
}

func computeFilename(dataDir, objID string, objSize int) string {
	if objID == "" {
		return filepath.Join(dataDir, "partial_blocks", randomToken())
	}
	return filepath.Join(dataDir, "partial_blocks", fmt.Sprintf("%s_%d", objID, objSize))
}

func randomToken() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// ObjSize reports the original object size in bytes.
func (o *Object) ObjSize() int { return o.objSize }

// ChunkCount reports ceil(objSize / FECChunkSize).
func (o *Object) ChunkCount() int { return o.chunkCount }

// Filename reports the backing file path, or "" in memory mode.
func (o *Object) Filename() string { return o.filename }

// DecodeReady reports whether enough chunks have arrived to decode.
func (o *Object) DecodeReady() bool { return o.decoder.DecodeReady() }

// ProvideChunk records a received chunk. Duplicate ids are a no-op
// returning the current readiness; an out-of-range id is rejected
// silently (false, nil) without advancing any state, matching the
// codec's own failure-mode contract.
func (o *Object) ProvideChunk(chunk []byte, id uint32) (bool, error) {
	if o.decoder.DecodeReady() {
		return true, nil
	}
	if _, dup := o.received[id]; dup {
		return false, nil
	}

	ready, err := o.decoder.ProvideChunk(chunk, id)
	if err != nil {
		if errors.Is(err, fec.ErrOutOfRangeChunkID) {
			return false, nil
		}
		return false, err
	}

	if o.store != nil && o.chunksRecvd < o.chunkCount {
		if err := o.store.Insert(chunk, id, o.chunksRecvd); err != nil {
			return false, err
		}
	}

	o.received[id] = struct{}{}
	o.chunksRecvd++
	return ready, nil
}

// Decode reconstructs the original object. Valid only once DecodeReady
// reports true.
func (o *Object) Decode() ([]byte, error) { return o.decoder.Decode() }

// GetChunk re-serves a previously received chunk without requiring a
// full decode.
func (o *Object) GetChunk(id uint32) ([]byte, error) { return o.decoder.GetChunk(id) }

// IntoEncoder promotes a fully-received Object into a fec.Encoder,
// the object-layer counterpart of fec.Decoder.IntoEncoder.
func (o *Object) IntoEncoder() (*fec.Encoder, error) { return o.decoder.IntoEncoder() }

// Absorb transfers src's received state into o, the move-assignment
// counterpart described for the FEC object layer: if o has no backing
// file it adopts src's; if both have backing files, src's file is
// renamed onto o's path and o's prior (necessarily empty, since a
// ready object is never absorbed into) mapping is discarded. After
// Absorb, src is left empty and must not be used again.
func (o *Object) Absorb(src *Object) error {
	if o.objSize != src.objSize {
		return ErrIncompatible
	}
	if err := o.decoder.Absorb(src.decoder); err != nil {
		return err
	}

	switch {
	case src.store == nil:
		// nothing to transfer
	case o.store == nil:
		o.store = src.store
		o.filename = src.filename
		o.ownsFile = src.ownsFile
		o.keepFile = src.keepFile
	case o.filename != src.filename:
		if err := o.store.Close(); err != nil {
			return err
		}
		if err := src.store.Rename(o.filename); err != nil {
			return err
		}
		o.store = src.store
		o.ownsFile = true
	default:
		if err := src.store.Close(); err != nil {
			return err
		}
	}
	src.store = nil
	src.ownsFile = false

	for id := range src.received {
		o.received[id] = struct{}{}
	}
	o.chunksRecvd = len(o.received)
	src.received = map[uint32]struct{}{}
	src.chunksRecvd = 0

	return nil
}

// Close releases the backing file's mapping, unlinking it unless
// keepFile was set at construction.
func (o *Object) Close() error {
	if o.store == nil {
		return nil
	}
	if !o.ownsFile {
		return nil
	}
	if o.keepFile {
		return o.store.Close()
	}
	return o.store.Remove()
}

// Discard releases the mapping and unlinks the backing file even when
// keepFile was set, for entries evicted for good (timeouts, tombstones)
// whose on-disk state must not be recovered on the next start.
func (o *Object) Discard() error {
	if o.store == nil || !o.ownsFile {
		return nil
	}
	o.ownsFile = false
	return o.store.Remove()
}
