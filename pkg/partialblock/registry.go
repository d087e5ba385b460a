// Package partialblock implements the partial-block registry: the
// process-wide map from (hash prefix, peer) to the in-progress
// header/body decoders for one block, the header/body arrival-order
// bookkeeping, and the background timeout sweep that evicts stale
// entries.
package partialblock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	"github.com/blockstream/satellite-relay/pkg/fecobj"
)

// State is a partial block's lifecycle stage.
type State uint8

const (
	StateInit State = iota
	StateHeaderReceived
	StateDecodable
	StateProcessing
	StateDone
	StateTimedOut
	StateRemoved
)

// DefaultPartialTimeout is how long an entry may go without a chunk
// before the timeout sweep evicts it. Every chunk handed to the entry
// restarts the timer, including duplicate ids and ids the decoder
// rejects; it does not tell useful chunks from useless ones.
const DefaultPartialTimeout = 15 * time.Minute

// arrivalIndex is the buntdb index name used to scan entries ordered by
// last chunk arrival time; the registry's in-memory map remains the
// authoritative store, this index exists purely so the background timer
// can ask "what's stale" without walking every entry under the map's
// mutex.
const arrivalIndex = "arrival_idx"

// Key identifies one partial block: its sender and the low 64 bits of
// its object hash.
type Key struct {
	HashPrefix uint64
	Peer       string
}

func (k Key) String() string { return fmt.Sprintf("%d:%s", k.HashPrefix, k.Peer) }

// PartialBlock is the receiver-side state for one in-progress block
// decode. Its own mutex protects the state flags; the decoders
// themselves are mutated only by the reader goroutine, so no additional
// locking wraps HeaderDecoder/BodyDecoder access here.
type PartialBlock struct {
	mu sync.Mutex

	Key Key

	HeaderDecoder *fecobj.Object
	BodyDecoder   *fecobj.Object

	Height    uint64
	HasHeight bool

	IsHeaderProcessing bool
	IsDecodable        bool

	LastChunkArrivalTime time.Time
	CodecVersion         uint8

	FromTrustedPeer bool

	State State
}

// snapshot returns a copy of the flags a caller needs without holding
// pb's lock past the call.
func (pb *PartialBlock) snapshot() (State, bool, bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.State, pb.IsHeaderProcessing, pb.IsDecodable
}

func (pb *PartialBlock) recomputeDecodable() {
	ready := pb.HeaderDecoder != nil && pb.HeaderDecoder.DecodeReady() &&
		pb.BodyDecoder != nil && pb.BodyDecoder.DecodeReady()
	pb.IsDecodable = ready
	if ready && pb.State == StateHeaderReceived {
		pb.State = StateDecodable
	}
}

// Registry is the single process-wide (hash prefix, peer) to
// PartialBlock map.
type Registry struct {
	dataDir        string
	partialTimeout time.Duration
	isInitialSync  func(peer string) bool

	mu      sync.Mutex
	entries map[Key]*PartialBlock

	db *buntdb.DB

	stop chan struct{}
	wg   sync.WaitGroup
}

// New opens a Registry rooted at dataDir/partial_blocks. isInitialSync
// reports, for a given peer, whether the local chain is not yet synced
// with it, the timeout exception for trusted peers. A nil isInitialSync
// is treated as "always synced" (no exception applies).
func New(dataDir string, partialTimeout time.Duration, isInitialSync func(peer string) bool) (*Registry, error) {
	if partialTimeout <= 0 {
		partialTimeout = DefaultPartialTimeout
	}
	if isInitialSync == nil {
		isInitialSync = func(string) bool { return false }
	}

	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "partialblock: open arrival index")
	}
	if err := db.CreateIndex(arrivalIndex, "*", buntdb.IndexInt); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "partialblock: create arrival index")
	}

	return &Registry{
		dataDir:        dataDir,
		partialTimeout: partialTimeout,
		isInitialSync:  isInitialSync,
		entries:        make(map[Key]*PartialBlock),
		db:             db,
		stop:           make(chan struct{}),
	}, nil
}

func (r *Registry) getOrCreate(key Key, trusted bool) *PartialBlock {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pb, ok := r.entries[key]; ok {
		return pb
	}
	pb := &PartialBlock{Key: key, FromTrustedPeer: trusted, State: StateInit}
	r.entries[key] = pb
	return pb
}

// Get returns the entry for key, if any.
func (r *Registry) Get(key Key) (*PartialBlock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pb, ok := r.entries[key]
	return pb, ok
}

// ProvideHeaderChunk attaches chunk to key's header decoder, creating
// the decoder (and, if needed, the entry) on first arrival. It returns
// the entry and whether its header decoder just became ready.
func (r *Registry) ProvideHeaderChunk(key Key, trusted bool, objLength uint32, chunk []byte, id uint32, codecVersion uint8) (*PartialBlock, bool, error) {
	return r.provideChunk(key, trusted, objLength, chunk, id, codecVersion, true)
}

// ProvideBodyChunk is ProvideHeaderChunk's symmetric counterpart for the
// block body object.
func (r *Registry) ProvideBodyChunk(key Key, trusted bool, objLength uint32, chunk []byte, id uint32, codecVersion uint8) (*PartialBlock, bool, error) {
	return r.provideChunk(key, trusted, objLength, chunk, id, codecVersion, false)
}

func (r *Registry) provideChunk(key Key, trusted bool, objLength uint32, chunk []byte, id uint32, codecVersion uint8, isHeader bool) (*PartialBlock, bool, error) {
	pb := r.getOrCreate(key, trusted)

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if pb.State == StateDone || pb.State == StateRemoved {
		// Tombstone: this block was already accepted (or evicted for
		// good); stale chunks arriving late must not reopen work.
		return pb, false, nil
	}

	var obj **fecobj.Object
	if isHeader {
		obj = &pb.HeaderDecoder
		pb.IsHeaderProcessing = true
	} else {
		obj = &pb.BodyDecoder
	}

	if *obj == nil {
		kind := "body"
		if isHeader {
			kind = "header"
		}
		objID := objectID(key, trusted, kind)
		o, err := fecobj.New(int(objLength), fecobj.ModeMmap, r.dataDir, objID, true)
		if err != nil {
			return pb, false, err
		}
		*obj = o
		pb.CodecVersion = codecVersion
	}

	wasReady := (*obj).DecodeReady()
	_, err := (*obj).ProvideChunk(chunk, id)
	if err != nil {
		return pb, false, err
	}

	nowReady := (*obj).DecodeReady()

	if pb.State == StateInit {
		pb.State = StateHeaderReceived
	}
	pb.recomputeDecodable()

	pb.LastChunkArrivalTime = now()
	r.touch(key)

	return pb, nowReady && !wasReady, nil
}

// MarkProcessing transitions key's entry from decodable to processing,
// the handoff point to the reassembler.
func (r *Registry) MarkProcessing(key Key) (*PartialBlock, bool) {
	pb, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.State != StateDecodable {
		return pb, false
	}
	pb.State = StateProcessing
	return pb, true
}

// MarkDone transitions key's entry into the DONE tombstone state after
// successful block validation.
func (r *Registry) MarkDone(key Key) {
	r.mu.Lock()
	pb, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	pb.mu.Lock()
	pb.State = StateDone
	pb.mu.Unlock()
	r.untrack(key)
}

// MarkRemoved drops key's decoders (releasing their backing files) and
// tombstones the entry, used both for timeouts and for codec internal
// failures, which drop the partial block rather than crash the
// process.
func (r *Registry) MarkRemoved(key Key) {
	r.mu.Lock()
	pb, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return
	}

	pb.mu.Lock()
	if pb.HeaderDecoder != nil {
		pb.HeaderDecoder.Discard()
	}
	if pb.BodyDecoder != nil {
		pb.BodyDecoder.Discard()
	}
	pb.State = StateRemoved
	pb.mu.Unlock()

	r.untrack(key)
}

func (r *Registry) touch(key Key) {
	ts := now().UnixNano()
	_ = r.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key.String(), strconv.FormatInt(ts, 10), nil)
		return err
	})
}

func (r *Registry) untrack(key Key) {
	_ = r.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key.String())
		if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		return nil
	})
}

// now is overridable in tests.
var now = time.Now

func objectID(key Key, trusted bool, kind string) string {
	ip, port := splitPeer(key.Peer)
	if trusted {
		port = "0"
	}
	return fmt.Sprintf("%s_%s_%d_%s", ip, port, key.HashPrefix, kind)
}

func splitPeer(peer string) (ip, port string) {
	idx := strings.LastIndex(peer, ":")
	if idx < 0 {
		return peer, "0"
	}
	return peer[:idx], peer[idx+1:]
}

// Len reports how many (hash_prefix, peer) entries are currently
// tracked, for the stats surface.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the timeout scanner (if running) and closes the arrival
// index.
func (r *Registry) Close() error {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.wg.Wait()
	return r.db.Close()
}
