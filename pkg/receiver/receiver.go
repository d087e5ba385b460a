// Package receiver implements the reader loop: one goroutine per
// receive socket, verifying and de-obfuscating each inbound datagram,
// then dispatching it by message type — control traffic (SYN,
// keepalive, ping/pong, disconnect) is answered via the transmit
// scheduler's high-priority queues, block chunks feed the
// partial-block registry and, once an entry turns decodable, the
// reassembler and validator, and transaction chunks decode into
// standalone mempool candidates.
package receiver

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/blockstream/satellite-relay/pkg/collab"
	"github.com/blockstream/satellite-relay/pkg/fecobj"
	logpkg "github.com/blockstream/satellite-relay/pkg/log"
	"github.com/blockstream/satellite-relay/pkg/outoforder"
	"github.com/blockstream/satellite-relay/pkg/partialblock"
	"github.com/blockstream/satellite-relay/pkg/reassembler"
	"github.com/blockstream/satellite-relay/pkg/scheduler"
	"github.com/blockstream/satellite-relay/pkg/wire"
)

var log = logpkg.New("receiver")

// maxPendingTxObjects bounds how many in-progress standalone
// transaction decoders the receiver tracks at once; past it, the
// oldest entry is evicted to make room.
const maxPendingTxObjects = 4096

// maxBlockObjectSize and maxTxObjectSize cap the object length a
// datagram may claim. The length field is attacker-influenced on
// untrusted links, and a decoder's allocation scales with it.
const (
	maxBlockObjectSize = 32 << 20
	maxTxObjectSize    = 1 << 20
)

// Receiver drives one receive socket's read-dispatch loop.
type Receiver struct {
	magic    uint64
	registry *partialblock.Registry
	reasm    *reassembler.Reassembler
	validator collab.Validator
	ooo      *outoforder.Store

	// replyGroup carries control responses (SYN, pong, disconnect)
	// back toward the sender. Nil on pure multicast receive sockets,
	// which have no return path.
	replyGroup *scheduler.Group

	trusted func(peer string) bool

	// onTx receives each fully decoded standalone transaction. Nil
	// drops them.
	onTx func(raw []byte)

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	txObjects map[partialblock.Key]*fecobj.Object
	txOrder   []partialblock.Key

	stop chan struct{}
}

// Option configures optional Receiver collaborators.
type Option func(*Receiver)

// WithReplyGroup gives the receiver a transmit group for control
// responses, used on unicast sockets where a return path exists.
func WithReplyGroup(g *scheduler.Group) Option {
	return func(r *Receiver) { r.replyGroup = g }
}

// WithTxHandler registers the callback invoked with each fully decoded
// standalone transaction's raw bytes.
func WithTxHandler(fn func(raw []byte)) Option {
	return func(r *Receiver) { r.onTx = fn }
}

// WithTrustFunc overrides how the receiver classifies a peer as
// trusted; the default trusts nobody.
func WithTrustFunc(fn func(peer string) bool) Option {
	return func(r *Receiver) { r.trusted = fn }
}

// New constructs a Receiver. registry, reasm and validator are the
// decode pipeline; ooo holds decoded blocks whose parent has not
// arrived yet.
func New(magic uint64, registry *partialblock.Registry, reasm *reassembler.Reassembler, validator collab.Validator, ooo *outoforder.Store, opts ...Option) *Receiver {
	r := &Receiver{
		magic:     magic,
		registry:  registry,
		reasm:     reasm,
		validator: validator,
		ooo:       ooo,
		trusted:   func(string) bool { return false },
		lastSeen:  make(map[string]time.Time),
		txObjects: make(map[partialblock.Key]*fecobj.Object),
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stop ends the Run loop at its next read deadline.
func (r *Receiver) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// Run reads datagrams off conn and dispatches each one until Stop is
// called. It blocks the calling goroutine.
func (r *Receiver) Run(conn *net.UDPConn) {
	buf := make([]byte, wire.MessageSize)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			log.WithError(err).Warn("could not arm read deadline")
			return
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			log.WithError(err).Warn("read failed")
			continue
		}
		r.Handle(addr.String(), buf[:n])
	}
}

// Handle authenticates and dispatches one datagram. Anything that
// fails verification is dropped silently: on a lossy one-way link a
// corrupt datagram is indistinguishable from line noise and warrants
// no reply.
func (r *Receiver) Handle(peer string, buf []byte) {
	if len(buf) != wire.MessageSize {
		return
	}
	if !scheduler.OpenMessage(r.magic, buf) {
		return
	}

	hdr := wire.UnmarshalHeader(buf)
	body := buf[wire.HeaderSize:]

	r.touchPeer(peer)

	switch hdr.MsgType {
	case wire.MsgSyn:
		r.handleSyn(peer, body)
	case wire.MsgKeepalive:
		// liveness already recorded above
	case wire.MsgDisconnect:
		r.forgetPeer(peer)
	case wire.MsgPing:
		r.reply(scheduler.PriorityReaderLow, wire.MsgPong, body[:8])
	case wire.MsgPong:
		// liveness already recorded above
	case wire.MsgBlockHeader:
		r.handleBlockChunk(peer, body, true)
	case wire.MsgBlockContents:
		r.handleBlockChunk(peer, body, false)
	case wire.MsgTxContents:
		r.handleTxChunk(peer, body)
	default:
		// unknown type: drop, never disconnect — a newer sender may be
		// speaking a version this receiver predates
	}
}

func (r *Receiver) handleSyn(peer string, body []byte) {
	version := wire.ProtocolVersion(binary.LittleEndian.Uint64(body[:8]))
	if version < wire.MinSupportedProtocolVersion {
		log.WithField("peer", peer).WithField("version", version).Info("rejecting peer with unsupported protocol version")
		r.reply(scheduler.PriorityReaderHigh, wire.MsgDisconnect, nil)
		r.forgetPeer(peer)
		return
	}

	var ours [8]byte
	binary.LittleEndian.PutUint64(ours[:], uint64(wire.MinSupportedProtocolVersion))
	r.reply(scheduler.PriorityReaderHigh, wire.MsgSyn, ours[:])
}

func (r *Receiver) reply(priority scheduler.Priority, msgType wire.MsgType, payload []byte) {
	if r.replyGroup == nil {
		return
	}
	raw := payload
	if raw == nil {
		raw = []byte{}
	}
	r.replyGroup.Enqueue(priority, scheduler.Outbound{MsgType: msgType, Raw: raw})
}

func (r *Receiver) touchPeer(peer string) {
	r.mu.Lock()
	r.lastSeen[peer] = time.Now()
	r.mu.Unlock()
}

func (r *Receiver) forgetPeer(peer string) {
	r.mu.Lock()
	delete(r.lastSeen, peer)
	r.mu.Unlock()
}

// LastSeen reports when peer last produced a verifiable datagram.
func (r *Receiver) LastSeen(peer string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.lastSeen[peer]
	return t, ok
}

func (r *Receiver) handleBlockChunk(peer string, body []byte, isHeader bool) {
	cp := wire.UnmarshalChunkPayload(body)
	if cp.ObjLength == 0 || cp.ObjLength > maxBlockObjectSize {
		return
	}
	key := partialblock.Key{HashPrefix: cp.HashPrefix, Peer: peer}
	trusted := r.trusted(peer)

	provide := r.registry.ProvideBodyChunk
	if isHeader {
		provide = r.registry.ProvideHeaderChunk
	}
	if _, _, err := provide(key, trusted, cp.ObjLength, cp.Payload[:], cp.ChunkID&wire.ChunkIDMask, cp.CodecVersion); err != nil {
		log.WithError(err).WithField("peer", peer).Warn("dropping partial block after chunk failure")
		r.registry.MarkRemoved(key)
		return
	}

	pb, ok := r.registry.MarkProcessing(key)
	if !ok {
		return
	}
	r.completeBlock(key, pb)
}

// completeBlock decodes, reassembles and validates one decodable
// partial block, then walks any out-of-order successors the accepted
// block unblocks.
func (r *Receiver) completeBlock(key partialblock.Key, pb *partialblock.PartialBlock) {
	headerBytes, err := pb.HeaderDecoder.Decode()
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("header decode failed, dropping partial block")
		r.registry.MarkRemoved(key)
		return
	}
	bodyBytes, err := pb.BodyDecoder.Decode()
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("body decode failed, dropping partial block")
		r.registry.MarkRemoved(key)
		return
	}

	raw, err := r.reasm.Reassemble(headerBytes, bodyBytes)
	if err != nil {
		log.WithError(err).WithField("key", key).Info("block reassembly failed, dropping partial block")
		r.registry.MarkRemoved(key)
		return
	}

	r.acceptChain(raw, pb.FromTrustedPeer)
	r.registry.MarkDone(key)
}

// acceptChain hands raw to the validator; on acceptance it replays
// every stored successor waiting on this block, breadth-first, so one
// late parent can unblock an arbitrarily long chain.
func (r *Receiver) acceptChain(raw []byte, fromTrusted bool) {
	pending := []outoforder.Block{blockOf(raw)}
	for len(pending) > 0 {
		b := pending[0]
		pending = pending[1:]

		result, err := r.validator.AcceptBlock(b.Raw, fromTrusted)
		if err != nil {
			log.WithError(err).Warn("block validation errored")
			continue
		}
		switch result {
		case collab.Accepted:
			pending = append(pending, r.ooo.ProcessSuccessors(b.Hash)...)
		case collab.MissingParent:
			r.ooo.StoreOoO(b)
		case collab.Invalid:
			log.WithField("hash", b.Hash).Info("discarding invalid block")
		}
	}
}

func blockOf(raw []byte) outoforder.Block {
	var b outoforder.Block
	b.Raw = raw
	if len(raw) >= reassembler.HeaderRawSize {
		b.Hash = sha256.Sum256(raw[:reassembler.HeaderRawSize])
		copy(b.ParentHash[:], raw[4:36])
	}
	return b
}

func (r *Receiver) handleTxChunk(peer string, body []byte) {
	cp := wire.UnmarshalChunkPayload(body)
	if cp.ObjLength == 0 || cp.ObjLength > maxTxObjectSize {
		return
	}
	key := partialblock.Key{HashPrefix: cp.HashPrefix, Peer: peer}

	r.mu.Lock()
	obj, ok := r.txObjects[key]
	if !ok {
		var err error
		obj, err = fecobj.New(int(cp.ObjLength), fecobj.ModeMemory, "", "", false)
		if err != nil {
			r.mu.Unlock()
			log.WithError(err).WithField("peer", peer).Warn("could not open transaction decoder")
			return
		}
		r.txObjects[key] = obj
		r.txOrder = append(r.txOrder, key)
		r.evictOldestTxLocked()
	}
	r.mu.Unlock()

	ready, err := obj.ProvideChunk(cp.Payload[:], cp.ChunkID&wire.ChunkIDMask)
	if err != nil {
		log.WithError(err).WithField("peer", peer).Warn("dropping transaction decoder after chunk failure")
		r.dropTxObject(key)
		return
	}
	if !ready {
		return
	}

	raw, err := obj.Decode()
	r.dropTxObject(key)
	if err != nil {
		log.WithError(err).WithField("peer", peer).Warn("transaction decode failed")
		return
	}
	if r.onTx != nil {
		r.onTx(raw)
	}
}

func (r *Receiver) dropTxObject(key partialblock.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.txObjects, key)
	for i, k := range r.txOrder {
		if k == key {
			r.txOrder = append(r.txOrder[:i], r.txOrder[i+1:]...)
			break
		}
	}
}

func (r *Receiver) evictOldestTxLocked() {
	for len(r.txOrder) > maxPendingTxObjects {
		oldest := r.txOrder[0]
		r.txOrder = r.txOrder[1:]
		delete(r.txObjects, oldest)
	}
}

// PendingTxObjects reports how many standalone transaction decoders
// are currently in flight, for the stats surface.
func (r *Receiver) PendingTxObjects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txObjects)
}
