// Package txrelay implements the per-group mempool transaction relay
// loop: walk the mempool in ancestor-score order, FEC-encode each
// not-yet-sent transaction, and push it onto the group's priority-2
// queue under its own transactions-per-second throttle.
package txrelay

import (
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/blockstream/satellite-relay/pkg/collab"
	"github.com/blockstream/satellite-relay/pkg/fec"
	logpkg "github.com/blockstream/satellite-relay/pkg/log"
	"github.com/blockstream/satellite-relay/pkg/scheduler"
	"github.com/blockstream/satellite-relay/pkg/wire"
)

var log = logpkg.New("txrelay")

// dedupFilterCapacity sizes the already-relayed filter at roughly a
// day's worth of transactions.
const dedupFilterCapacity = 500000

// Relay streams mempool transactions onto one multicast transmit
// group.
type Relay struct {
	mempool collab.Mempool
	group   *scheduler.Group

	seen *cuckoo.Filter

	throttle *txThrottle

	stop chan struct{}
}

// New constructs a Relay. txnPerSec is the udpmulticasttx
// "txn_per_sec" parameter and must be > 0.
func New(mempool collab.Mempool, group *scheduler.Group, txnPerSec uint32) *Relay {
	return &Relay{
		mempool:  mempool,
		group:    group,
		seen:     cuckoo.NewFilter(uint(dedupFilterCapacity)),
		throttle: newTxThrottle(txnPerSec),
		stop:     make(chan struct{}),
	}
}

// Stop ends the relay loop at its next throttle check.
func (r *Relay) Stop() {
	close(r.stop)
}

// Run drains mempool candidates onto the transmit group until Stop is
// called. It blocks the calling goroutine; callers run it in its own
// goroutine, one per configured TX group.
func (r *Relay) Run() {
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		quota := r.throttle.quota()
		if quota < r.throttle.ratePerSec {
			wait := r.throttle.estimateWait(r.throttle.ratePerSec)
			select {
			case <-r.stop:
				return
			case <-time.After(wait):
			}
			continue
		}
		r.throttle.useQuota(quota)

		candidates := r.collectCandidates(int(quota))
		for _, tx := range candidates {
			select {
			case <-r.stop:
				return
			default:
			}
			if err := r.sendTx(tx.raw); err != nil {
				log.WithError(err).WithField("group", r.group.Name).Warn("failed to FEC-encode mempool transaction")
				continue
			}
		}
	}
}

type candidate struct {
	wtxid [32]byte
	raw   []byte
}

// collectCandidates walks the mempool in ancestor-score order,
// skipping transactions already relayed (tracked in the cuckoo
// filter), and returns up to limit of them.
//
// Ancestor-score order places parents before descendants, so a child
// is not sent ahead of an unconfirmed parent the receiver lacks;
// collab.Mempool does not expose previous-output references, so the
// relay relies on that ordering instead of re-deriving it from inputs.
func (r *Relay) collectCandidates(limit int) []candidate {
	out := make([]candidate, 0, limit)
	r.mempool.IterByAncestorScore(func(wtxid [32]byte, raw []byte) bool {
		if len(out) >= limit {
			return false
		}
		if r.seen.Lookup(wtxid[:]) {
			return true
		}
		r.seen.Insert(wtxid[:])
		out = append(out, candidate{wtxid: wtxid, raw: raw})
		return true
	})
	return out
}

// sendTx FEC-encodes raw and enqueues every resulting chunk onto the
// group's priority-2 queue as MsgTxContents messages.
func (r *Relay) sendTx(raw []byte) error {
	enc, err := fec.NewEncoder(raw)
	if err != nil {
		return err
	}
	total := enc.ChunkCount() + txRedundancy(enc.ChunkCount())
	hashPrefix := hashPrefixOf(raw)

	for slot := 0; slot < total; slot++ {
		data, id, err := enc.BuildChunk(slot)
		if err != nil {
			return err
		}
		var cp wire.ChunkPayload
		cp.HashPrefix = hashPrefix
		cp.ObjLength = uint32(len(raw))
		cp.ChunkID = id
		copy(cp.Payload[:], data)

		r.group.Enqueue(scheduler.PriorityTxRelay, scheduler.Outbound{
			MsgType: wire.MsgTxContents,
			Chunk:   cp,
		})
	}
	return nil
}

// txRedundancy gives standalone transaction objects extra chunks, since
// a dropped transaction here has no retransmission path: one for a
// single-chunk object and two otherwise. Unlike the block interleaver's
// redundancyFor, the count does not grow with chunk count.
func txRedundancy(chunkCount int) int {
	if chunkCount <= 1 {
		return 1
	}
	return 2
}

func hashPrefixOf(payload []byte) uint64 {
	var h uint64 = 1469598103934665603
	for _, b := range payload {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// txThrottle is a transaction-count token bucket with a burst ceiling
// of two seconds' budget. Byte-rate limiting already belongs to
// pkg/scheduler; this is a separate, tx-count-scoped budget.
type txThrottle struct {
	mu         sync.Mutex
	tokens     float64
	ratePerSec uint32
	maxQuota   float64
	last       time.Time
}

func newTxThrottle(txnPerSec uint32) *txThrottle {
	return &txThrottle{
		ratePerSec: txnPerSec,
		maxQuota:   2 * float64(txnPerSec),
		last:       time.Now(),
	}
}

func (t *txThrottle) quota() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.tokens += now.Sub(t.last).Seconds() * float64(t.ratePerSec)
	t.last = now
	if t.tokens > t.maxQuota {
		t.tokens = t.maxQuota
	}
	if t.tokens < 0 {
		return 0
	}
	return uint32(t.tokens)
}

func (t *txThrottle) useQuota(n uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens -= float64(n)
	if t.tokens < 0 {
		t.tokens = 0
	}
}

func (t *txThrottle) estimateWait(need uint32) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	deficit := float64(need) - t.tokens
	if deficit <= 0 || t.ratePerSec == 0 {
		return 0
	}
	return time.Duration(deficit / float64(t.ratePerSec) * float64(time.Second))
}
