package partialblock

import (
	"strconv"
	"time"

	"github.com/tidwall/buntdb"

	logpkg "github.com/blockstream/satellite-relay/pkg/log"
)

var log = logpkg.New("partialblock")

// timeoutScanInterval is how often the background timer wakes to sweep
// stale entries; coarser than partialTimeout itself since eviction only
// needs to happen well before the next scan, not to the millisecond.
const timeoutScanInterval = 30 * time.Second

// RunTimeoutScanner runs the background eviction timer until Close is
// called: every timeoutScanInterval it walks the arrival-time index for
// entries older than partialTimeout and evicts them, unless the entry
// came from a trusted peer whose chain the local node has not finished
// syncing with.
func (r *Registry) RunTimeoutScanner() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(timeoutScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweepExpired()
			}
		}
	}()
}

func (r *Registry) sweepExpired() {
	cutoff := now().Add(-r.partialTimeout).UnixNano()

	var stale []Key
	_ = r.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendLessThan(arrivalIndex, strconv.FormatInt(cutoff, 10), func(keyStr, _ string) bool {
			key, ok := parseKeyString(keyStr)
			if ok {
				stale = append(stale, key)
			}
			return true
		})
	})

	for _, key := range stale {
		pb, ok := r.Get(key)
		if !ok {
			r.untrack(key)
			continue
		}
		pb.mu.Lock()
		exempt := pb.FromTrustedPeer && r.isInitialSync(pb.Key.Peer)
		pb.mu.Unlock()
		if exempt {
			continue
		}

		log.WithField("key", key.String()).Debug("partial block timed out")

		pb.mu.Lock()
		if pb.HeaderDecoder != nil {
			pb.HeaderDecoder.Discard()
		}
		if pb.BodyDecoder != nil {
			pb.BodyDecoder.Discard()
		}
		pb.State = StateTimedOut
		pb.mu.Unlock()

		r.mu.Lock()
		delete(r.entries, key)
		r.mu.Unlock()
		r.untrack(key)
	}
}

func parseKeyString(s string) (Key, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			hp, err := strconv.ParseUint(s[:i], 10, 64)
			if err != nil {
				return Key{}, false
			}
			return Key{HashPrefix: hp, Peer: s[i+1:]}, true
		}
	}
	return Key{}, false
}
