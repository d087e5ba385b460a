package statsserver

import (
	"github.com/blockstream/satellite-relay/pkg/interleave"
	"github.com/blockstream/satellite-relay/pkg/partialblock"
	"github.com/blockstream/satellite-relay/pkg/peerstore"
)

// RelayStats aggregates the counters a running satellite-relay process
// wants surfaced over /stats and the periodic log line: partial-block
// registry occupancy per direction, each transmit group's interleaver
// window, and the persistent peer table size.
type RelayStats struct {
	Registries   map[string]*partialblock.Registry
	Interleavers map[string]*interleave.Interleaver
	Peers        *peerstore.Store
}

// Snapshot implements Provider.
func (r *RelayStats) Snapshot() map[string]interface{} {
	out := make(map[string]interface{})

	registries := make(map[string]int, len(r.Registries))
	for name, reg := range r.Registries {
		if reg != nil {
			registries[name] = reg.Len()
		}
	}
	out["partial_blocks"] = registries

	windows := make(map[string]int, len(r.Interleavers))
	for name, in := range r.Interleavers {
		if in != nil {
			windows[name] = in.Len()
		}
	}
	out["interleave_windows"] = windows

	if r.Peers != nil {
		if all, err := r.Peers.All(); err == nil {
			out["peers"] = len(all)
		}
	}

	return out
}
