package partialblock

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/blockstream/satellite-relay/pkg/fec"
	"github.com/blockstream/satellite-relay/pkg/fecobj"
	"github.com/blockstream/satellite-relay/pkg/mmapstore"
)

// canonicalChunkFile matches the
// "<ip>_<port>_<hashPrefixDecimal>_<kind>_<lenBytes>" file-naming
// pattern exactly; anything else found in the partial_blocks directory
// is not recoverable and is deleted on startup.
var canonicalChunkFile = regexp.MustCompile(`^([0-9A-Fa-f.:]+)_([0-9]+)_([0-9]+)_(header|body)_([0-9]+)$`)

// Recover scans dataDir/partial_blocks, deleting any file that doesn't
// match the canonical chunk-file pattern, and reconstructing decoders
// (via mmapstore + fecobj.OpenRecovered) for every matching one, pairing
// header and body files that share (ip, port, hash prefix) into a
// single PartialBlock entry. Any decoder that is already DecodeReady is
// left for the caller to hand to the reassembler immediately.
func (r *Registry) Recover() error {
	dir := filepath.Join(r.dataDir, "partial_blocks")
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		m := canonicalChunkFile.FindStringSubmatch(name)
		if m == nil {
			_ = os.Remove(filepath.Join(dir, name))
			continue
		}

		ip, portStr, hashPrefixStr, kind, lenStr := m[1], m[2], m[3], m[4], m[5]

		hashPrefix, err := strconv.ParseUint(hashPrefixStr, 10, 64)
		if err != nil {
			_ = os.Remove(filepath.Join(dir, name))
			continue
		}
		objLength, err := strconv.Atoi(lenStr)
		if err != nil {
			_ = os.Remove(filepath.Join(dir, name))
			continue
		}

		peer := fmt.Sprintf("%s:%s", ip, portStr)
		trusted := portStr == "0"
		key := Key{HashPrefix: hashPrefix, Peer: peer}

		chunkCount := fec.ChunkCount(objLength)
		path := filepath.Join(dir, name)
		store, err := mmapstore.Open(path, fec.FECChunkSize, chunkCount)
		if err != nil {
			continue
		}
		if !store.Recoverable() {
			store.Remove()
			continue
		}

		obj, err := fecobj.OpenRecovered(objLength, store)
		if err != nil {
			store.Close()
			continue
		}

		pb := r.getOrCreate(key, trusted)
		pb.mu.Lock()
		if kind == "header" {
			pb.HeaderDecoder = obj
			pb.IsHeaderProcessing = true
		} else {
			pb.BodyDecoder = obj
		}
		if pb.State == StateInit {
			pb.State = StateHeaderReceived
		}
		pb.recomputeDecodable()
		pb.LastChunkArrivalTime = now()
		pb.mu.Unlock()

		r.touch(key)
	}

	return nil
}
