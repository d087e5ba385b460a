// Package outoforder tracks decoded blocks whose parent has not yet
// arrived. Blocks may arrive in any order over the interleaved chunk
// stream, and a decoded block whose parent is still missing must not
// be discarded: it is held here until its parent shows up.
package outoforder

import "sync"

// Store holds blocks keyed by the hash of the parent they are waiting
// on. A block may have more than one successor queued against it (a
// fork), so each parent hash maps to a slice.
type Store struct {
	mu         sync.Mutex
	successors map[[32]byte][]Block
}

// Block is the minimal shape the reassembler (pkg/reassembler) hands
// over: the decoded raw block bytes plus the parent hash it is waiting
// on.
type Block struct {
	ParentHash [32]byte
	Hash       [32]byte
	Raw        []byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{successors: make(map[[32]byte][]Block)}
}

// StoreOoO records a decoded block whose parent is not yet known to the
// validator, to be revisited once that parent is accepted.
func (s *Store) StoreOoO(b Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successors[b.ParentHash] = append(s.successors[b.ParentHash], b)
}

// ProcessSuccessors removes and returns every block waiting on
// parentHash, for the caller to attempt acceptance of in turn (each of
// which may itself unblock further successors via a subsequent call
// with that block's own hash).
func (s *Store) ProcessSuccessors(parentHash [32]byte) []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks := s.successors[parentHash]
	delete(s.successors, parentHash)
	return blocks
}

// Len reports how many blocks are currently held pending a parent.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.successors {
		n += len(v)
	}
	return n
}
