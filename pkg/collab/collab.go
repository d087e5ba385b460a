// Package collab names the external collaborators this relay depends
// on but does not implement: blockchain validation rules, the mempool,
// the persistent block store, and the validator. Only their interfaces
// live here; the implementations are the host application's
// responsibility.
package collab

// AcceptResult is the Validator's verdict on a reassembled block.
type AcceptResult uint8

const (
	Accepted AcceptResult = iota
	Invalid
	MissingParent
)

// BlockchainReader lets the sender's interleaver (pkg/interleave) walk
// the chain by height and check sync status for the partial-block
// registry's trusted-peer timeout exception.
type BlockchainReader interface {
	ReadBlock(height uint64) ([]byte, error)
	ChainTip() (uint64, error)
	IsInitialSync(peer string) (bool, error)
}

// Mempool is consulted by the block reassembler (pkg/reassembler) to
// resolve short transaction ids against transactions already known
// locally, and by the sender's transaction relay (pkg/txrelay) to walk
// candidates for backfill.
type Mempool interface {
	GetTx(wtxid [32]byte) ([]byte, bool)
	IterByAncestorScore(fn func(wtxid [32]byte, raw []byte) bool)
}

// Validator runs consensus/script validation on a fully reassembled
// block.
type Validator interface {
	AcceptBlock(block []byte, fromTrustedPeer bool) (AcceptResult, error)
}
