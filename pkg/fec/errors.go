// Package fec implements the chunk coding primitives shared by the
// sender and receiver: fixed-size chunking, and the three coexisting
// coding schemes (repetition, MDS, fountain) used to turn an object into
// chunks and back.
package fec

import "github.com/pkg/errors"

// FECChunkSize is the fixed size, in bytes, of every FEC-coded chunk.
// This package is the canonical owner of the constant; pkg/wire embeds
// it in the wire layout rather than redefining it.
const FECChunkSize = 1152

// Sentinel errors distinguished by the relay core. Duplicate chunk ids
// and a codec needing more chunks are not failures: callers
// treat them as a successful no-op / "keep accumulating" signal
// respectively, and ProvideChunk never returns them as an error value.
var (
	ErrOutOfRangeChunkID       = errors.New("fec: chunk id out of range for scheme")
	ErrMmapFailed              = errors.New("fec: mmap failed")
	ErrFileSystemFailed        = errors.New("fec: filesystem operation failed")
	ErrCodecInternalFailure    = errors.New("fec: codec internal failure")
	ErrUnsupportedCodecVersion = errors.New("fec: unsupported codec version")
	ErrInvalidSlot             = errors.New("fec: slot index out of range")
)
