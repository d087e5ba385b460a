package fec

// Scheme is the coding scheme a Decoder/Encoder picked for a given
// object, determined once from the chunk count at construction time.
type Scheme uint8

const (
	// SchemeRepetition is used when the object fits in a single chunk.
	SchemeRepetition Scheme = iota
	// SchemeMDS is klauspost/reedsolomon, used for 2..MDSMaxChunks chunks.
	SchemeMDS
	// SchemeFountain is google/gofountain, used beyond MDSMaxChunks chunks.
	SchemeFountain
)

// MDSMaxChunks is the largest chunk_count SchemeFor routes to the MDS
// scheme; larger objects use the fountain scheme. mdsRecoveryCount
// floors the recovery chunk count at 1, so at the top of this range the
// data and recovery chunks together take more than 255 ids.
const MDSMaxChunks = 256

// FECChunkCountMax bounds the 24-bit chunk id namespace used by the
// fountain scheme.
const FECChunkCountMax = 1<<24 - 1

// ChunkCount returns ceil(objSize / FECChunkSize).
func ChunkCount(objSize int) int {
	if objSize <= 0 {
		return 0
	}
	return (objSize + FECChunkSize - 1) / FECChunkSize
}

// SchemeFor returns the coding scheme selected for chunkCount chunks.
func SchemeFor(chunkCount int) Scheme {
	switch {
	case chunkCount < 2:
		return SchemeRepetition
	case chunkCount <= MDSMaxChunks:
		return SchemeMDS
	default:
		return SchemeFountain
	}
}
