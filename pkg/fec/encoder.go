package fec

// Encoder turns an object's bytes into an arbitrarily long sequence of
// fixed-size chunks, picking the coding scheme once from the object's
// chunk count. It is the encode-side counterpart of Decoder, and a
// Decoder that has received enough chunks can be promoted into one via
// IntoEncoder, which decodes the object and encodes it again from the
// decoded bytes.
type Encoder struct {
	scheme     Scheme
	chunkCount int
	objSize    int

	repetition *repetitionCodec
	mds        *mdsEncoder
	fountain   *fountainEncoder
}

// NewEncoder builds an Encoder for data, selecting a scheme from
// ChunkCount(len(data)).
func NewEncoder(data []byte) (*Encoder, error) {
	chunkCount := ChunkCount(len(data))
	scheme := SchemeFor(chunkCount)

	e := &Encoder{scheme: scheme, chunkCount: chunkCount, objSize: len(data)}
	switch scheme {
	case SchemeRepetition:
		e.repetition = newRepetitionEncoder(data)
	case SchemeMDS:
		enc, err := newMDSEncoder(data)
		if err != nil {
			return nil, err
		}
		e.mds = enc
	case SchemeFountain:
		enc, err := newFountainEncoder(data)
		if err != nil {
			return nil, err
		}
		e.fountain = enc
	}
	return e, nil
}

// Scheme reports the coding scheme this encoder picked.
func (e *Encoder) Scheme() Scheme { return e.scheme }

// ObjSize reports the original object size in bytes.
func (e *Encoder) ObjSize() int { return e.objSize }

// ChunkCount reports ceil(objSize / FECChunkSize).
func (e *Encoder) ChunkCount() int { return e.chunkCount }

// BuildChunk returns the bytes for output slot i, mapping it to a
// scheme-specific chunk id: for repetition, every slot maps to the
// single stored chunk and the id is the slot index itself; for MDS,
// slot maps to a pseudo-randomized recovery-range id
// (mdsEncoder.chunkIDFor); for fountain, slot is bound to a random
// 24-bit id on first build. BuildChunk is idempotent: rebuilding a slot
// returns the same chunk and id.
func (e *Encoder) BuildChunk(slot int) (chunk []byte, id uint32, err error) {
	switch e.scheme {
	case SchemeRepetition:
		c, err := e.repetition.buildChunk(uint32(slot))
		return c, uint32(slot), err
	case SchemeMDS:
		id := e.mds.chunkIDFor(slot)
		c, err := e.mds.buildChunk(id)
		return c, id, err
	case SchemeFountain:
		return e.fountain.buildChunk(slot)
	default:
		return nil, 0, ErrCodecInternalFailure
	}
}

// RegenerateChunk rebuilds slot under a fresh chunk id. Only the
// fountain scheme can produce new codewords on demand; for repetition
// and MDS the chunk id is a deterministic function of the slot, so the
// result is identical to BuildChunk.
func (e *Encoder) RegenerateChunk(slot int) (chunk []byte, id uint32, err error) {
	if e.scheme == SchemeFountain {
		return e.fountain.regenerateChunk(slot)
	}
	return e.BuildChunk(slot)
}

// Close returns any pooled codec state. The encoder must not be used
// afterwards.
func (e *Encoder) Close() {
	if e.fountain != nil {
		e.fountain.release()
	}
}
