package fec

// Decoder accumulates received chunks for an object of known size until
// enough have arrived to reconstruct it. Which scheme it uses, and how
// many chunks that requires, is fixed at construction time from objSize.
type Decoder struct {
	scheme     Scheme
	chunkCount int
	objSize    int
	ready      bool

	repetition *repetitionCodec
	mds        *mdsDecoder
	fountain   *fountainDecoder
}

// NewDecoder builds a Decoder for an object of objSize bytes. Every
// decoder parameter, including the fountain scheme's padded transfer
// length, derives from objSize, so a receiver can construct the right
// decoder from the object length carried on each chunk message.
func NewDecoder(objSize int) (*Decoder, error) {
	chunkCount := ChunkCount(objSize)
	scheme := SchemeFor(chunkCount)

	d := &Decoder{scheme: scheme, chunkCount: chunkCount, objSize: objSize}
	switch scheme {
	case SchemeRepetition:
		d.repetition = newRepetitionDecoder(objSize)
	case SchemeMDS:
		dec, err := newMDSDecoder(chunkCount, objSize)
		if err != nil {
			return nil, err
		}
		d.mds = dec
	case SchemeFountain:
		d.fountain = newFountainDecoder(objSize)
	}
	return d, nil
}

// Scheme reports the coding scheme this decoder picked.
func (d *Decoder) Scheme() Scheme { return d.scheme }

// ObjSize reports the original object size in bytes.
func (d *Decoder) ObjSize() int { return d.objSize }

// ProvideChunk records a received chunk under id. The returned bool
// reports whether the object is now decodable; callers may keep calling
// ProvideChunk after that point (e.g. while waiting for Decode), which
// is harmless but unnecessary.
func (d *Decoder) ProvideChunk(chunk []byte, id uint32) (bool, error) {
	if d.ready {
		return true, nil
	}
	var ready bool
	var err error
	switch d.scheme {
	case SchemeRepetition:
		ready, err = d.repetition.provide(chunk, id)
	case SchemeMDS:
		ready, err = d.mds.provide(chunk, id)
	case SchemeFountain:
		ready, err = d.fountain.provide(chunk, id)
	default:
		return false, ErrCodecInternalFailure
	}
	if err != nil {
		return false, err
	}
	d.ready = ready
	return ready, nil
}

// DecodeReady reports whether enough chunks have arrived to decode.
func (d *Decoder) DecodeReady() bool { return d.ready }

// Decode reconstructs the original object. It is only valid to call
// once DecodeReady reports true.
func (d *Decoder) Decode() ([]byte, error) {
	if !d.ready {
		return nil, ErrCodecInternalFailure
	}
	switch d.scheme {
	case SchemeRepetition:
		return d.repetition.decode()
	case SchemeMDS:
		return d.mds.decode()
	case SchemeFountain:
		return d.fountain.decode()
	default:
		return nil, ErrCodecInternalFailure
	}
}

// GetChunk returns a previously received chunk's bytes, re-serving a
// chunk already on hand without requiring a full decode. Only
// repetition and MDS retain per-id chunk storage; fountain chunks are
// consumed into the decode graph and are not individually retrievable.
func (d *Decoder) GetChunk(id uint32) ([]byte, error) {
	switch d.scheme {
	case SchemeRepetition:
		return d.repetition.getChunk(id)
	case SchemeMDS:
		return d.mds.getChunk(id)
	default:
		return nil, ErrOutOfRangeChunkID
	}
}

// IntoEncoder promotes a ready Decoder into an Encoder, used when a
// receiver turns around and forwards a block it just finished decoding.
// It runs Decode and builds a new Encoder from the result with
// NewEncoder; no received chunk or codec state is carried over, for any
// scheme.
func (d *Decoder) IntoEncoder() (*Encoder, error) {
	if !d.ready {
		return nil, ErrCodecInternalFailure
	}
	data, err := d.Decode()
	if err != nil {
		return nil, err
	}
	return NewEncoder(data)
}

// Absorb transfers other's received-chunk state into d, used when a
// partial block's registry entry is replaced in place. other must use
// the same scheme and object size; after Absorb, other is left empty
// and should not be used again.
func (d *Decoder) Absorb(other *Decoder) error {
	if d.scheme != other.scheme || d.objSize != other.objSize {
		return ErrCodecInternalFailure
	}
	switch d.scheme {
	case SchemeRepetition:
		d.repetition, other.repetition = other.repetition, nil
	case SchemeMDS:
		d.mds, other.mds = other.mds, nil
	case SchemeFountain:
		d.fountain, other.fountain = other.fountain, nil
	}
	d.ready, other.ready = other.ready, false
	return nil
}

// Close returns any pooled codec state. The decoder must not be used
// afterwards.
func (d *Decoder) Close() {
	if d.fountain != nil {
		d.fountain.release()
	}
}
