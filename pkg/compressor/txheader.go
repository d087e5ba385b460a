package compressor

// LockTimeCode records how a transaction's nLockTime field was packed:
// it is overwhelmingly either zero or a small block-height value, and
// only rarely a large Unix timestamp.
type LockTimeCode uint8

const (
	LockTimeZero LockTimeCode = iota
	LockTimeVarint
	LockTimeRaw
)

// lockTimeThreshold mirrors Bitcoin's own LOCKTIME_THRESHOLD: values
// below it are block heights (small, varint-friendly), values at or
// above it are Unix timestamps (large, cheaper as a fixed 4 bytes).
const lockTimeThreshold = 500_000_000

// ClassifyLockTime picks the cheapest encoding for a given lock_time.
func ClassifyLockTime(lockTime uint32) LockTimeCode {
	switch {
	case lockTime == 0:
		return LockTimeZero
	case lockTime < lockTimeThreshold:
		return LockTimeVarint
	default:
		return LockTimeRaw
	}
}

// txVersionCode packs the overwhelmingly common transaction versions
// (1 and 2) into two bits; anything else carries a raw version number.
type txVersionCode uint8

const (
	versionOne txVersionCode = iota
	versionTwo
	versionRaw
)

func classifyVersion(version uint32) txVersionCode {
	switch version {
	case 1:
		return versionOne
	case 2:
		return versionTwo
	default:
		return versionRaw
	}
}

func versionFromCode(code txVersionCode) (version uint32, ok bool) {
	switch code {
	case versionOne:
		return 1, true
	case versionTwo:
		return 2, true
	default:
		return 0, false
	}
}

// GenerateTxHeader packs lock_time's and version's codes into a single
// byte: low 2 bits are the LockTimeCode, next 2 bits the version code.
func GenerateTxHeader(lockTime, version uint32) uint8 {
	lt := ClassifyLockTime(lockTime)
	v := classifyVersion(version)
	return uint8(lt) | uint8(v)<<2
}

// ParseTxHeader is GenerateTxHeader's inverse.
func ParseTxHeader(header uint8) (LockTimeCode, txVersionCode) {
	return LockTimeCode(header & 0x03), txVersionCode((header >> 2) & 0x03)
}

// SequenceCode records how an input's nSequence field relates to the
// handful of values that dominate real transactions: unset (0xffffffff
// implied by a version-1-style non-RBF spend), the standard RBF marker
// (0xfffffffe), a sequence identical to the previous input's ("last
// encoded" — common when every input opts into or out of RBF
// uniformly), or a genuinely distinct raw value.
type SequenceCode uint8

const (
	SequenceZero SequenceCode = iota
	SequenceFinal
	SequenceFinalLessOne
	SequenceLastEncoded
	SequenceRaw
)

const (
	finalSequence        = 0xffffffff
	finalLessOneSequence = 0xfffffffe
)

// ClassifySequence picks sequence's code given the previous input's raw
// sequence value in the same transaction (0 for the first input).
func ClassifySequence(sequence, previous uint32, hasPrevious bool) SequenceCode {
	switch {
	case hasPrevious && sequence == previous:
		return SequenceLastEncoded
	case sequence == 0:
		return SequenceZero
	case sequence == finalSequence:
		return SequenceFinal
	case sequence == finalLessOneSequence:
		return SequenceFinalLessOne
	default:
		return SequenceRaw
	}
}

// GenerateTxInHeader packs the "is this the last input" flag and the
// input's SequenceCode into one byte: bit 0 is the last-input flag,
// bits 1-3 the SequenceCode.
func GenerateTxInHeader(last bool, sequence uint32, sequenceCache []uint32) uint8 {
	var previous uint32
	hasPrevious := len(sequenceCache) > 0
	if hasPrevious {
		previous = sequenceCache[len(sequenceCache)-1]
	}
	code := ClassifySequence(sequence, previous, hasPrevious)

	var header uint8
	if last {
		header |= 0x01
	}
	header |= uint8(code) << 1
	return header
}

// ParseTxInHeader is GenerateTxInHeader's inverse; the middle return
// value is reserved for a future per-input flag and always 0 today.
func ParseTxInHeader(header uint8) (last bool, reserved uint8, code SequenceCode) {
	last = header&0x01 != 0
	code = SequenceCode((header >> 1) & 0x07)
	return last, 0, code
}

// GenerateTxOutHeader packs the "is this the last output" flag and
// whether the output's amount escaped the compact exponent-mantissa
// encoding (and so carries a raw varint amount alongside it) into one
// byte.
func GenerateTxOutHeader(last, amountIsRaw bool) uint8 {
	var header uint8
	if last {
		header |= 0x01
	}
	if amountIsRaw {
		header |= 0x02
	}
	return header
}

// ParseTxOutHeader is GenerateTxOutHeader's inverse.
func ParseTxOutHeader(header uint8) (last, amountIsRaw bool) {
	return header&0x01 != 0, header&0x02 != 0
}
