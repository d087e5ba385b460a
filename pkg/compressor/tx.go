package compressor

import "github.com/pkg/errors"

// ErrTransactionDecompressionFailed is returned by DecompressTransaction
// when the encoded byte stream does not match any of the headers this
// codec version understands.
var ErrTransactionDecompressionFailed = errors.New("compressor: transaction decompression failed")

// TxIn is the subset of a transaction input this codec needs: the
// previous output it spends (recorded out-of-band in the block's short
// transaction id table, not re-encoded here), its scriptSig pushes and
// witness stack (the material the template stripping operates on), and
// its sequence number.
type TxIn struct {
	ScriptSigStack [][]byte
	WitnessStack   [][]byte
	RedeemScript   []byte
	WitnessScript  []byte
	Sequence       uint32
}

// TxOut is one transaction output: a satoshi amount and a scriptPubKey.
type TxOut struct {
	Value        uint64
	ScriptPubKey []byte
}

// Transaction is the decompressed shape CompressTransaction/
// DecompressTransaction operate on: the fields a compact block body
// needs to reconstruct an input's spend and an output's scriptPubKey,
// independent of how the surrounding block wire format frames them.
type Transaction struct {
	Version  uint32
	LockTime uint32
	TxIn     []TxIn
	TxOut    []TxOut
}

// CompressTransaction encodes tx using codecVersion's rules: a version
// byte, the packed (lock_time, version) header, one scriptSig-template
// header plus stripped stack per input, and one compact scriptPubKey
// plus amount code per output.
func CompressTransaction(tx Transaction, codecVersion uint8) ([]byte, error) {
	var out []byte
	out = append(out, codecVersion)
	out = append(out, GenerateTxHeader(tx.LockTime, tx.Version))
	out = appendLockTime(out, tx.LockTime)
	if code := classifyVersion(tx.Version); code == versionRaw {
		out = appendUint32(out, tx.Version)
	}

	sequenceCache := make([]uint32, 0, len(tx.TxIn))
	lastTemplateCode := make(map[ScriptSigTemplate]uint16)
	for i, in := range tx.TxIn {
		last := i == len(tx.TxIn)-1
		inHeader := GenerateTxInHeader(last, in.Sequence, sequenceCache)
		out = append(out, inHeader)
		_, _, seqCode := ParseTxInHeader(inHeader)
		if seqCode == SequenceRaw {
			out = appendUint32(out, in.Sequence)
		}
		sequenceCache = append(sequenceCache, in.Sequence)

		template := AnalyzeScriptSig(in.ScriptSigStack, in.WitnessStack, in.RedeemScript, in.WitnessScript)
		stack := in.WitnessStack
		if len(stack) == 0 {
			stack = in.ScriptSigStack
		}

		var code uint16
		var stripped [][]byte
		switch {
		case template.isMultisig():
			k, n := multisigArity(stack)
			code = KNCoder(k, n)
			stripped = StripAllSigs(dropLeadingDummy(stack), true)
		case template == TemplateP2PKH, template == TemplateP2PK,
			template == TemplateP2WPKH, template == TemplateP2SHP2WPKH,
			template == TemplateP2SHP2WSHP2PKH:
			code = lastTemplateCode[template]
			if len(stack) > 0 {
				sig := stack[0]
				_, sigHashByte := sigHashTopBits(sig)
				if sigHashByte != 0x01 {
					return nil, errors.New("compressor: only SIGHASH_ALL spends are supported")
				}
			}
			stripped = make([][]byte, len(stack))
			if len(stack) > 0 {
				stripped[0] = StripSig(stack[0], true)
			}
			if len(stack) >= 2 {
				pubkey := stack[1]
				if len(pubkey) == 33 && pubkey[0] == 0x03 {
					code |= 0x01
				} else {
					code &^= 0x01
				}
				copy(stripped[1:], StripAllPubKeys(stack[1:]))
			}
		default:
			stripped = nil
		}
		lastTemplateCode[template] = code

		header := GenerateScriptSigHeader(template, uint8(code))
		out = appendUint16(out, header)

		if template == TemplateNonWitOther || template == TemplateWitOther ||
			template == TemplateP2SHUnknownWitness || template == TemplateP2SHP2WSHOther {
			raw := encodePushOnlyLen(in.ScriptSigStack, in.WitnessStack)
			out = appendVarint(out, uint64(len(raw)))
			out = append(out, raw...)
		} else {
			out = appendVarint(out, uint64(len(stripped)))
			for _, item := range stripped {
				out = appendVarint(out, uint64(len(item)))
				out = append(out, item...)
			}
		}
	}

	for i, txOut := range tx.TxOut {
		last := i == len(tx.TxOut)-1
		compressed, ok := CompressScript(txOut.ScriptPubKey)
		amountCode, raw, isRaw := CompressAmount(txOut.Value, codecVersion)

		outHeader := GenerateTxOutHeader(last, isRaw)
		out = append(out, outHeader)
		out = appendVarint(out, amountCode)
		if isRaw {
			out = appendVarint(out, raw)
		}

		if ok {
			out = append(out, compressed...)
		} else {
			out = appendVarint(out, uint64(len(txOut.ScriptPubKey))+nSpecialScripts)
			out = append(out, txOut.ScriptPubKey...)
		}
	}

	return out, nil
}

// DecompressTransaction is CompressTransaction's inverse.
func DecompressTransaction(data []byte) (Transaction, error) {
	r := &byteReader{buf: data}
	codecVersion, ok := r.readByte()
	if !ok {
		return Transaction{}, ErrTransactionDecompressionFailed
	}

	txHeaderByte, ok := r.readByte()
	if !ok {
		return Transaction{}, ErrTransactionDecompressionFailed
	}
	lockTimeCode, versionCode := ParseTxHeader(txHeaderByte)

	var tx Transaction
	switch lockTimeCode {
	case LockTimeZero:
		tx.LockTime = 0
	case LockTimeVarint:
		v, ok := r.readVarint()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		tx.LockTime = uint32(v)
	case LockTimeRaw:
		v, ok := r.readUint32()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		tx.LockTime = v
	default:
		return Transaction{}, ErrTransactionDecompressionFailed
	}

	if version, isKnown := versionFromCode(versionCode); isKnown {
		tx.Version = version
	} else {
		v, ok := r.readUint32()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		tx.Version = v
	}

	for {
		inHeader, ok := r.readByte()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		last, _, seqCode := ParseTxInHeader(inHeader)

		var sequence uint32
		switch seqCode {
		case SequenceZero:
			sequence = 0
		case SequenceFinal:
			sequence = finalSequence
		case SequenceFinalLessOne:
			sequence = finalLessOneSequence
		case SequenceLastEncoded:
			if len(tx.TxIn) == 0 {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
			sequence = tx.TxIn[len(tx.TxIn)-1].Sequence
		case SequenceRaw:
			v, ok := r.readUint32()
			if !ok {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
			sequence = v
		default:
			return Transaction{}, ErrTransactionDecompressionFailed
		}

		sigHeader, ok := r.readUint16()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		template, code := ParseScriptSigHeader(sigHeader)

		var in TxIn
		in.Sequence = sequence

		switch {
		case template == TemplateNonWitOther || template == TemplateWitOther ||
			template == TemplateP2SHUnknownWitness || template == TemplateP2SHP2WSHOther:
			n, ok := r.readVarint()
			if !ok {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
			raw, ok := r.readN(int(n))
			if !ok {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
			in.ScriptSigStack = decodePushOnlyLen(raw)
		case template.isMultisig():
			k, n := KNDecoder(uint16(code))
			stack, err := readStack(r)
			if err != nil {
				return Transaction{}, err
			}
			in.ScriptSigStack = PadMultisig(stack, k, n)
		default:
			stack, err := readStack(r)
			if err != nil {
				return Transaction{}, err
			}
			padded := padSingleKeyStack(stack, code, template)
			if template == TemplateP2WPKH || template == TemplateP2SHP2WPKH || template == TemplateP2SHP2WSHP2PKH {
				in.WitnessStack = padded
			} else {
				in.ScriptSigStack = padded
			}
		}

		tx.TxIn = append(tx.TxIn, in)
		if last {
			break
		}
	}

	for {
		outHeader, ok := r.readByte()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		last, amountIsRaw := ParseTxOutHeader(outHeader)

		amountCode, ok := r.readVarint()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		var raw uint64
		if amountIsRaw {
			raw, ok = r.readVarint()
			if !ok {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
		}
		value := DecompressAmount(amountCode, raw, codecVersion)

		nSize, ok := r.readVarint()
		if !ok {
			return Transaction{}, ErrTransactionDecompressionFailed
		}
		var scriptPubKey []byte
		if nSize < nSpecialScripts {
			payloadLen := GetSpecialScriptSize(uint8(nSize))
			payload, ok := r.readN(payloadLen)
			if !ok {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
			script, ok := DecompressScript(uint8(nSize), payload)
			if !ok {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
			scriptPubKey = script
		} else {
			length := int(nSize - nSpecialScripts)
			script, ok := r.readN(length)
			if !ok {
				return Transaction{}, ErrTransactionDecompressionFailed
			}
			scriptPubKey = script
		}

		tx.TxOut = append(tx.TxOut, TxOut{Value: value, ScriptPubKey: scriptPubKey})
		if last {
			break
		}
	}

	return tx, nil
}

func multisigArity(stack [][]byte) (k, n uint8) {
	body := dropLeadingDummy(stack)
	return uint8(1), uint8(len(body))
}

func dropLeadingDummy(stack [][]byte) [][]byte {
	if len(stack) > 0 && len(stack[0]) == 0 {
		return stack[1:]
	}
	return stack
}

// PadMultisig reconstructs a bare-multisig scriptSig stack (the
// CHECKMULTISIG dummy element followed by k signatures) from the
// stripped signature list and the recovered (k, n) arity. n is not
// needed to rebuild the stack itself (only k signatures ever travel on
// the wire) but is accepted to keep the signature symmetric with
// KNDecoder's two-value return.
func PadMultisig(strippedSigs [][]byte, k, n uint8) [][]byte {
	out := make([][]byte, 0, len(strippedSigs)+1)
	out = append(out, nil)
	for _, sig := range strippedSigs {
		out = append(out, PadSig(sig, true))
	}
	return out
}

func padSingleKeyStack(stack [][]byte, code uint8, template ScriptSigTemplate) [][]byte {
	if len(stack) == 0 {
		return stack
	}
	out := make([][]byte, len(stack))
	out[0] = PadSig(stack[0], true)
	for i := 1; i < len(stack); i++ {
		out[i] = stack[i]
	}
	if len(out) >= 2 && template != TemplateP2PK {
		out[1] = PadPubKey(out[1], uint16(code))
	}
	return out
}

func readStack(r *byteReader) ([][]byte, error) {
	n, ok := r.readVarint()
	if !ok {
		return nil, ErrTransactionDecompressionFailed
	}
	stack := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		itemLen, ok := r.readVarint()
		if !ok {
			return nil, ErrTransactionDecompressionFailed
		}
		item, ok := r.readN(int(itemLen))
		if !ok {
			return nil, ErrTransactionDecompressionFailed
		}
		stack = append(stack, item)
	}
	return stack, nil
}

func encodePushOnlyLen(scriptSigStack, witnessStack [][]byte) []byte {
	var out []byte
	for _, item := range scriptSigStack {
		out = appendVarint(out, uint64(len(item)))
		out = append(out, item...)
	}
	out = appendVarint(out, uint64(len(witnessStack)))
	for _, item := range witnessStack {
		out = appendVarint(out, uint64(len(item)))
		out = append(out, item...)
	}
	return out
}

func decodePushOnlyLen(raw []byte) [][]byte {
	r := &byteReader{buf: raw}
	var stack [][]byte
	for r.remaining() > 0 {
		n, ok := r.readVarint()
		if !ok {
			break
		}
		item, ok := r.readN(int(n))
		if !ok {
			break
		}
		stack = append(stack, item)
	}
	return stack
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.pos }

func (r *byteReader) readByte() (byte, bool) {
	if r.pos >= len(r.buf) {
		return 0, false
	}
	b := r.buf[r.pos]
	r.pos++
	return b, true
}

func (r *byteReader) readN(n int) ([]byte, bool) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, false
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, true
}

func (r *byteReader) readUint32() (uint32, bool) {
	b, ok := r.readN(4)
	if !ok {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (r *byteReader) readUint16() (uint16, bool) {
	b, ok := r.readN(2)
	if !ok {
		return 0, false
	}
	return uint16(b[0]) | uint16(b[1])<<8, true
}

func (r *byteReader) readVarint() (uint64, bool) {
	var x uint64
	var shift uint
	for {
		b, ok := r.readByte()
		if !ok {
			return 0, false
		}
		x |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return x, true
		}
		shift += 7
		if shift >= 64 {
			return 0, false
		}
	}
}

func appendVarint(dst []byte, x uint64) []byte {
	for x >= 0x80 {
		dst = append(dst, byte(x)|0x80)
		x >>= 7
	}
	return append(dst, byte(x))
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v), byte(v>>8))
}

func appendLockTime(dst []byte, lockTime uint32) []byte {
	switch ClassifyLockTime(lockTime) {
	case LockTimeZero:
		return dst
	case LockTimeVarint:
		return appendVarint(dst, uint64(lockTime))
	default:
		return appendUint32(dst, lockTime)
	}
}
