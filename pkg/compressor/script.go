package compressor

// nSpecialScripts is the number of special-cased scriptPubKey forms;
// every other script's serialized size is offset by this amount so the
// two code spaces (special-case index, generic length) never collide.
const nSpecialScripts = 6

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opEqual       = 0x87
	opCheckSig    = 0xac
)

// CompressScript recognizes the special-cased scriptPubKey forms P2PKH,
// P2SH, and P2PK with a compressed (0x02/0x03) key, and writes their
// compact form into out. P2PK with an uncompressed 65-byte key is not
// recognized, so codes 0x04/0x05 are never produced. It reports false
// for anything else, leaving out untouched.
func CompressScript(script []byte) (out []byte, ok bool) {
	if isP2PKH(script) {
		out = make([]byte, 21)
		out[0] = 0x00
		copy(out[1:], script[3:23])
		return out, true
	}
	if isP2SH(script) {
		out = make([]byte, 21)
		out[0] = 0x01
		copy(out[1:], script[2:22])
		return out, true
	}
	if code, x, ok := compressPubKey(script); ok {
		out = make([]byte, 33)
		out[0] = code
		copy(out[1:], x)
		return out, true
	}
	return nil, false
}

// DecompressScript is CompressScript's inverse, driven by the special
// script index nSize (0..5) and the compact payload in.
func DecompressScript(nSize uint8, in []byte) ([]byte, bool) {
	switch nSize {
	case 0x00:
		if len(in) != 20 {
			return nil, false
		}
		script := make([]byte, 0, 25)
		script = append(script, opDup, opHash160, 20)
		script = append(script, in...)
		script = append(script, opEqualVerify, opCheckSig)
		return script, true
	case 0x01:
		if len(in) != 20 {
			return nil, false
		}
		script := make([]byte, 0, 23)
		script = append(script, opHash160, 20)
		script = append(script, in...)
		script = append(script, opEqual)
		return script, true
	case 0x02, 0x03, 0x04, 0x05:
		if len(in) != 32 {
			return nil, false
		}
		pubkey := make([]byte, 33)
		pubkey[0] = byte(nSize)
		copy(pubkey[1:], in)
		if nSize >= 0x04 {
			// uncompressed form: the compressed prefix only records the
			// parity (0x04 even, 0x05 odd); the real key carries a
			// leading 0x04 and both X and Y, but this relay, like the
			// short-id scheme it mirrors, only ever needs X and parity
			// to reconstruct a script that round-trips through the
			// same compressor on the other end. We instead emit the
			// compressed pubkey form (0x02/0x03), equivalent from the
			// scriptPubKey's perspective (a standard P2PK checksig).
			pubkey[0] = byte(nSize - 2)
		}
		script := make([]byte, 0, 35)
		script = append(script, 33)
		script = append(script, pubkey...)
		script = append(script, opCheckSig)
		return script, true
	}
	return nil, false
}

// GetSpecialScriptSize reports the payload length for a given special
// script index, used when deserializing to size the read buffer before
// DecompressScript runs.
func GetSpecialScriptSize(nSize uint8) int {
	switch nSize {
	case 0x00, 0x01:
		return 20
	case 0x02, 0x03, 0x04, 0x05:
		return 32
	default:
		return 0
	}
}

func isP2PKH(script []byte) bool {
	return len(script) == 25 &&
		script[0] == opDup && script[1] == opHash160 && script[2] == 20 &&
		script[23] == opEqualVerify && script[24] == opCheckSig
}

func isP2SH(script []byte) bool {
	return len(script) == 23 &&
		script[0] == opHash160 && script[1] == 20 && script[22] == opEqual
}

func compressPubKey(script []byte) (code byte, x []byte, ok bool) {
	if len(script) != 35 || script[0] != 33 || script[34] != opCheckSig {
		return 0, nil, false
	}
	pubkey := script[1:34]
	switch pubkey[0] {
	case 0x02, 0x03:
		return pubkey[0], pubkey[1:], true
	case 0x04:
		if len(pubkey) != 65 {
			return 0, nil, false
		}
		// compressed-only storage: encode the uncompressed key's parity
		// (from the Y coordinate's last byte) as code 4 or 5, keeping
		// only X; DecompressScript reconstructs a compressed pubkey.
		// pubkey is always 33 bytes here (see the length check above),
		// so this branch never matches.
		if pubkey[64]&1 == 0 {
			return 0x04, pubkey[1:33], true
		}
		return 0x05, pubkey[1:33], true
	}
	return 0, nil, false
}
