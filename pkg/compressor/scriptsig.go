package compressor

import "github.com/pkg/errors"

// ScriptSigTemplate classifies how an input's scriptSig/witness stack is
// built, so the compressor can strip everything reconstructible from
// the template and the public key/signature material alone. Ordering
// matches the upstream enum so that persisted TemplateCode values
// remain stable across this fork's history.
type ScriptSigTemplate uint8

const (
	TemplateP2SHP2WSHOther ScriptSigTemplate = iota
	TemplateWitOther
	TemplateNonWitOther
	TemplateP2SHUnknownWitness
	TemplateP2PK
	TemplateP2PKH
	TemplateP2WPKH
	TemplateP2SHP2WPKH
	TemplateP2SHP2WSHP2PKH
	TemplateMultisig
	TemplateP2SHMultisig
	TemplateP2WSHMultisig
	TemplateP2SHP2WSHMultisig
)

var templateNames = [...]string{
	"P2SH_P2WSH_OTHER",
	"WIT_OTHER",
	"NONWIT_OTHER",
	"P2SH_UW",
	"P2PK",
	"P2PKH",
	"P2WPKH",
	"P2SH_P2WPKH",
	"P2SH_P2WSH_P2PKH",
	"MS",
	"P2SH_MS",
	"P2WSH_MS",
	"P2SH_P2WSH_MS",
}

func (t ScriptSigTemplate) String() string {
	if int(t) < len(templateNames) {
		return templateNames[t]
	}
	return "UNKNOWN"
}

// ErrUnrecognizedTemplate is returned when a scriptSig/witness stack
// does not match any known template's shape.
var ErrUnrecognizedTemplate = errors.New("compressor: unrecognized scriptSig template")

// isMultisig reports whether t strips its signatures using the
// k-of-n multisig convention (as opposed to a lone signature).
func (t ScriptSigTemplate) isMultisig() bool {
	switch t {
	case TemplateMultisig, TemplateP2SHMultisig, TemplateP2WSHMultisig, TemplateP2SHP2WSHMultisig:
		return true
	}
	return false
}

// KNCoder packs a k-of-n multisig arity pair into a single code using
// triangular numbering over n, so the decoder can recover both k and n
// from one value: code = n*(n-1)/2 + k, valid for 1 <= k <= n <= 16 (the
// standard multisig maximum).
func KNCoder(k, n uint8) uint16 {
	return uint16(n)*uint16(n-1)/2 + uint16(k)
}

// KNDecoder is KNCoder's inverse.
func KNDecoder(code uint16) (k, n uint8) {
	n = 1
	for uint16(n)*uint16(n+1)/2 < code {
		n++
	}
	k = uint8(code - uint16(n)*uint16(n-1)/2)
	return k, n
}

// sigHashTopBits extracts the top two bits worth of reconstructible
// information from a DER signature's trailing sighash-type byte: bit 0
// of the pair records whether the type is exactly SIGHASH_ALL (the
// overwhelmingly common case, reconstructible without storing the byte
// at all when the caller already knows "this is a sighash-all spend").
func sigHashTopBits(sig []byte) (sigHashAll bool, sigHashByte byte) {
	if len(sig) == 0 {
		return false, 0
	}
	b := sig[len(sig)-1]
	return b == 0x01, b
}

// StripSig removes a DER-encoded signature's trailing SIGHASH_ALL byte
// when sighashAll is true (the template already records that every
// input uses SIGHASH_ALL), leaving the byte in place otherwise.
func StripSig(sig []byte, sighashAll bool) []byte {
	if len(sig) == 0 {
		return sig
	}
	isAll, _ := sigHashTopBits(sig)
	if sighashAll && isAll {
		return sig[:len(sig)-1]
	}
	return sig
}

// PadSig reverses StripSig, restoring the SIGHASH_ALL trailing byte
// that was elided under the sighashAll convention.
func PadSig(strippedSig []byte, sighashAll bool) []byte {
	if !sighashAll {
		return strippedSig
	}
	out := make([]byte, len(strippedSig)+1)
	copy(out, strippedSig)
	out[len(strippedSig)] = 0x01
	return out
}

// StripAllSigs applies StripSig across every stack item that is not a
// leading OP_0 placeholder (the standard CHECKMULTISIG off-by-one
// dummy element).
func StripAllSigs(stack [][]byte, sighashAll bool) [][]byte {
	out := make([][]byte, len(stack))
	for i, item := range stack {
		if len(item) == 0 {
			out[i] = item
			continue
		}
		out[i] = StripSig(item, sighashAll)
	}
	return out
}

// StripPubKey removes a compressed public key's one-byte parity prefix
// (0x02/0x03), which is reconstructible from context in most templates
// (the template itself, or a parity bit packed into the header) and so
// need not travel with every key.
func StripPubKey(pubkey []byte) []byte {
	if len(pubkey) != 33 {
		return pubkey
	}
	return pubkey[1:]
}

// PadPubKey reverses StripPubKey, restoring the compressed-key parity
// prefix recorded in templateCode's low bit.
func PadPubKey(strippedPubKey []byte, templateCode uint16) []byte {
	if len(strippedPubKey) != 32 {
		return strippedPubKey
	}
	prefix := byte(0x02)
	if templateCode&0x01 != 0 {
		prefix = 0x03
	}
	out := make([]byte, 33)
	out[0] = prefix
	copy(out[1:], strippedPubKey)
	return out
}

// StripAllPubKeys is StripPubKey applied across a multisig redeem
// script's embedded public keys.
func StripAllPubKeys(pubkeys [][]byte) [][]byte {
	out := make([][]byte, len(pubkeys))
	for i, pk := range pubkeys {
		out[i] = StripPubKey(pk)
	}
	return out
}

// GenerateScriptSigHeader packs a template and its per-template code
// into 16 bits: the low byte selects the template, the high byte
// carries the template-specific payload (a KNCoder code for multisig
// templates, a pubkey-parity bit otherwise).
func GenerateScriptSigHeader(template ScriptSigTemplate, code uint8) uint16 {
	return uint16(template) | uint16(code)<<8
}

// ParseScriptSigHeader is GenerateScriptSigHeader's inverse.
func ParseScriptSigHeader(header uint16) (template ScriptSigTemplate, code uint8) {
	return ScriptSigTemplate(header & 0xff), uint8(header >> 8)
}

// AnalyzeScriptSig classifies an input's scriptSig push-only stack and
// witness stack into a ScriptSigTemplate, the first step of compressing
// that input: the template determines what, if anything, can be
// stripped from the remaining stack items.
func AnalyzeScriptSig(scriptSigStack, witnessStack [][]byte, redeemScript, witnessScript []byte) ScriptSigTemplate {
	hasWitness := len(witnessStack) > 0
	hasRedeem := redeemScript != nil
	hasWitnessScript := witnessScript != nil

	switch {
	case hasWitnessScript && isMultisigScript(witnessScript):
		if hasRedeem {
			return TemplateP2SHP2WSHMultisig
		}
		return TemplateP2WSHMultisig
	case hasRedeem && isMultisigScript(redeemScript) && !hasWitness:
		return TemplateP2SHMultisig
	case !hasWitness && !hasRedeem && len(scriptSigStack) >= 1 && isMultisigStack(scriptSigStack):
		return TemplateMultisig

	case hasWitness && len(witnessStack) == 2 && !hasWitnessScript:
		if hasRedeem {
			return TemplateP2SHP2WPKH
		}
		return TemplateP2WPKH

	case hasRedeem && hasWitnessScript:
		return TemplateP2SHP2WSHP2PKH

	case !hasWitness && !hasRedeem && len(scriptSigStack) == 2:
		return TemplateP2PKH
	case !hasWitness && !hasRedeem && len(scriptSigStack) == 1:
		return TemplateP2PK

	case hasRedeem && !hasWitness:
		return TemplateP2SHUnknownWitness
	case hasWitness:
		return TemplateWitOther
	default:
		return TemplateNonWitOther
	}
}

func isMultisigScript(script []byte) bool {
	return len(script) > 0 && script[len(script)-1] == 0xae // OP_CHECKMULTISIG
}

func isMultisigStack(stack [][]byte) bool {
	// CHECKMULTISIG's off-by-one bug requires a leading dummy element;
	// a bare multisig scriptSig is that dummy followed by >= 1 signature.
	return len(stack) >= 2 && len(stack[0]) == 0
}
