package compressor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKNCoderRoundTrip(t *testing.T) {
	for n := uint8(1); n <= 15; n++ {
		for k := uint8(1); k <= n; k++ {
			code := KNCoder(k, n)
			gotK, gotN := KNDecoder(code)
			require.Equal(t, k, gotK, "k mismatch n=%d k=%d", n, k)
			require.Equal(t, n, gotN, "n mismatch n=%d k=%d", n, k)
		}
	}
}

func TestStripSigPadSigRoundTrip(t *testing.T) {
	der := bytes.Repeat([]byte{0x42}, 70)
	sig := append(append([]byte{}, der...), 0x01) // SIGHASH_ALL

	stripped := StripSig(sig, true)
	require.Len(t, stripped, len(sig)-1)

	restored := PadSig(stripped, true)
	require.True(t, bytes.Equal(restored, sig))
}

func TestStripSigKeepsNonAllSigHash(t *testing.T) {
	der := bytes.Repeat([]byte{0x42}, 70)
	sig := append(append([]byte{}, der...), 0x02) // SIGHASH_NONE

	stripped := StripSig(sig, true)
	require.True(t, bytes.Equal(stripped, sig))
}

func TestStripPadPubKeyRoundTrip(t *testing.T) {
	pubkey := append([]byte{0x03}, bytes.Repeat([]byte{0x11}, 32)...)
	stripped := StripPubKey(pubkey)
	require.Len(t, stripped, 32)

	header := GenerateScriptSigHeader(TemplateP2PKH, 0x01)
	_, code := ParseScriptSigHeader(header)
	restored := PadPubKey(stripped, uint16(code))
	require.True(t, bytes.Equal(restored, pubkey))
}

func TestGenerateParseScriptSigHeaderRoundTrip(t *testing.T) {
	header := GenerateScriptSigHeader(TemplateP2SHP2WPKH, 0x05)
	template, code := ParseScriptSigHeader(header)
	require.Equal(t, TemplateP2SHP2WPKH, template)
	require.EqualValues(t, 0x05, code)
}

func TestAnalyzeScriptSigP2PKH(t *testing.T) {
	stack := [][]byte{{0x01, 0x02}, {0x03, 0x04}}
	template := AnalyzeScriptSig(stack, nil, nil, nil)
	require.Equal(t, TemplateP2PKH, template)
}

func TestAnalyzeScriptSigP2WPKH(t *testing.T) {
	witness := [][]byte{{0x01}, {0x02}}
	template := AnalyzeScriptSig(nil, witness, nil, nil)
	require.Equal(t, TemplateP2WPKH, template)
}

func TestAnalyzeScriptSigMultisig(t *testing.T) {
	stack := [][]byte{{}, {0x01}, {0x02}}
	template := AnalyzeScriptSig(stack, nil, nil, nil)
	require.Equal(t, TemplateMultisig, template)
}
