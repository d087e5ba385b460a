package compressor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func p2pkhScript(hash []byte) []byte {
	out := []byte{opDup, opHash160, 20}
	out = append(out, hash...)
	out = append(out, opEqualVerify, opCheckSig)
	return out
}

func p2shScript(hash []byte) []byte {
	out := []byte{opHash160, 20}
	out = append(out, hash...)
	out = append(out, opEqual)
	return out
}

func p2pkScript(pubkey []byte) []byte {
	out := []byte{byte(len(pubkey))}
	out = append(out, pubkey...)
	out = append(out, opCheckSig)
	return out
}

func TestCompressScriptP2PKHRoundTrip(t *testing.T) {
	hash := bytes.Repeat([]byte{0xAA}, 20)
	script := p2pkhScript(hash)

	out, ok := CompressScript(script)
	require.True(t, ok)
	require.Len(t, out, 21)
	require.EqualValues(t, 0x00, out[0])

	decompressed, ok := DecompressScript(out[0], out[1:])
	require.True(t, ok)
	require.True(t, bytes.Equal(decompressed, script))
}

func TestCompressScriptP2SHRoundTrip(t *testing.T) {
	hash := bytes.Repeat([]byte{0xBB}, 20)
	script := p2shScript(hash)

	out, ok := CompressScript(script)
	require.True(t, ok)
	require.EqualValues(t, 0x01, out[0])

	decompressed, ok := DecompressScript(out[0], out[1:])
	require.True(t, ok)
	require.True(t, bytes.Equal(decompressed, script))
}

func TestCompressScriptCompressedPubKeyRoundTrip(t *testing.T) {
	pubkey := append([]byte{0x02}, bytes.Repeat([]byte{0xCC}, 32)...)
	script := p2pkScript(pubkey)

	out, ok := CompressScript(script)
	require.True(t, ok)
	require.EqualValues(t, 0x02, out[0])
	require.Len(t, out, 33)

	decompressed, ok := DecompressScript(out[0], out[1:])
	require.True(t, ok)
	require.True(t, bytes.Equal(decompressed, script))
}

func TestCompressScriptUnrecognizedFallsThrough(t *testing.T) {
	script := []byte{0x6a, 0x04, 0x01, 0x02, 0x03, 0x04} // OP_RETURN push
	_, ok := CompressScript(script)
	require.False(t, ok)
}

func TestGetSpecialScriptSize(t *testing.T) {
	require.Equal(t, 20, GetSpecialScriptSize(0))
	require.Equal(t, 20, GetSpecialScriptSize(1))
	require.Equal(t, 32, GetSpecialScriptSize(2))
	require.Equal(t, 32, GetSpecialScriptSize(5))
	require.Equal(t, 0, GetSpecialScriptSize(6))
}
