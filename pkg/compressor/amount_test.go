package compressor

import "testing"

import "github.com/stretchr/testify/require"

func TestCompressAmountRoundTripSingleDigitMantissa(t *testing.T) {
	cases := []uint64{0, 5 * 1e8, 7 * 10, 9 * 100000000, 100, 70000}
	for _, amount := range cases {
		code, raw, isRaw := CompressAmount(amount, 1)
		got := DecompressAmount(code, raw, 1)
		require.Equal(t, amount, got, "amount=%d isRaw=%v code=%d", amount, isRaw, code)
	}
}

func TestCompressAmountEscapesMultiDigitMantissa(t *testing.T) {
	// 37000 = 37 * 10^3: mantissa "37" has two significant digits, so it
	// cannot be written as a single digit times a power of ten and must
	// escape to the raw encoding.
	code, raw, isRaw := CompressAmount(37000, 1)
	require.True(t, isRaw)
	require.EqualValues(t, 37000, raw)
	require.EqualValues(t, ambiguityFixSentinel, code)
}

func TestCompressAmountEscapesNoTrailingZero(t *testing.T) {
	code, raw, isRaw := CompressAmount(7, 1)
	require.True(t, isRaw)
	require.EqualValues(t, 7, raw)
	require.EqualValues(t, ambiguityFixSentinel, code)
}

func TestCompressAmountZero(t *testing.T) {
	code, _, isRaw := CompressAmount(0, 1)
	require.False(t, isRaw)
	require.EqualValues(t, 0, code)
	require.EqualValues(t, 0, DecompressAmount(0, 0, 1))
}

func TestCompressAmountSentinelDisambiguation(t *testing.T) {
	// Under codec_version 0 the escape code is 24; a legitimate (d,e)
	// encoding that would also compute to 24 must itself escape to raw
	// to avoid colliding with the sentinel. Under codec_version >= 1 the
	// sentinel moves to 25, so that same (d,e) pair is representable.
	// code 24 under the 1+10e+d scheme is e=2,d=3 (1+20+3=24): amount =
	// 3 * 10^(2+1) = 3000.
	amount := uint64(3000)

	codeV0, rawV0, isRawV0 := CompressAmount(amount, 0)
	require.True(t, isRawV0)
	require.EqualValues(t, legacyAmountSentinel, codeV0)
	require.Equal(t, amount, DecompressAmount(codeV0, rawV0, 0))

	codeV1, _, isRawV1 := CompressAmount(amount, 1)
	require.False(t, isRawV1)
	require.EqualValues(t, 24, codeV1)
	require.Equal(t, amount, DecompressAmount(codeV1, 0, 1))
}
