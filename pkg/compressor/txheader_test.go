package compressor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyLockTime(t *testing.T) {
	require.Equal(t, LockTimeZero, ClassifyLockTime(0))
	require.Equal(t, LockTimeVarint, ClassifyLockTime(700_000))
	require.Equal(t, LockTimeRaw, ClassifyLockTime(1_700_000_000))
}

func TestTxHeaderRoundTrip(t *testing.T) {
	header := GenerateTxHeader(700_000, 2)
	lt, v := ParseTxHeader(header)
	require.Equal(t, LockTimeVarint, lt)
	require.Equal(t, versionTwo, v)
	version, ok := versionFromCode(v)
	require.True(t, ok)
	require.EqualValues(t, 2, version)
}

func TestClassifySequence(t *testing.T) {
	require.Equal(t, SequenceZero, ClassifySequence(0, 0, false))
	require.Equal(t, SequenceFinal, ClassifySequence(finalSequence, 0, false))
	require.Equal(t, SequenceFinalLessOne, ClassifySequence(finalLessOneSequence, 0, false))
	require.Equal(t, SequenceLastEncoded, ClassifySequence(42, 42, true))
	require.Equal(t, SequenceRaw, ClassifySequence(123, 42, true))
}

func TestTxInHeaderRoundTrip(t *testing.T) {
	cache := []uint32{finalLessOneSequence}
	header := GenerateTxInHeader(true, finalLessOneSequence, cache)
	last, _, code := ParseTxInHeader(header)
	require.True(t, last)
	require.Equal(t, SequenceLastEncoded, code)
}

func TestTxOutHeaderRoundTrip(t *testing.T) {
	header := GenerateTxOutHeader(false, true)
	last, raw := ParseTxOutHeader(header)
	require.False(t, last)
	require.True(t, raw)
}
