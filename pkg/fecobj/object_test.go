package fecobj

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/blockstream/satellite-relay/pkg/fec"
	"github.com/blockstream/satellite-relay/pkg/mmapstore"
	"github.com/stretchr/testify/require"
)

func randomData(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func TestMemoryModeRoundTrip(t *testing.T) {
	data := randomData(5 * fec.FECChunkSize)
	enc, err := fec.NewEncoder(data)
	require.NoError(t, err)

	obj, err := New(len(data), ModeMemory, "", "", false)
	require.NoError(t, err)

	for slot := 0; slot < enc.ChunkCount()+2; slot++ {
		chunk, id, err := enc.BuildChunk(slot)
		require.NoError(t, err)
		ready, err := obj.ProvideChunk(chunk, id)
		require.NoError(t, err)
		if ready {
			break
		}
	}
	require.True(t, obj.DecodeReady())
	out, err := obj.Decode()
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, data))
}

func TestDuplicateChunkIsNoop(t *testing.T) {
	data := randomData(4 * fec.FECChunkSize)
	enc, err := fec.NewEncoder(data)
	require.NoError(t, err)

	obj, err := New(len(data), ModeMemory, "", "", false)
	require.NoError(t, err)

	chunk, id, err := enc.BuildChunk(0)
	require.NoError(t, err)
	_, err = obj.ProvideChunk(chunk, id)
	require.NoError(t, err)
	ready, err := obj.ProvideChunk(chunk, id)
	require.NoError(t, err)
	require.False(t, ready)
	require.False(t, obj.DecodeReady())
}

func TestMmapModeSurvivesRecovery(t *testing.T) {
	dataDir := t.TempDir()
	data := randomData(3 * fec.FECChunkSize)
	enc, err := fec.NewEncoder(data)
	require.NoError(t, err)

	obj, err := New(len(data), ModeMmap, dataDir, "testobj", true)
	require.NoError(t, err)
	filename := obj.Filename()
	require.NotEmpty(t, filename)

	// feed two of three needed chunks, then simulate a restart: reopen
	// the backing file and replay it into a fresh Object.
	for slot := 0; slot < 2; slot++ {
		chunk, id, err := enc.BuildChunk(slot)
		require.NoError(t, err)
		_, err = obj.ProvideChunk(chunk, id)
		require.NoError(t, err)
	}
	require.False(t, obj.DecodeReady())
	require.NoError(t, obj.Close()) // keepFile=true, so this just unmaps

	reopened, err := mmapstore.Open(filename, fec.FECChunkSize, enc.ChunkCount())
	require.NoError(t, err)
	require.True(t, reopened.Recoverable())

	recovered, err := OpenRecovered(len(data), reopened)
	require.NoError(t, err)
	require.False(t, recovered.DecodeReady())

	chunk, id, err := enc.BuildChunk(2)
	require.NoError(t, err)
	ready, err := recovered.ProvideChunk(chunk, id)
	require.NoError(t, err)
	require.True(t, ready)

	out, err := recovered.Decode()
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, data))
	require.NoError(t, recovered.Close())
}

func TestAbsorbTransfersBackingFile(t *testing.T) {
	dataDir := t.TempDir()
	data := randomData(2 * fec.FECChunkSize)
	enc, err := fec.NewEncoder(data)
	require.NoError(t, err)

	src, err := New(len(data), ModeMmap, dataDir, "src", false)
	require.NoError(t, err)
	dst, err := New(len(data), ModeMmap, dataDir, "dst", false)
	require.NoError(t, err)

	chunk, id, err := enc.BuildChunk(0)
	require.NoError(t, err)
	_, err = src.ProvideChunk(chunk, id)
	require.NoError(t, err)

	dstFilename := dst.Filename()
	require.NoError(t, dst.Absorb(src))
	require.Equal(t, dstFilename, dst.Filename())

	chunk2, id2, err := enc.BuildChunk(1)
	require.NoError(t, err)
	ready, err := dst.ProvideChunk(chunk2, id2)
	require.NoError(t, err)
	require.True(t, ready)

	out, err := dst.Decode()
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, data))
	require.NoError(t, dst.Close())
}
