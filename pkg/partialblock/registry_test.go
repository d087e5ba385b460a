package partialblock

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockstream/satellite-relay/pkg/fec"
)

func TestHeaderThenBodyLandInSameEntry(t *testing.T) {
	dir := t.TempDir()
	reg, err := New(dir, 0, nil)
	require.NoError(t, err)
	defer reg.Close()

	key := Key{HashPrefix: 1234, Peer: "172.16.235.1:8080"}

	headerData := make([]byte, 10)
	bodyData := make([]byte, 10)

	pb, _, err := reg.ProvideHeaderChunk(key, false, uint32(len(headerData)), headerData, 0, 0)
	require.NoError(t, err)
	require.True(t, pb.IsHeaderProcessing)
	require.False(t, pb.IsDecodable)

	pb2, ready, err := reg.ProvideBodyChunk(key, false, uint32(len(bodyData)), bodyData, 0, 0)
	require.NoError(t, err)
	require.True(t, ready)
	require.Same(t, pb, pb2)
	require.True(t, pb.IsDecodable)
}

func TestHeaderOnlyIsNotDecodable(t *testing.T) {
	dir := t.TempDir()
	reg, err := New(dir, 0, nil)
	require.NoError(t, err)
	defer reg.Close()

	key := Key{HashPrefix: 99, Peer: "10.0.0.1:9000"}
	pb, _, err := reg.ProvideHeaderChunk(key, false, 10, make([]byte, 10), 0, 0)
	require.NoError(t, err)

	require.True(t, pb.IsHeaderProcessing)
	require.False(t, pb.IsDecodable)
}

func TestRecoveryPairsHeaderAndBodyAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	hashPrefix := uint64(1234)
	peer := "172.16.235.1:8080"

	// header: small object fitting in a single chunk, fully delivered.
	headerObjSize := 10
	headerPath := fmt.Sprintf("%s/partial_blocks/172.16.235.1_8080_%d_header_%d", dir, hashPrefix, headerObjSize)
	require.NoError(t, os.MkdirAll(fmt.Sprintf("%s/partial_blocks", dir), 0o755))

	reg, err := New(dir, 0, nil)
	require.NoError(t, err)
	key := Key{HashPrefix: hashPrefix, Peer: peer}
	_, _, err = reg.ProvideHeaderChunk(key, false, uint32(headerObjSize), make([]byte, headerObjSize), 0, 0)
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	_, statErr := os.Stat(headerPath)
	require.NoError(t, statErr)

	// body: 5-chunk object, nothing delivered -- no file should exist yet
	// since the registry only creates an object, and with it the backing
	// file, when the object's first chunk arrives.

	reg2, err := New(dir, 0, nil)
	require.NoError(t, err)
	defer reg2.Close()
	require.NoError(t, reg2.Recover())

	pb, ok := reg2.Get(key)
	require.True(t, ok)
	require.True(t, pb.IsHeaderProcessing)
	require.False(t, pb.IsDecodable)
	require.NotNil(t, pb.HeaderDecoder)
	require.True(t, pb.HeaderDecoder.DecodeReady())
}

func TestRecoveryDeletesNonCanonicalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(fmt.Sprintf("%s/partial_blocks", dir), 0o755))
	junkPath := fmt.Sprintf("%s/partial_blocks/not-a-chunk-file", dir)
	require.NoError(t, os.WriteFile(junkPath, []byte("junk"), 0o644))

	reg, err := New(dir, 0, nil)
	require.NoError(t, err)
	defer reg.Close()
	require.NoError(t, reg.Recover())

	_, err = os.Stat(junkPath)
	require.True(t, os.IsNotExist(err))
}

func TestChunkCountHelperMatchesFEC(t *testing.T) {
	require.Equal(t, 1, fec.ChunkCount(10))
	require.Equal(t, 1, fec.ChunkCount(fec.FECChunkSize))
	require.Equal(t, 2, fec.ChunkCount(fec.FECChunkSize+1))
}
