package peerstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peers.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddGetRemovePeer(t *testing.T) {
	s := openTestStore(t)

	p := Peer{Addr: "203.0.113.5:8336", LocalPass: "local", RemotePass: "remote", Group: "0"}
	require.NoError(t, s.Add(p))

	got, err := s.Get(p.Addr)
	require.NoError(t, err)
	require.Equal(t, p, got)

	require.NoError(t, s.Remove(p.Addr))
	_, err = s.Get(p.Addr)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddUpdatesExistingPeer(t *testing.T) {
	s := openTestStore(t)

	addr := "203.0.113.6:8336"
	require.NoError(t, s.Add(Peer{Addr: addr, Group: "0"}))
	require.NoError(t, s.Add(Peer{Addr: addr, Group: "1"}))

	got, err := s.Get(addr)
	require.NoError(t, err)
	require.Equal(t, "1", got.Group)
}

func TestTrustedFiltersByFlag(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Add(Peer{Addr: "203.0.113.7:8336", Trusted: true}))
	require.NoError(t, s.Add(Peer{Addr: "203.0.113.8:8336", Trusted: false}))

	trusted, err := s.Trusted()
	require.NoError(t, err)
	require.Len(t, trusted, 1)
	require.Equal(t, "203.0.113.7:8336", trusted[0].Addr)
}

func TestAllListsEveryPeer(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Add(Peer{Addr: "203.0.113.9:8336"}))
	require.NoError(t, s.Add(Peer{Addr: "203.0.113.10:8336"}))

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
