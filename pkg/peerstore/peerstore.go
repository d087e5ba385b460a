// Package peerstore persists the unicast peer table configured via
// addudpnode/addtrustedudpnode across restarts.
package peerstore

import (
	"os"

	"github.com/asdine/storm/v3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a lookup matches no stored peer.
var ErrNotFound = errors.New("peerstore: peer not found")

// Peer is one configured unicast relay peer, as declared by an
// addudpnode or addtrustedudpnode config line.
type Peer struct {
	Addr       string `storm:"id"`
	LocalPass  string
	RemotePass string
	Group      string
	Trusted    bool `storm:"index"`
}

// Store is the persistent peer table.
type Store struct {
	db *storm.DB
}

// Open opens (creating if absent) the peer table at path.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrap(err, "peerstore: could not create db file")
		}
		f.Close()
	}

	db, err := storm.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "peerstore: could not open db")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts or updates p, keyed by its Addr.
func (s *Store) Add(p Peer) error {
	err := s.db.Save(&p)
	if err != nil && errors.Is(err, storm.ErrAlreadyExists) {
		return s.db.Update(&p)
	}
	return err
}

// Remove deletes the peer at addr, if present.
func (s *Store) Remove(addr string) error {
	var p Peer
	if err := s.db.One("Addr", addr, &p); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.db.DeleteStruct(&p)
}

// Get looks up the peer at addr.
func (s *Store) Get(addr string) (Peer, error) {
	var p Peer
	if err := s.db.One("Addr", addr, &p); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return Peer{}, ErrNotFound
		}
		return Peer{}, err
	}
	return p, nil
}

// All returns every configured peer.
func (s *Store) All() ([]Peer, error) {
	var peers []Peer
	if err := s.db.All(&peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// Trusted returns every peer flagged trusted (addtrustedudpnode).
func (s *Store) Trusted() ([]Peer, error) {
	var peers []Peer
	if err := s.db.Find("Trusted", true, &peers); err != nil {
		if errors.Is(err, storm.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return peers, nil
}
