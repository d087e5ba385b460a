// Package mmapstore provides a memory-mapped, fixed-size backing file for
// FEC chunk storage: a payload region of chunk_count chunks followed by
// an id region of chunk_count 4-byte ids, so the same file can be
// reopened after a process restart and pick up exactly where it left
// off, without re-downloading chunks already on disk.
package mmapstore

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IDSize is the width, in bytes, of each slot's stored chunk id.
const IDSize = 4

var (
	// ErrOpenFailed wraps any failure creating or sizing the backing file.
	ErrOpenFailed = errors.New("mmapstore: failed to open backing file")
	// ErrMmapFailed wraps a failed mmap/munmap syscall.
	ErrMmapFailed = errors.New("mmapstore: mmap failed")
	ErrOutOfRange = errors.New("mmapstore: slot index out of range")
)

// Store is a memory-mapped file of two contiguous regions: chunkCount
// chunks of chunkSize payload bytes, followed by chunkCount 4-byte
// chunk ids.
type Store struct {
	file      *os.File
	data      []byte
	idOff     int
	chunkSize int
	nChunks   int
	path      string
}

// Open maps path into memory, creating its parent directory and
// ftruncating it to the exact expected size if it does not already
// exist at that size. If the file already exists at the expected size,
// its contents (previously received chunks and ids) are left untouched
// — this is what lets a restarted process resume a partial block
// instead of discarding progress. Per-slot ids are only meaningful once
// written by Insert; a store is recoverable only if at least one id
// slot is non-zero (mere file presence does not imply prior data).
func Open(path string, chunkSize, nChunks int) (*Store, error) {
	wantSize := int64(chunkSize)*int64(nChunks) + int64(IDSize)*int64(nChunks)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(ErrOpenFailed, err.Error())
	}

	if info.Size() != wantSize {
		if err := f.Truncate(wantSize); err != nil {
			f.Close()
			return nil, errors.Wrap(ErrOpenFailed, err.Error())
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(wantSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(ErrMmapFailed, err.Error())
	}

	return &Store{
		file:      f,
		data:      data,
		idOff:     chunkSize * nChunks,
		chunkSize: chunkSize,
		nChunks:   nChunks,
		path:      path,
	}, nil
}

// Size returns the total backing file size in bytes.
func (s *Store) Size() int64 {
	return int64(s.chunkSize)*int64(s.nChunks) + int64(IDSize)*int64(s.nChunks)
}

// NumChunks returns the number of slots the store holds.
func (s *Store) NumChunks() int { return s.nChunks }

// Recoverable reports whether any id slot is non-zero, the file-format
// signal that at least one chunk was previously inserted.
func (s *Store) Recoverable() bool {
	for i := 0; i < s.nChunks; i++ {
		if s.GetChunkID(i) != 0 {
			return true
		}
	}
	return false
}

// GetChunk returns a view directly onto slot idx's payload bytes, valid
// until the store is closed or removed.
func (s *Store) GetChunk(idx int) ([]byte, error) {
	if idx < 0 || idx >= s.nChunks {
		return nil, ErrOutOfRange
	}
	off := idx * s.chunkSize
	return s.data[off : off+s.chunkSize], nil
}

// GetChunkID returns slot idx's stored chunk id.
func (s *Store) GetChunkID(idx int) uint32 {
	off := s.idOff + idx*IDSize
	return binary.LittleEndian.Uint32(s.data[off : off+IDSize])
}

// Insert writes chunk (zero-padded if shorter than chunkSize) into slot
// idx's payload region and records id in the id region.
func (s *Store) Insert(chunk []byte, id uint32, idx int) error {
	if idx < 0 || idx >= s.nChunks {
		return ErrOutOfRange
	}
	if len(chunk) > s.chunkSize {
		return ErrOutOfRange
	}
	off := idx * s.chunkSize
	n := copy(s.data[off:off+s.chunkSize], chunk)
	for j := off + n; j < off+s.chunkSize; j++ {
		s.data[j] = 0
	}
	idOff := s.idOff + idx*IDSize
	binary.LittleEndian.PutUint32(s.data[idOff:idOff+IDSize], id)
	return nil
}

// Sync flushes pending writes to disk.
func (s *Store) Sync() error {
	return unix.Msync(s.data, unix.MS_SYNC)
}

// Close unmaps and closes the backing file without deleting it, leaving
// it on disk for a later Open to resume from.
func (s *Store) Close() error {
	if s.data == nil {
		return nil
	}
	if err := unix.Munmap(s.data); err != nil {
		return errors.Wrap(ErrMmapFailed, err.Error())
	}
	s.data = nil
	return s.file.Close()
}

// Remove advises the kernel the mapping's pages can be dropped, then
// unmaps, closes and unlinks the backing file; used once an object
// finishes decoding or its partial-block entry times out.
func (s *Store) Remove() error {
	if s.data != nil {
		unix.Madvise(s.data, unix.MADV_REMOVE)
	}
	if err := s.Close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

// Rename gives the store's backing file a new path, used by
// fecobj.Object.Absorb when an absorbed object's file takes over the
// absorbing object's filename. The mapping stays valid; only the
// on-disk name moves.
func (s *Store) Rename(newPath string) error {
	if err := os.Rename(s.path, newPath); err != nil {
		return err
	}
	s.path = newPath
	return nil
}

// Path returns the store's current backing file path.
func (s *Store) Path() string { return s.path }
