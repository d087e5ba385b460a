package scheduler

import (
	"crypto/subtle"
	"encoding/binary"

	"golang.org/x/crypto/poly1305"
)

// authKey expands an 8-byte magic value into the 32-byte Poly1305 key:
// four copies of magic, little-endian.
func authKey(magic uint64) [32]byte {
	var key [32]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(key[i*8:i*8+8], magic)
	}
	return key
}

// authenticate computes the Poly1305 tag over body and splits it into
// the wire header's chk1/chk2 halves.
func authenticate(magic uint64, body []byte) (chk1, chk2 uint64) {
	key := authKey(magic)
	var tag [16]byte
	poly1305.Sum(&tag, body, &key)
	chk1 = binary.LittleEndian.Uint64(tag[0:8])
	chk2 = binary.LittleEndian.Uint64(tag[8:16])
	return chk1, chk2
}

// obfuscate XOR-obfuscates body in place, repeating chk1's 8 bytes
// across every word. The operation is its own inverse, so the same
// function de-obfuscates on receive.
func obfuscate(chk1 uint64, body []byte) {
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], chk1)
	for i := range body {
		body[i] ^= word[i%8]
	}
}

// sealMessage authenticates and obfuscates the portion of buf after
// its first 16 bytes (msg_type, len_or_padding, and the body), writing
// the resulting chk1/chk2 into buf's first 16 bytes. buf must already
// carry the plaintext msg_type/len_or_padding/body in place.
func sealMessage(magic uint64, buf []byte) {
	tail := buf[16:]
	chk1, chk2 := authenticate(magic, tail)
	binary.LittleEndian.PutUint64(buf[0:8], chk1)
	binary.LittleEndian.PutUint64(buf[8:16], chk2)
	obfuscate(chk1, tail)
}

// openMessage reverses sealMessage in place and reports whether the
// recomputed tag matches. A mismatch means the caller must drop the
// packet silently.
func openMessage(magic uint64, buf []byte) bool {
	if len(buf) < 16 {
		return false
	}
	chk1 := binary.LittleEndian.Uint64(buf[0:8])
	chk2 := binary.LittleEndian.Uint64(buf[8:16])
	tail := buf[16:]
	obfuscate(chk1, tail)

	wantChk1, wantChk2 := authenticate(magic, tail)
	var got, want [16]byte
	binary.LittleEndian.PutUint64(got[0:8], chk1)
	binary.LittleEndian.PutUint64(got[8:16], chk2)
	binary.LittleEndian.PutUint64(want[0:8], wantChk1)
	binary.LittleEndian.PutUint64(want[8:16], wantChk2)
	return subtle.ConstantTimeCompare(got[:], want[:]) == 1
}

// OpenMessage is openMessage exported for the reader loop
// (pkg/receiver), which lives outside this package but must
// verify/de-obfuscate inbound datagrams with the same key schedule the
// writer goroutine seals them with.
func OpenMessage(magic uint64, buf []byte) bool {
	return openMessage(magic, buf)
}

// SealMessage is sealMessage's exported counterpart, for callers that
// build control datagrams outside the writer goroutine's marshal path.
func SealMessage(magic uint64, buf []byte) {
	sealMessage(magic, buf)
}
