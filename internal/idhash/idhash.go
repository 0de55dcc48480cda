// Package idhash computes the ack-token digest used to map an ACK's token
// back to the stored packet whose advertised ID equals that digest (spec.md
// §4.4 "ack", §11 open-question resolution: SHA-512 truncated to the
// leading ID_SIZE bytes).
package idhash

import (
	"crypto/sha512"

	"github.com/cscouto/acache/internal/packet"
)

// Hash returns the first packet.IDSize bytes of SHA-512(token). A stored
// packet's own ID is expected to equal Hash(t) for whichever ack token t an
// ACK message later carries for it.
func Hash(token [packet.IDSize]byte) [packet.IDSize]byte {
	sum := sha512.Sum512(token[:])
	var out [packet.IDSize]byte
	copy(out[:], sum[:packet.IDSize])
	return out
}
