// Package keyring defines the local-identity enumeration interface the key
// responder consumes (spec.md §4.5's "local keyring" collaborator) along
// with two concrete implementations: an in-memory one for tests and a
// badger-backed one for durable identity storage (SPEC_FULL.md §10.5).
//
// Persisting identities here does not contradict the core cache's
// in-memory-only Non-goal (spec.md §1): the packet cache (internal/cache)
// never touches disk; only the separate keyring collaborator may.
package keyring

import (
	"github.com/cscouto/acache/internal/packet"
)

// AlgoRSA4096 is the single reply-key algorithm this repo supports
// (spec.md §4.5, §11): a one-byte tag plus a fixed-length key.
const AlgoRSA4096 byte = 1

// RSA4096KeyLen is the expected length, in bytes, of a valid reply key
// blob (the algorithm tag byte itself is not counted here -- see
// keyresponder.parseReplyKey for the exact on-wire accounting).
const RSA4096KeyLen = 512

// Identity is a local address/key-material pair the key responder may
// advertise.
type Identity struct {
	Address [packet.AddrSize]byte
	PubKey  []byte
}

// Keyring enumerates the identities a key responder may answer on behalf
// of.
type Keyring interface {
	Identities() []Identity
}
