package keyring

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/cscouto/acache/internal/packet"
)

// Badger is a durable Keyring backed by a BadgerDB directory, keyed by
// address with the public key material as the value. It exists so
// `cmd/keyd` can survive restarts without re-announcing identities
// (SPEC_FULL.md §10.5); it does not back the packet cache, which stays
// in-memory per spec.md's Non-goals.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (creating if absent) a badger directory at dir.
func OpenBadger(dir string) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("keyring: open badger at %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

// Close releases the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Put registers or replaces an identity's public key material.
func (b *Badger) Put(id Identity) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(id.Address[:], id.PubKey)
	})
}

// Identities enumerates every stored identity. Errors while iterating are
// swallowed per-entry (a corrupt single record should not take down the
// whole responder); see the key responder's EncryptFailure handling for the
// analogous per-message error policy (spec.md §7).
func (b *Badger) Identities() []Identity {
	var out []Identity
	_ = b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if item.KeySize() != packet.AddrSize {
				continue
			}
			var id Identity
			copy(id.Address[:], item.KeyCopy(nil))
			val, err := item.ValueCopy(nil)
			if err != nil {
				continue
			}
			id.PubKey = val
			out = append(out, id)
		}
		return nil
	})
	return out
}
