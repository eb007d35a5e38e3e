package trust

import (
	"fmt"
	"sync"

	"github.com/commonsnetwork/commonsync/src/common"
	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
)

const (
	anchorPrefix  = "anchor"
	archivePrefix = "archive"
)

func anchorKey(did string) []byte {
	return []byte(fmt.Sprintf("%s_%s", anchorPrefix, did))
}

func archiveKey(index int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", archivePrefix, index))
}

// BadgerRegistry is a write-through implementation of the Registry interface:
// an InmemRegistry for reads backed by a Badger database for persistence.
// Opening an existing database reloads current and archived anchors.
type BadgerRegistry struct {
	l            sync.Mutex
	inmem        *InmemRegistry
	db           *badger.DB
	path         string
	archiveCount int
}

// NewBadgerRegistry opens the database at path, creating it if needed, and
// loads any previously persisted anchors.
func NewBadgerRegistry(path string, logger *logrus.Entry) (*BadgerRegistry, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithFields(logrus.Fields{"ns": "badger"}))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	registry := &BadgerRegistry{
		inmem: NewInmemRegistry(),
		db:    handle,
		path:  path,
	}

	if err := registry.load(); err != nil {
		handle.Close()
		return nil, err
	}

	return registry, nil
}

// load reads all persisted records into the in-memory registry.
func (r *BadgerRegistry) load() error {
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(anchorPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				anchor := new(Anchor)
				if err := anchor.Unmarshal(data); err != nil {
					return err
				}

				r.inmem.anchors[anchor.DID] = anchor
				r.inmem.byPubKey[common.EncodeToString(anchor.PublicKey)] = anchor.DID

				return nil
			})
			if err != nil {
				return err
			}
		}

		prefix = []byte(archivePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				anchor := new(Anchor)
				if err := anchor.Unmarshal(data); err != nil {
					return err
				}

				r.inmem.archive = append(r.inmem.archive, anchor)
				r.inmem.archiveByPub[common.EncodeToString(anchor.PublicKey)] = anchor

				r.archiveCount++

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// Register implements the Registry interface.
func (r *BadgerRegistry) Register(did string, publicKey []byte, trustedBy []string) error {
	r.l.Lock()
	defer r.l.Unlock()

	old, existed := r.inmem.Anchor(did)

	if err := r.inmem.Register(did, publicKey, trustedBy); err != nil {
		return err
	}

	if existed {
		old.Revoked = true
		if err := r.dbSet(archiveKey(r.archiveCount), old); err != nil {
			return err
		}
		r.archiveCount++
	}

	anchor, _ := r.inmem.Anchor(did)

	return r.dbSet(anchorKey(did), anchor)
}

// Revoke implements the Registry interface.
func (r *BadgerRegistry) Revoke(did string) error {
	r.l.Lock()
	defer r.l.Unlock()

	if err := r.inmem.Revoke(did); err != nil {
		return err
	}

	anchor, _ := r.inmem.Anchor(did)

	return r.dbSet(anchorKey(did), anchor)
}

// Trust implements the Registry interface.
func (r *BadgerRegistry) Trust(did string, byDID string) error {
	r.l.Lock()
	defer r.l.Unlock()

	if err := r.inmem.Trust(did, byDID); err != nil {
		return err
	}

	anchor, ok := r.inmem.Anchor(did)
	if !ok {
		// endorsing an unknown DID is a no-op
		return nil
	}

	return r.dbSet(anchorKey(did), anchor)
}

// IsTrusted implements the Registry interface.
func (r *BadgerRegistry) IsTrusted(did string, minTrust int) bool {
	return r.inmem.IsTrusted(did, minTrust)
}

// Anchor implements the Registry interface.
func (r *BadgerRegistry) Anchor(did string) (*Anchor, bool) {
	return r.inmem.Anchor(did)
}

// AnchorByPublicKey implements the Registry interface.
func (r *BadgerRegistry) AnchorByPublicKey(publicKey []byte) (*Anchor, bool) {
	return r.inmem.AnchorByPublicKey(publicKey)
}

// Anchors implements the Registry interface.
func (r *BadgerRegistry) Anchors() []*Anchor {
	return r.inmem.Anchors()
}

// Archived returns a copy of the archived records.
func (r *BadgerRegistry) Archived() []*Anchor {
	return r.inmem.Archived()
}

// Close implements the Registry interface.
func (r *BadgerRegistry) Close() error {
	if err := r.inmem.Close(); err != nil {
		return err
	}
	return r.db.Close()
}

func (r *BadgerRegistry) dbSet(key []byte, anchor *Anchor) error {
	tx := r.db.NewTransaction(true)
	defer tx.Discard()

	val, err := anchor.Marshal()
	if err != nil {
		return err
	}

	if err := tx.Set(key, val); err != nil {
		return err
	}

	return tx.Commit()
}
