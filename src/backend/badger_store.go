package backend

import (
	"fmt"

	"github.com/commonsnetwork/commonsync/src/event"
	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
)

const (
	eventPrefix = "event"
	orderPrefix = "order"
)

func eventKey(eventID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", eventPrefix, eventID))
}

func orderKey(index int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", orderPrefix, index))
}

// BadgerStore is a write-through implementation of the Store interface: an
// InmemStore for reads backed by a Badger database so history survives a
// restart. Opening an existing database reloads events in acceptance order.
type BadgerStore struct {
	inmem *InmemStore
	db    *badger.DB
	path  string
}

// NewBadgerStore opens the database at path, creating it if needed, and
// reloads any persisted history.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
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

	store := &BadgerStore{
		inmem: NewInmemStore(),
		db:    handle,
		path:  path,
	}

	if err := store.load(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// load replays the persisted order index into the in-memory store.
func (s *BadgerStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(orderPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			idBytes, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			item, err := txn.Get(eventKey(string(idBytes)))
			if err != nil {
				return err
			}

			eventBytes, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			ev := new(event.Event)
			if err := ev.Unmarshal(eventBytes); err != nil {
				return err
			}

			if err := s.inmem.Add(ev); err != nil {
				return err
			}
		}

		return nil
	})
}

// Get implements the Store interface.
func (s *BadgerStore) Get(eventID string) (*event.Event, error) {
	return s.inmem.Get(eventID)
}

// Add implements the Store interface.
func (s *BadgerStore) Add(ev *event.Event) error {
	index := s.inmem.Len()

	if err := s.inmem.Add(ev); err != nil {
		return err
	}

	val, err := ev.Marshal()
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(eventKey(ev.ID), val); err != nil {
		return err
	}
	if err := tx.Set(orderKey(index), []byte(ev.ID)); err != nil {
		return err
	}

	return tx.Commit()
}

// Has implements the Store interface.
func (s *BadgerStore) Has(eventID string) bool {
	return s.inmem.Has(eventID)
}

// List implements the Store interface.
func (s *BadgerStore) List() []*event.Event {
	return s.inmem.List()
}

// IDs implements the Store interface.
func (s *BadgerStore) IDs() []string {
	return s.inmem.IDs()
}

// Len implements the Store interface.
func (s *BadgerStore) Len() int {
	return s.inmem.Len()
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmem.Close(); err != nil {
		return err
	}
	return s.db.Close()
}
