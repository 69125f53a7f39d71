package bootstrap

import (
	"bytes"
	"sync"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/peernet/src/common"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const (
	addressPrefix = "addr_"
	nextIDKey     = "next_id"
)

// BadgerIDStore persists IDs so that a restarted coordinator gives returning
// nodes the IDs they had and never reuses one.
type BadgerIDStore struct {
	sync.Mutex
	db   *badger.DB
	path string
	len  int
}

// NewBadgerIDStore opens the database in path, creating it if needed.
func NewBadgerIDStore(path string, logger *logrus.Entry) (*BadgerIDStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerIDStore{
		db:   handle,
		path: path,
	}

	store.len, err = store.dbCount()
	if err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// StorePath returns the database directory.
func (s *BadgerIDStore) StorePath() string {
	return s.path
}

// Get implements IDStore.
func (s *BadgerIDStore) Get(addr string) (int64, error) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		id, err = getInt(txn, addressKey(addr))
		return err
	})
	if err != nil {
		if isDBKeyNotFound(err) {
			return -1, cm.NewStoreErr("IDStore", cm.KeyNotFound, addr)
		}
		return -1, err
	}
	return id, nil
}

// Assign implements IDStore.
func (s *BadgerIDStore) Assign(addr string) (int64, error) {
	s.Lock()
	defer s.Unlock()

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	id, err := getInt(tx, addressKey(addr))
	if err == nil {
		return id, nil
	}
	if !isDBKeyNotFound(err) {
		return -1, err
	}

	id, err = getInt(tx, []byte(nextIDKey))
	switch {
	case isDBKeyNotFound(err):
		// fresh database
		id = 0
	case err != nil:
		return -1, err
	}

	if err := setInt(tx, addressKey(addr), id); err != nil {
		return -1, err
	}
	if err := setInt(tx, []byte(nextIDKey), id+1); err != nil {
		return -1, err
	}
	if err := tx.Commit(); err != nil {
		return -1, err
	}

	s.len++
	return id, nil
}

// Len implements IDStore.
func (s *BadgerIDStore) Len() int {
	s.Lock()
	defer s.Unlock()
	return s.len
}

// Close implements IDStore.
func (s *BadgerIDStore) Close() error {
	return s.db.Close()
}

func (s *BadgerIDStore) dbCount() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(addressPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func addressKey(addr string) []byte {
	return []byte(addressPrefix + addr)
}

var valueHandle = new(codec.MsgpackHandle)

func getInt(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return -1, err
	}
	var v int64
	err = item.Value(func(data []byte) error {
		dec := codec.NewDecoder(bytes.NewReader(data), valueHandle)
		return dec.Decode(&v)
	})
	if err != nil {
		return -1, cm.NewStoreErr("IDStore", cm.Corrupted, string(key))
	}
	return v, nil
}

func setInt(txn *badger.Txn, key []byte, v int64) error {
	b := new(bytes.Buffer)
	enc := codec.NewEncoder(b, valueHandle)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return txn.Set(key, b.Bytes())
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}
